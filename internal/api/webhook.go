package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// maxNotificationBody bounds how much of a push notification body is read.
const maxNotificationBody = 64 << 10

// Notifier accepts drive change notifications. Notify must not block.
type Notifier interface {
	Notify(resourceState string) bool
}

type driveNotification struct {
	Kind          string `json:"kind"`
	ID            string `json:"id"`
	ResourceID    string `json:"resourceId"`
	ResourceState string `json:"resourceState"`
	ChannelID     string `json:"channelId"`
}

// NewWebhookVerifyHandler answers the endpoint verification GET by echoing
// the challenge parameter.
func NewWebhookVerifyHandler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if challenge := r.URL.Query().Get("challenge"); challenge != "" {
			logger.Info("drive webhook verification received")
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = io.WriteString(w, challenge)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// NewWebhookHandler acknowledges a push notification at once and hands it
// to the notifier. Unreadable bodies are still acknowledged with 200 so
// the sender does not retry.
func NewWebhookHandler(n Notifier, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var note driveNotification
		body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBody))
		if err != nil {
			logger.Warn("failed to read drive notification", "error", err)
		} else if len(body) > 0 {
			if err := json.Unmarshal(body, &note); err != nil {
				logger.Debug("drive notification body is not JSON", "error", err)
			}
		}

		state := note.ResourceState
		if state == "" {
			state = r.Header.Get("X-Goog-Resource-State")
		}
		if state == "" {
			state = "unknown"
		}

		queued := n.Notify(state)
		logger.Info("drive notification received",
			"resource_state", state,
			"channel", r.Header.Get("X-Goog-Channel-ID"),
			"queued", queued)

		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "accepted",
			"message": "Notification queued for processing",
		})
	}
}
