package drive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/drive/v3"
)

const (
	// ChannelTTL is the lifetime requested for push channels.
	ChannelTTL = 7 * 24 * time.Hour
	// RenewBefore is how long before expiry a channel is replaced.
	RenewBefore = 24 * time.Hour

	retryInterval = 5 * time.Minute
)

// ErrNoWebhookAddress is returned when push notifications are requested without a callback URL.
var ErrNoWebhookAddress = errors.New("drive: webhook address not configured")

// Channel is an active Changes API push channel.
type Channel struct {
	ID         string
	ResourceID string
	Expiration time.Time
}

// Watcher keeps a Changes API push channel registered against a webhook address.
type Watcher struct {
	svc     *drive.Service
	address string
	log     *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	channels map[string]Channel
}

// NewWatcher returns a watcher that registers channels delivering to address.
func NewWatcher(svc *drive.Service, address string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		svc:      svc,
		address:  address,
		log:      logger,
		now:      time.Now,
		channels: make(map[string]Channel),
	}
}

// Start registers a new push channel starting at the current change token.
func (w *Watcher) Start(ctx context.Context) (Channel, error) {
	if w.address == "" {
		return Channel{}, ErrNoWebhookAddress
	}

	tok, err := w.svc.Changes.GetStartPageToken().Context(ctx).Do()
	if err != nil {
		return Channel{}, fmt.Errorf("get start page token: %w", WrapError(err))
	}
	if tok.StartPageToken == "" {
		return Channel{}, errors.New("drive: empty start page token")
	}

	req := &drive.Channel{
		Id:         uuid.NewString(),
		Type:       "web_hook",
		Address:    w.address,
		Expiration: w.now().Add(ChannelTTL).UnixMilli(),
	}
	res, err := w.svc.Changes.Watch(tok.StartPageToken, req).Context(ctx).Do()
	if err != nil {
		return Channel{}, fmt.Errorf("watch changes: %w", WrapError(err))
	}
	if res.ResourceId == "" {
		return Channel{}, errors.New("drive: watch response has no resource id")
	}

	ch := Channel{ID: req.Id, ResourceID: res.ResourceId, Expiration: time.UnixMilli(res.Expiration)}
	if res.Expiration == 0 {
		ch.Expiration = time.UnixMilli(req.Expiration)
	}

	w.mu.Lock()
	w.channels[ch.ID] = ch
	w.mu.Unlock()

	w.log.Info("drive push channel registered",
		"channel_id", ch.ID,
		"resource_id", ch.ResourceID,
		"expires", ch.Expiration,
	)
	return ch, nil
}

// Stop closes a channel registered by this watcher.
func (w *Watcher) Stop(ctx context.Context, id string) error {
	w.mu.Lock()
	ch, ok := w.channels[id]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}

	err := w.svc.Channels.Stop(&drive.Channel{Id: ch.ID, ResourceId: ch.ResourceID}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("stop channel %s: %w", id, WrapError(err))
	}

	w.mu.Lock()
	delete(w.channels, id)
	w.mu.Unlock()

	w.log.Info("drive push channel stopped", "channel_id", id)
	return nil
}

// StopAll closes every channel, returning the joined errors.
func (w *Watcher) StopAll(ctx context.Context) error {
	var errs []error
	for _, ch := range w.Channels() {
		if err := w.Stop(ctx, ch.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Channels returns the active channels ordered by expiry.
func (w *Watcher) Channels() []Channel {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Channel, 0, len(w.channels))
	for _, ch := range w.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Expiration.Before(out[j].Expiration) })
	return out
}

// Run keeps one channel alive until ctx is done: it registers a channel,
// replaces it RenewBefore its expiry and stops everything on shutdown.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := w.StopAll(stopCtx); err != nil {
			w.log.Warn("failed to stop drive push channels", "error", err)
		}
	}()

	var current *Channel
	for {
		wait := retryInterval
		ch, err := w.Start(ctx)
		switch {
		case err == nil:
			if current != nil {
				if err := w.Stop(ctx, current.ID); err != nil {
					w.log.Warn("failed to stop replaced channel", "channel_id", current.ID, "error", err)
				}
			}
			current = &ch
			wait = ch.Expiration.Add(-RenewBefore).Sub(w.now())
			if wait <= 0 {
				wait = ch.Expiration.Sub(w.now()) / 2
			}
		case errors.Is(err, ErrNoWebhookAddress):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			w.log.Error("failed to register drive push channel", "error", err, "retry_in", retryInterval)
		}

		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
