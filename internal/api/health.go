package api

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse represents the JSON response from the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Index     string `json:"index"`
	Catalog   string `json:"catalog,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HealthChecker is implemented by the vector index.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Pinger is implemented by the gallery catalog.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler creates an HTTP handler for the /health endpoint.
// The catalog is only checked when one is configured.
func NewHealthHandler(index HealthChecker, cat Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		response := HealthResponse{
			Status:    "healthy",
			Index:     "connected",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		status := http.StatusOK

		if err := index.Health(ctx); err != nil {
			response.Status = "unhealthy"
			response.Index = "disconnected"
			status = http.StatusServiceUnavailable
		}
		if cat != nil {
			response.Catalog = "connected"
			if err := cat.Ping(ctx); err != nil {
				response.Status = "unhealthy"
				response.Catalog = "disconnected"
				status = http.StatusServiceUnavailable
			}
		}

		writeJSON(w, status, response)
	}
}
