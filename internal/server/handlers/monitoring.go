package handlers

import (
	"net/http"
	"time"

	"git.home.luguber.info/inful/coursebuilder/internal/version"
)

// QueueStatus reports the number of jobs waiting to run.
type QueueStatus interface {
	Length() int
}

// MonitoringHandlers contains monitoring-related HTTP handlers.
type MonitoringHandlers struct {
	queue     QueueStatus
	startTime time.Time
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Version     string    `json:"version"`
	Uptime      float64   `json:"uptime"`
	QueueLength int       `json:"queue_length"`
}

// NewMonitoringHandlers creates a new monitoring handlers instance. queue may be nil.
func NewMonitoringHandlers(queue QueueStatus) *MonitoringHandlers {
	return &MonitoringHandlers{queue: queue, startTime: time.Now()}
}

// HandleHealthCheck handles the health check endpoint.
func (h *MonitoringHandlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   version.Version,
		Uptime:    time.Since(h.startTime).Seconds(),
	}
	if h.queue != nil {
		health.QueueLength = h.queue.Length()
	}
	_ = writeJSONPretty(w, r, http.StatusOK, health)
}
