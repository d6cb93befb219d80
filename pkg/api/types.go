package api

import (
	"time"

	"github.com/sguter90/edgegateway/pkg/cloudsync"
	"github.com/sguter90/edgegateway/pkg/ingest"
	"github.com/sguter90/edgegateway/pkg/models"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"

	ComponentHealthy   = "healthy"
	ComponentUnhealthy = "unhealthy"
	ComponentDegraded  = "degraded"
	ComponentDisabled  = "disabled"
)

// Response is the envelope for successful calls
type Response[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
}

// ErrorResponse is the envelope for failed calls
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ReadingResponse answers a single ingest
type ReadingResponse = Response[ingest.ReadingAck]

// BatchResponse answers a batch ingest
type BatchResponse = Response[ingest.BatchSummary]

// RecentResponse lists recent records
type RecentResponse struct {
	Status string                  `json:"status"`
	Count  int                     `json:"count"`
	Data   []models.EnrichedRecord `json:"data"`
}

// Statistics describes the queue and sync settings
type Statistics struct {
	GatewayID        string            `json:"gateway_id"`
	PendingSync      int               `json:"pending_sync"`
	Synced           int               `json:"synced"`
	Total            int               `json:"total"`
	OldestPending    *time.Time        `json:"oldest_pending,omitempty"`
	SyncBatchSize    int               `json:"sync_batch_size"`
	SyncIntervalSecs int64             `json:"sync_interval_secs"`
	Transport        string            `json:"transport"`
	LastSync         *cloudsync.Result `json:"last_sync,omitempty"`
}

type StatsResponse struct {
	Status     string     `json:"status"`
	Statistics Statistics `json:"statistics"`
}

// SyncResponse reports a manually triggered cycle
type SyncResponse = Response[cloudsync.Result]

// HealthReport is served on /health
type HealthReport struct {
	Status     string            `json:"status"`
	GatewayID  string            `json:"gateway_id"`
	Version    string            `json:"version"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
	Metrics    HealthMetrics     `json:"metrics"`
}

type HealthMetrics struct {
	PendingSync int `json:"pending_sync"`
}
