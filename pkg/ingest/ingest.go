// Package ingest is the path shared by every ingress transport: validate,
// enrich, persist, and nudge the synchronizer when the backlog is large.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sguter90/edgegateway/pkg/livefeed"
	"github.com/sguter90/edgegateway/pkg/metrics"
	"github.com/sguter90/edgegateway/pkg/models"
	"github.com/sguter90/edgegateway/pkg/parser"
	"github.com/sguter90/edgegateway/pkg/processor"
)

// Source names the transport a reading arrived on
type Source string

const (
	SourceHTTP Source = "http"
	SourceMQTT Source = "mqtt"
)

// Store persists enriched records
type Store interface {
	InsertRecord(ctx context.Context, rec *models.EnrichedRecord) error
	InsertRecords(ctx context.Context, recs []models.EnrichedRecord) error
	CountPending(ctx context.Context) (int, error)
}

// SyncTrigger starts a background sync cycle
type SyncTrigger interface {
	TriggerAsync() bool
	BatchSize() int
}

// Publisher receives every persisted record
type Publisher interface {
	Publish(eventType string, payload any)
}

// BatchSummary is the outcome of a batch ingest
type BatchSummary struct {
	ProcessedCount      int                     `json:"processed_count"`
	AnomaliesDetected   int                     `json:"anomalies_detected"`
	AverageQualityScore float64                 `json:"average_quality_score"`
	PendingSync         int                     `json:"pending_sync"`
	Records             []models.EnrichedRecord `json:"-"`
}

type Service struct {
	store     Store
	processor *processor.Processor
	trigger   SyncTrigger
	feed      Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Service)

func WithFeed(feed Publisher) Option {
	return func(s *Service) {
		s.feed = feed
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates the ingest path. trigger may be nil to disable threshold syncs.
func NewService(store Store, proc *processor.Processor, trigger SyncTrigger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		processor: proc,
		trigger:   trigger,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestOne validates, enriches and stores a single reading
func (s *Service) IngestOne(ctx context.Context, source Source, raw models.RawReading) (models.EnrichedRecord, error) {
	if err := raw.Validate(); err != nil {
		s.Reject(source, err)
		return models.EnrichedRecord{}, err
	}

	rec := s.processor.Process(raw)
	if err := s.store.InsertRecord(ctx, &rec); err != nil {
		s.metrics.ReadingRejected(string(source), "storage")
		return models.EnrichedRecord{}, fmt.Errorf("failed to store reading: %w", err)
	}

	s.accepted(source, rec)
	s.afterPersist(ctx)

	s.logger.Debug("reading ingested",
		"source", source,
		"id", rec.ID,
		"device_id", rec.Header.DeviceID,
		"quality", rec.Quality.Score,
		"anomaly", rec.Computed.IsAnomaly,
	)
	return rec, nil
}

// IngestBatch validates all readings first; one invalid reading rejects the
// whole batch. Persistence is atomic.
func (s *Service) IngestBatch(ctx context.Context, source Source, raws []models.RawReading) (BatchSummary, error) {
	if err := models.ValidateBatch(raws); err != nil {
		s.Reject(source, err)
		return BatchSummary{}, err
	}

	records := s.processor.ProcessBatch(raws)
	if err := s.store.InsertRecords(ctx, records); err != nil {
		s.metrics.ReadingRejected(string(source), "storage")
		return BatchSummary{}, fmt.Errorf("failed to store batch: %w", err)
	}

	summary := BatchSummary{
		ProcessedCount: len(records),
		Records:        records,
	}
	total := 0
	for _, rec := range records {
		if rec.Computed.IsAnomaly {
			summary.AnomaliesDetected++
		}
		total += rec.Quality.Score
		s.accepted(source, rec)
	}
	if len(records) > 0 {
		summary.AverageQualityScore = float64(total) / float64(len(records))
	}
	summary.PendingSync = s.afterPersist(ctx)

	s.logger.Info("batch ingested",
		"source", source,
		"count", summary.ProcessedCount,
		"anomalies", summary.AnomaliesDetected,
		"pending", summary.PendingSync,
	)
	return summary, nil
}

// Reject records a reading that never reached the queue
func (s *Service) Reject(source Source, err error) {
	reason := "internal"
	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		reason = "validation"
	case errors.Is(err, parser.ErrMalformedPayload):
		reason = "malformed"
	}
	s.metrics.ReadingRejected(string(source), reason)
}

func (s *Service) accepted(source Source, rec models.EnrichedRecord) {
	s.metrics.ReadingIngested(string(source), rec.Computed.IsAnomaly, rec.Quality.Score)
	if s.feed != nil {
		s.feed.Publish(livefeed.EventRecord, rec)
	}
}

// afterPersist refreshes the backlog size and fires a threshold sync when
// it reaches the batch size. The record is already durable, so failures
// here are only logged.
func (s *Service) afterPersist(ctx context.Context) int {
	pending, err := s.store.CountPending(ctx)
	if err != nil {
		s.logger.Warn("failed to count pending records", "error", err)
		return 0
	}
	s.metrics.SetPending(pending)

	if s.trigger != nil && pending >= s.trigger.BatchSize() {
		if s.trigger.TriggerAsync() {
			s.logger.Debug("threshold sync triggered", "pending", pending)
		}
	}
	return pending
}

// ReadingAck is returned to the sender of a single reading
type ReadingAck struct {
	ID               uuid.UUID              `json:"id"`
	GatewayTimestamp time.Time              `json:"gateway_timestamp"`
	ComputedMetrics  models.ComputedMetrics `json:"computed_metrics"`
	QualityScore     int                    `json:"quality_score"`
}

func NewReadingAck(rec models.EnrichedRecord) ReadingAck {
	return ReadingAck{
		ID:               rec.ID,
		GatewayTimestamp: rec.GatewayTimestamp,
		ComputedMetrics:  rec.Computed,
		QualityScore:     rec.Quality.Score,
	}
}
