// Package processor enriches raw sensor readings with derived metrics,
// anomaly flags and a quality score before they are queued.
package processor

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sguter90/edgegateway/pkg/models"
)

// Processor turns raw readings into enriched records.
// It holds no mutable state and is safe for concurrent use.
type Processor struct {
	now   func() time.Time
	newID func() uuid.UUID
}

// Option configures a Processor
type Option func(*Processor)

// WithClock overrides the gateway timestamp source
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

// WithIDGenerator overrides record id generation
func WithIDGenerator(newID func() uuid.UUID) Option {
	return func(p *Processor) {
		p.newID = newID
	}
}

// New creates a Processor
func New(opts ...Option) *Processor {
	p := &Processor{
		now:   time.Now,
		newID: uuid.New,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process enriches a single reading
func (p *Processor) Process(raw models.RawReading) models.EnrichedRecord {
	metrics := make([]models.SensorMetric, len(raw.Metrics))
	copy(metrics, raw.Metrics)

	computed := computeMetrics(metrics)

	return models.EnrichedRecord{
		ID:               p.newID(),
		Header:           raw.Header,
		Metrics:          metrics,
		GatewayTimestamp: p.now().UTC(),
		Computed:         computed,
		Quality:          AssessQuality(raw, computed.IsAnomaly),
		Metadata: models.ProcessedMetadata{
			MetricsCount:     len(metrics),
			MeasurementTypes: measurementTypes(metrics),
			ShouldRequeue:    raw.Header.ShouldRequeue,
		},
		SyncState: models.SyncPending,
	}
}

// ProcessBatch enriches readings independently, preserving input order
func (p *Processor) ProcessBatch(raws []models.RawReading) []models.EnrichedRecord {
	records := make([]models.EnrichedRecord, 0, len(raws))
	for _, raw := range raws {
		records = append(records, p.Process(raw))
	}
	return records
}

func computeMetrics(metrics []models.SensorMetric) models.ComputedMetrics {
	computed := models.ComputedMetrics{
		Stats: make(map[string]float64, len(metrics)),
	}

	temp, hasTemp := findMetric(metrics, isTemperature)
	hum, hasHum := findMetric(metrics, isHumidity)
	if hasTemp && hasHum {
		hi := HeatIndex(temp, hum)
		dp := DewPoint(temp, hum)
		cl := ComfortLevel(temp, hum)
		computed.HeatIndex = &hi
		computed.DewPoint = &dp
		computed.ComfortLevel = &cl
	}

	for _, m := range metrics {
		computed.Stats[fmt.Sprintf("%s_current", m.Measurement)] = m.Value
	}

	computed.IsAnomaly = DetectAnomaly(metrics)
	return computed
}

// measurementTypes lists distinct measurement names in first-seen order
func measurementTypes(metrics []models.SensorMetric) []string {
	seen := make(map[string]struct{}, len(metrics))
	types := make([]string, 0, len(metrics))
	for _, m := range metrics {
		if _, ok := seen[m.Measurement]; ok {
			continue
		}
		seen[m.Measurement] = struct{}{}
		types = append(types, m.Measurement)
	}
	return types
}
