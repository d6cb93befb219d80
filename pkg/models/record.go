package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncState tracks whether a record has been delivered upstream
type SyncState string

const (
	SyncPending SyncState = "pending"
	SyncSynced  SyncState = "synced"
)

// ComputedMetrics holds values derived at the gateway.
// HeatIndex, DewPoint and ComfortLevel are set together or not at all.
type ComputedMetrics struct {
	HeatIndex    *float64
	DewPoint     *float64
	ComfortLevel *float64
	IsAnomaly    bool
	Stats        map[string]float64
}

type computedJSON struct {
	HeatIndex    any            `json:"heat_index"`
	DewPoint     any            `json:"dew_point"`
	ComfortLevel any            `json:"comfort_level"`
	IsAnomaly    bool           `json:"is_anomaly"`
	Stats        map[string]any `json:"stats,omitempty"`
}

func (c ComputedMetrics) MarshalJSON() ([]byte, error) {
	out := computedJSON{
		HeatIndex:    encodeOptional(c.HeatIndex),
		DewPoint:     encodeOptional(c.DewPoint),
		ComfortLevel: encodeOptional(c.ComfortLevel),
		IsAnomaly:    c.IsAnomaly,
	}
	if len(c.Stats) > 0 {
		out.Stats = make(map[string]any, len(c.Stats))
		for k, v := range c.Stats {
			out.Stats[k] = encodeFloat(v)
		}
	}
	return json.Marshal(out)
}

func (c *ComputedMetrics) UnmarshalJSON(data []byte) error {
	var aux struct {
		HeatIndex    json.RawMessage            `json:"heat_index"`
		DewPoint     json.RawMessage            `json:"dew_point"`
		ComfortLevel json.RawMessage            `json:"comfort_level"`
		IsAnomaly    bool                       `json:"is_anomaly"`
		Stats        map[string]json.RawMessage `json:"stats"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if c.HeatIndex, err = decodeOptional(aux.HeatIndex); err != nil {
		return fmt.Errorf("heat_index: %w", err)
	}
	if c.DewPoint, err = decodeOptional(aux.DewPoint); err != nil {
		return fmt.Errorf("dew_point: %w", err)
	}
	if c.ComfortLevel, err = decodeOptional(aux.ComfortLevel); err != nil {
		return fmt.Errorf("comfort_level: %w", err)
	}
	c.IsAnomaly = aux.IsAnomaly

	c.Stats = make(map[string]float64, len(aux.Stats))
	for k, raw := range aux.Stats {
		v, err := decodeFloat(raw)
		if err != nil {
			return fmt.Errorf("stats[%s]: %w", k, err)
		}
		c.Stats[k] = v
	}
	return nil
}

// DataQuality is the result of the quality assessment
type DataQuality struct {
	Score     int      `json:"score"`
	Issues    []string `json:"issues"`
	Corrected bool     `json:"corrected"`
}

// ProcessedMetadata summarizes the metric set of a record
type ProcessedMetadata struct {
	MetricsCount     int      `json:"metrics_count"`
	MeasurementTypes []string `json:"measurement_types"`
	ShouldRequeue    bool     `json:"should_requeue"`
}

// EnrichedRecord is a reading after enrichment, as stored in the queue
type EnrichedRecord struct {
	ID               uuid.UUID         `json:"id"`
	Header           SensorHeader      `json:"header"`
	Metrics          []SensorMetric    `json:"metrics"`
	GatewayTimestamp time.Time         `json:"gateway_timestamp"`
	Computed         ComputedMetrics   `json:"computed_metrics"`
	Quality          DataQuality       `json:"data_quality"`
	Metadata         ProcessedMetadata `json:"metadata"`
	SyncState        SyncState         `json:"sync_state"`
	SyncAttempts     int               `json:"sync_attempts"`
}

// IsSynced reports whether the record was delivered upstream
func (r *EnrichedRecord) IsSynced() bool {
	return r.SyncState == SyncSynced
}

// QueueStats summarizes the durable queue
type QueueStats struct {
	Pending       int        `json:"pending"`
	Synced        int        `json:"synced"`
	Total         int        `json:"total"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}
