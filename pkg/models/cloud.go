package models

import (
	"time"

	"github.com/google/uuid"
)

// BatchStats summarizes a batch sent upstream
type BatchStats struct {
	TotalReadings     int     `json:"total_readings"`
	AnomaliesDetected int     `json:"anomalies_detected"`
	DevicesCount      int     `json:"devices_count"`
	AvgQualityScore   float64 `json:"avg_quality_score"`
}

// CloudBatch is the single-request envelope posted to the collection service
type CloudBatch struct {
	GatewayID      string           `json:"gateway_id"`
	GatewayVersion string           `json:"gateway_version"`
	SentAt         time.Time        `json:"sent_at"`
	Data           []EnrichedRecord `json:"data"`
	BatchStats     BatchStats       `json:"batch_stats"`
}

// CloudHeader is the per-message header published to a broker
type CloudHeader struct {
	UserUUID      string `json:"userUUID,omitempty"`
	DeviceID      string `json:"deviceId"`
	Location      string `json:"location"`
	Topic         string `json:"topic"`
	ShouldRequeue bool   `json:"shouldRequeue"`
	GatewayID     string `json:"gateway_id"`
}

// CloudMessage carries one record with derived values flattened into the metric list
type CloudMessage struct {
	RecordID uuid.UUID      `json:"record_id"`
	Header   CloudHeader    `json:"header"`
	Metrics  []SensorMetric `json:"metrics"`
	SentAt   time.Time      `json:"sent_at"`
	Quality  DataQuality    `json:"quality"`
}

// ComputeBatchStats aggregates the records of one batch
func ComputeBatchStats(records []EnrichedRecord) BatchStats {
	stats := BatchStats{TotalReadings: len(records)}
	if len(records) == 0 {
		return stats
	}

	devices := make(map[string]struct{})
	total := 0
	for i := range records {
		if records[i].Computed.IsAnomaly {
			stats.AnomaliesDetected++
		}
		devices[records[i].Header.DeviceID] = struct{}{}
		total += records[i].Quality.Score
	}
	stats.DevicesCount = len(devices)
	stats.AvgQualityScore = float64(total) / float64(len(records))
	return stats
}

// NewCloudBatch wraps records in the batch envelope
func NewCloudBatch(gatewayID, version string, records []EnrichedRecord, now time.Time) CloudBatch {
	return CloudBatch{
		GatewayID:      gatewayID,
		GatewayVersion: version,
		SentAt:         now.UTC(),
		Data:           records,
		BatchStats:     ComputeBatchStats(records),
	}
}

// NewCloudMessage builds the broker message for one record.
// A non-empty userUUID replaces the one reported by the device.
func NewCloudMessage(gatewayID, userUUID string, rec EnrichedRecord, now time.Time) CloudMessage {
	if userUUID == "" {
		userUUID = rec.Header.UserUUID
	}

	metrics := make([]SensorMetric, 0, len(rec.Metrics)+3)
	metrics = append(metrics, rec.Metrics...)
	if rec.Computed.HeatIndex != nil {
		metrics = append(metrics, SensorMetric{Measurement: "heat_index", Value: *rec.Computed.HeatIndex})
	}
	if rec.Computed.DewPoint != nil {
		metrics = append(metrics, SensorMetric{Measurement: "dew_point", Value: *rec.Computed.DewPoint})
	}
	if rec.Computed.ComfortLevel != nil {
		metrics = append(metrics, SensorMetric{Measurement: "comfort_level", Value: *rec.Computed.ComfortLevel})
	}

	return CloudMessage{
		RecordID: rec.ID,
		Header: CloudHeader{
			UserUUID:      userUUID,
			DeviceID:      rec.Header.DeviceID,
			Location:      rec.Header.Location,
			Topic:         rec.Header.Topic,
			ShouldRequeue: rec.Header.ShouldRequeue,
			GatewayID:     gatewayID,
		},
		Metrics: metrics,
		SentAt:  now.UTC(),
		Quality: rec.Quality,
	}
}
