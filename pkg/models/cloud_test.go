package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
)

func ptr(f float64) *float64 { return &f }

func sampleRecord(device string, score int, anomaly bool) EnrichedRecord {
	return EnrichedRecord{
		ID:      uuid.New(),
		Header:  SensorHeader{DeviceID: device, Location: "lab", Topic: "t", UserUUID: "device-user"},
		Metrics: []SensorMetric{{Measurement: "temperature", Value: 30}, {Measurement: "humidity", Value: 60}},
		Computed: ComputedMetrics{
			HeatIndex:    ptr(32.1),
			DewPoint:     ptr(21.4),
			ComfortLevel: ptr(50),
			IsAnomaly:    anomaly,
		},
		Quality:   DataQuality{Score: score, Issues: []string{}},
		SyncState: SyncPending,
	}
}

func TestComputeBatchStats(t *testing.T) {
	records := []EnrichedRecord{
		sampleRecord("a", 100, false),
		sampleRecord("b", 75, true),
		sampleRecord("a", 50, true),
	}

	stats := ComputeBatchStats(records)

	if stats.TotalReadings != 3 {
		t.Errorf("Expected 3 readings, got %d", stats.TotalReadings)
	}
	if stats.AnomaliesDetected != 2 {
		t.Errorf("Expected 2 anomalies, got %d", stats.AnomaliesDetected)
	}
	if stats.DevicesCount != 2 {
		t.Errorf("Expected 2 devices, got %d", stats.DevicesCount)
	}
	if stats.AvgQualityScore != 75 {
		t.Errorf("Expected average 75, got %v", stats.AvgQualityScore)
	}

	empty := ComputeBatchStats(nil)
	if empty.TotalReadings != 0 || empty.AvgQualityScore != 0 {
		t.Errorf("Expected zero stats for empty batch, got %+v", empty)
	}
}

func TestNewCloudMessage(t *testing.T) {
	rec := sampleRecord("dev-9", 100, false)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	msg := NewCloudMessage("gw-1", "", rec, now)

	if msg.RecordID != rec.ID {
		t.Errorf("Expected record id %s, got %s", rec.ID, msg.RecordID)
	}
	if msg.Header.GatewayID != "gw-1" || msg.Header.DeviceID != "dev-9" {
		t.Errorf("Unexpected header %+v", msg.Header)
	}
	if msg.Header.UserUUID != "device-user" {
		t.Errorf("Expected device user uuid to pass through, got %s", msg.Header.UserUUID)
	}
	if len(msg.Metrics) != 5 {
		t.Fatalf("Expected 5 metrics (2 original + 3 derived), got %d", len(msg.Metrics))
	}
	if msg.Metrics[2].Measurement != "heat_index" || msg.Metrics[4].Measurement != "comfort_level" {
		t.Errorf("Unexpected derived metric order: %+v", msg.Metrics)
	}

	overridden := NewCloudMessage("gw-1", "owner-uuid", rec, now)
	if overridden.Header.UserUUID != "owner-uuid" {
		t.Errorf("Expected configured user uuid, got %s", overridden.Header.UserUUID)
	}

	rec.Computed = ComputedMetrics{}
	bare := NewCloudMessage("gw-1", "", rec, now)
	if len(bare.Metrics) != 2 {
		t.Errorf("Expected only original metrics without derived values, got %d", len(bare.Metrics))
	}
}

func TestEnrichedRecord_JSONRoundTripWithNonFiniteStats(t *testing.T) {
	rec := sampleRecord("dev-1", 45, true)
	rec.Metrics = append(rec.Metrics, SensorMetric{Measurement: "pressure", Value: math.NaN()})
	rec.Computed.Stats = map[string]float64{"pressure_current": math.NaN(), "temperature_current": 30}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Failed to marshal record: %v", err)
	}

	var decoded EnrichedRecord
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal record: %v", err)
	}
	if decoded.Computed.HeatIndex == nil || *decoded.Computed.HeatIndex != 32.1 {
		t.Errorf("Expected heat index 32.1, got %v", decoded.Computed.HeatIndex)
	}
	if !math.IsNaN(decoded.Computed.Stats["pressure_current"]) {
		t.Errorf("Expected NaN stat, got %v", decoded.Computed.Stats["pressure_current"])
	}
	if !decoded.Computed.IsAnomaly {
		t.Error("Expected anomaly flag to survive round trip")
	}
}
