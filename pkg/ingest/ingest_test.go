package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/sguter90/edgegateway/pkg/database"
	"github.com/sguter90/edgegateway/pkg/metrics"
	"github.com/sguter90/edgegateway/pkg/models"
	"github.com/sguter90/edgegateway/pkg/parser"
	"github.com/sguter90/edgegateway/pkg/processor"
)

type fakeTrigger struct {
	batchSize int
	mu        sync.Mutex
	calls     int
}

func (f *fakeTrigger) TriggerAsync() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return true
}

func (f *fakeTrigger) BatchSize() int { return f.batchSize }

type fakeFeed struct {
	events []string
}

func (f *fakeFeed) Publish(eventType string, payload any) {
	f.events = append(f.events, eventType)
}

type failingStore struct{}

func (failingStore) InsertRecord(ctx context.Context, rec *models.EnrichedRecord) error {
	return errors.New("database is locked")
}

func (failingStore) InsertRecords(ctx context.Context, recs []models.EnrichedRecord) error {
	return errors.New("database is locked")
}

func (failingStore) CountPending(ctx context.Context) (int, error) { return 0, nil }

func reading(device string, metrics ...models.SensorMetric) models.RawReading {
	return models.RawReading{
		Header:  models.SensorHeader{DeviceID: device, Location: "orchard", Topic: "sensors/" + device + "/data"},
		Metrics: metrics,
	}
}

func climate(temp, hum float64) []models.SensorMetric {
	return []models.SensorMetric{
		{Measurement: "temperature", Value: temp},
		{Measurement: "humidity", Value: hum},
	}
}

func newTestService(t *testing.T, batchSize int) (*Service, *database.DatabaseManager, *fakeTrigger, *fakeFeed) {
	t.Helper()

	dm := database.NewTestDatabaseManager(t)
	trig := &fakeTrigger{batchSize: batchSize}
	feed := &fakeFeed{}
	svc := NewService(dm, processor.New(), trig,
		WithFeed(feed),
		WithMetrics(metrics.New()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return svc, dm, trig, feed
}

func TestIngestOne(t *testing.T) {
	svc, dm, trig, feed := newTestService(t, 50)
	ctx := context.Background()

	rec, err := svc.IngestOne(ctx, SourceHTTP, reading("esp-1", climate(30, 60)...))
	if err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}
	if rec.Computed.HeatIndex == nil {
		t.Error("Expected heat index to be computed")
	}

	stored, err := dm.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Expected record to be stored: %v", err)
	}
	if stored.SyncState != models.SyncPending {
		t.Errorf("Expected pending record, got %s", stored.SyncState)
	}
	if trig.calls != 0 {
		t.Errorf("Expected no threshold trigger below batch size, got %d", trig.calls)
	}
	if len(feed.events) != 1 || feed.events[0] != "record" {
		t.Errorf("Expected one record event, got %v", feed.events)
	}
}

func TestIngestOne_ValidationNeverQueued(t *testing.T) {
	svc, dm, _, feed := newTestService(t, 50)
	ctx := context.Background()

	tests := []struct {
		name string
		raw  models.RawReading
	}{
		{"empty device", reading("", climate(20, 50)...)},
		{"device too long", reading(strings.Repeat("d", 51), climate(20, 50)...)},
		{"empty measurement", reading("esp-1", models.SensorMetric{Measurement: "", Value: 1})},
		{"no metrics", reading("esp-1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.IngestOne(ctx, SourceHTTP, tt.raw)
			var ve *models.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}

	pending, _ := dm.CountPending(ctx)
	if pending != 0 {
		t.Errorf("Expected nothing queued, got %d", pending)
	}
	if len(feed.events) != 0 {
		t.Errorf("Expected no feed events, got %d", len(feed.events))
	}
}

func TestIngestOne_ThresholdTrigger(t *testing.T) {
	svc, _, trig, _ := newTestService(t, 3)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := svc.IngestOne(ctx, SourceMQTT, reading(fmt.Sprintf("dev-%d", i), climate(20, 40)...)); err != nil {
			t.Fatalf("Failed to ingest: %v", err)
		}
	}

	// pending reaches 3 on the third reading and stays above on the fourth
	if trig.calls != 2 {
		t.Errorf("Expected 2 threshold triggers, got %d", trig.calls)
	}
}

func TestIngestBatch(t *testing.T) {
	svc, dm, _, feed := newTestService(t, 50)
	ctx := context.Background()

	raws := []models.RawReading{
		reading("a", climate(22, 45)...),
		reading("b", climate(80, 45)...),
		reading("c", climate(21, 50)...),
	}

	summary, err := svc.IngestBatch(ctx, SourceHTTP, raws)
	if err != nil {
		t.Fatalf("Failed to ingest batch: %v", err)
	}
	if summary.ProcessedCount != 3 {
		t.Errorf("Expected 3 processed, got %d", summary.ProcessedCount)
	}
	if summary.AnomaliesDetected != 1 {
		t.Errorf("Expected 1 anomaly, got %d", summary.AnomaliesDetected)
	}
	if summary.PendingSync != 3 {
		t.Errorf("Expected 3 pending, got %d", summary.PendingSync)
	}

	// the anomalous reading loses 25 points
	want := (100.0 + 75.0 + 100.0) / 3
	if summary.AverageQualityScore != want {
		t.Errorf("Expected average quality %.2f, got %.2f", want, summary.AverageQualityScore)
	}

	recent, _ := dm.GetRecentRecords(ctx, "", 10)
	if len(recent) != 3 {
		t.Errorf("Expected 3 stored records, got %d", len(recent))
	}
	if len(feed.events) != 3 {
		t.Errorf("Expected 3 feed events, got %d", len(feed.events))
	}
}

func TestIngestBatch_RejectsWholeBatch(t *testing.T) {
	svc, dm, _, _ := newTestService(t, 50)
	ctx := context.Background()

	raws := []models.RawReading{
		reading("ok", climate(20, 40)...),
		reading("", climate(20, 40)...),
	}
	_, err := svc.IngestBatch(ctx, SourceHTTP, raws)
	var ve *models.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected validation error, got %v", err)
	}
	if ve.Field != "readings[1].header.deviceId" {
		t.Errorf("Expected field readings[1].header.deviceId, got %s", ve.Field)
	}

	if _, err := svc.IngestBatch(ctx, SourceHTTP, nil); !errors.As(err, &ve) {
		t.Errorf("Expected validation error for empty batch, got %v", err)
	}

	tooMany := make([]models.RawReading, models.MaxBatchSize+1)
	for i := range tooMany {
		tooMany[i] = reading("d", climate(20, 40)...)
	}
	if _, err := svc.IngestBatch(ctx, SourceHTTP, tooMany); !errors.As(err, &ve) {
		t.Errorf("Expected validation error for oversized batch, got %v", err)
	}

	pending, _ := dm.CountPending(ctx)
	if pending != 0 {
		t.Errorf("Expected nothing queued, got %d", pending)
	}
}

func TestIngest_StorageError(t *testing.T) {
	trig := &fakeTrigger{batchSize: 1}
	svc := NewService(failingStore{}, processor.New(), trig, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	if _, err := svc.IngestOne(context.Background(), SourceHTTP, reading("a", climate(20, 40)...)); err == nil {
		t.Error("Expected storage error")
	}
	if _, err := svc.IngestBatch(context.Background(), SourceHTTP, []models.RawReading{reading("a", climate(20, 40)...)}); err == nil {
		t.Error("Expected storage error")
	}
	if trig.calls != 0 {
		t.Error("Expected no trigger when nothing was stored")
	}
}

func TestReject(t *testing.T) {
	svc, _, _, _ := newTestService(t, 50)

	// classification only; must not panic for any error kind
	svc.Reject(SourceMQTT, parser.ErrMalformedPayload)
	svc.Reject(SourceMQTT, &models.ValidationError{Field: "x", Reason: "y"})
	svc.Reject(SourceMQTT, errors.New("boom"))
}
