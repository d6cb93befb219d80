package database

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sguter90/edgegateway/pkg/models"
)

func testRecord(device string, ts time.Time) models.EnrichedRecord {
	hi, dp, cl := 24.1, 12.3, 88.0
	return models.EnrichedRecord{
		ID:               uuid.New(),
		Header:           models.SensorHeader{DeviceID: device, Location: "barn", Topic: "sensors/" + device + "/data"},
		Metrics:          []models.SensorMetric{{Measurement: "temperature", Value: 24.1}, {Measurement: "humidity", Value: 45}},
		GatewayTimestamp: ts.UTC(),
		Computed: models.ComputedMetrics{
			HeatIndex:    &hi,
			DewPoint:     &dp,
			ComfortLevel: &cl,
			Stats:        map[string]float64{"temperature_current": 24.1, "humidity_current": 45},
		},
		Quality:   models.DataQuality{Score: 100, Issues: []string{}},
		Metadata:  models.ProcessedMetadata{MetricsCount: 2, MeasurementTypes: []string{"temperature", "humidity"}},
		SyncState: models.SyncPending,
	}
}

func ids(records []models.EnrichedRecord) []uuid.UUID {
	out := make([]uuid.UUID, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestNewTestDatabaseManager(t *testing.T) {
	dm := NewTestDatabaseManager(t)

	if dm.GetDB() == nil {
		t.Error("Expected database connection to be initialized")
	}
	if dm.healthChecker == nil {
		t.Error("Expected health checker to be initialized")
	}
	if !dm.IsConnectionHealthy() {
		t.Error("Expected database connection to be healthy")
	}
}

func TestInsertAndGetRecord(t *testing.T) {
	dm := NewTestDatabaseManager(t)
	ctx := context.Background()

	rec := testRecord("dev-1", time.Now())
	rec.Header.ShouldRequeue = true
	rec.Header.UserUUID = "user-42"
	rec.Computed.IsAnomaly = true
	rec.Quality = models.DataQuality{Score: 45, Issues: []string{"anomalous reading detected", "NaN value in metric: pressure"}}
	rec.Metrics = append(rec.Metrics, models.SensorMetric{Measurement: "pressure", Value: math.NaN()})

	if err := dm.InsertRecord(ctx, &rec); err != nil {
		t.Fatalf("Failed to insert record: %v", err)
	}

	got, err := dm.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Failed to get record: %v", err)
	}

	if got.ID != rec.ID {
		t.Errorf("Expected id %s, got %s", rec.ID, got.ID)
	}
	if !got.GatewayTimestamp.Equal(rec.GatewayTimestamp) {
		t.Errorf("Expected timestamp %v, got %v", rec.GatewayTimestamp, got.GatewayTimestamp)
	}
	if got.Header != rec.Header {
		t.Errorf("Expected header %+v, got %+v", rec.Header, got.Header)
	}
	if len(got.Metrics) != 3 || !math.IsNaN(got.Metrics[2].Value) {
		t.Errorf("Expected NaN metric to survive storage, got %+v", got.Metrics)
	}
	if !got.Computed.IsAnomaly || got.Computed.HeatIndex == nil || *got.Computed.HeatIndex != 24.1 {
		t.Errorf("Unexpected computed metrics %+v", got.Computed)
	}
	if got.Quality.Score != 45 || len(got.Quality.Issues) != 2 {
		t.Errorf("Unexpected quality %+v", got.Quality)
	}
	if got.SyncState != models.SyncPending {
		t.Errorf("Expected pending, got %s", got.SyncState)
	}
}

func TestGetRecord_NotFound(t *testing.T) {
	dm := NewTestDatabaseManager(t)

	_, err := dm.GetRecord(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestGetPendingRecords_OrderAndLimit(t *testing.T) {
	dm := NewTestDatabaseManager(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	recs := []models.EnrichedRecord{
		testRecord("c", base.Add(3*time.Second)),
		testRecord("a", base.Add(1*time.Second)),
		testRecord("b", base.Add(2*time.Second)),
	}
	if err := dm.InsertRecords(ctx, recs); err != nil {
		t.Fatalf("Failed to insert records: %v", err)
	}

	pending, err := dm.GetPendingRecords(ctx, 2)
	if err != nil {
		t.Fatalf("Failed to get pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending records, got %d", len(pending))
	}
	if pending[0].Header.DeviceID != "a" || pending[1].Header.DeviceID != "b" {
		t.Errorf("Expected oldest first (a, b), got %s, %s", pending[0].Header.DeviceID, pending[1].Header.DeviceID)
	}

	none, err := dm.GetPendingRecords(ctx, 0)
	if err != nil || len(none) != 0 {
		t.Errorf("Expected empty result for zero limit, got %d records, err %v", len(none), err)
	}
}

func TestInsertRecords_Atomic(t *testing.T) {
	dm := NewTestDatabaseManager(t)
	ctx := context.Background()

	now := time.Now()
	first := testRecord("dev-1", now)
	dup := testRecord("dev-2", now)
	dup.ID = first.ID

	err := dm.InsertRecords(ctx, []models.EnrichedRecord{first, testRecord("dev-3", now), dup})
	if err == nil {
		t.Fatal("Expected duplicate id to fail the batch")
	}

	count, err := dm.CountPending(ctx)
	if err != nil {
		t.Fatalf("Failed to count pending: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no records visible after failed batch, got %d", count)
	}
}

func TestMarkSynced(t *testing.T) {
	dm := NewTestDatabaseManager(t)
	ctx := context.Background()

	now := time.Now()
	recs := []models.EnrichedRecord{testRecord("a", now), testRecord("b", now.Add(time.Second)), testRecord("c", now.Add(2*time.Second))}
	if err := dm.InsertRecords(ctx, recs); err != nil {
		t.Fatalf("Failed to insert records: %v", err)
	}

	marked, err := dm.MarkSynced(ctx, ids(recs[:2]))
	if err != nil {
		t.Fatalf("Failed to mark synced: %v", err)
	}
	if marked != 2 {
		t.Errorf("Expected 2 records marked, got %d", marked)
	}

	again, err := dm.MarkSynced(ctx, append(ids(recs[:2]), uuid.New()))
	if err != nil {
		t.Fatalf("Expected repeated mark to succeed: %v", err)
	}
	if again != 0 {
		t.Errorf("Expected repeated mark to change nothing, got %d", again)
	}

	pending, err := dm.GetPendingRecords(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to get pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != recs[2].ID {
		t.Errorf("Expected only record c pending, got %d records", len(pending))
	}

	got, err := dm.GetRecord(ctx, recs[0].ID)
	if err != nil {
		t.Fatalf("Failed to get record: %v", err)
	}
	if !got.IsSynced() {
		t.Error("Expected record to be synced")
	}

	if n, err := dm.MarkSynced(ctx, nil); err != nil || n != 0 {
		t.Errorf("Expected empty mark to be a no-op, got %d, %v", n, err)
	}
}

func TestRecordSyncFailure(t *testing.T) {
	dm := NewTestDatabaseManager(t)
	ctx := context.Background()

	rec := testRecord("a", time.Now())
	if err := dm.InsertRecord(ctx, &rec); err != nil {
		t.Fatalf("Failed to insert record: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := dm.RecordSyncFailure(ctx, []uuid.UUID{rec.ID}); err != nil {
			t.Fatalf("Failed to record failure: %v", err)
		}
	}

	got, err := dm.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Failed to get record: %v", err)
	}
	if got.SyncAttempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", got.SyncAttempts)
	}
	if got.IsSynced() {
		t.Error("Expected record to remain pending")
	}
}

func TestGetRecentRecords(t *testing.T) {
	dm := NewTestDatabaseManager(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	recs := []models.EnrichedRecord{
		testRecord("a", base),
		testRecord("b", base.Add(time.Second)),
		testRecord("a", base.Add(2*time.Second)),
		testRecord("a", base.Add(3*time.Second)),
	}
	if err := dm.InsertRecords(ctx, recs); err != nil {
		t.Fatalf("Failed to insert records: %v", err)
	}
	if _, err := dm.MarkSynced(ctx, []uuid.UUID{recs[3].ID}); err != nil {
		t.Fatalf("Failed to mark synced: %v", err)
	}

	recent, err := dm.GetRecentRecords(ctx, "a", 2)
	if err != nil {
		t.Fatalf("Failed to get recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(recent))
	}
	if recent[0].ID != recs[3].ID || recent[1].ID != recs[2].ID {
		t.Error("Expected most recent first, including synced records")
	}

	all, err := dm.GetRecentRecords(ctx, "", 10)
	if err != nil {
		t.Fatalf("Failed to get recent for all devices: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("Expected 4 records across devices, got %d", len(all))
	}
	if all[1].Header.DeviceID != "a" || all[2].Header.DeviceID != "b" {
		t.Errorf("Unexpected ordering across devices")
	}
}

func TestPurgeSynced(t *testing.T) {
	dm := NewTestDatabaseManager(t)
	ctx := context.Background()

	now := time.Now()
	oldSynced := testRecord("a", now.Add(-10*24*time.Hour))
	oldPending := testRecord("b", now.Add(-10*24*time.Hour))
	freshSynced := testRecord("c", now.Add(-24*time.Hour))

	if err := dm.InsertRecords(ctx, []models.EnrichedRecord{oldSynced, oldPending, freshSynced}); err != nil {
		t.Fatalf("Failed to insert records: %v", err)
	}
	if _, err := dm.MarkSynced(ctx, []uuid.UUID{oldSynced.ID, freshSynced.ID}); err != nil {
		t.Fatalf("Failed to mark synced: %v", err)
	}

	deleted, err := dm.PurgeSynced(ctx, 7)
	if err != nil {
		t.Fatalf("Failed to purge: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 record deleted, got %d", deleted)
	}

	if _, err := dm.GetRecord(ctx, oldSynced.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected old synced record to be purged, got %v", err)
	}
	if _, err := dm.GetRecord(ctx, oldPending.ID); err != nil {
		t.Errorf("Expected old pending record to survive, got %v", err)
	}
	if _, err := dm.GetRecord(ctx, freshSynced.ID); err != nil {
		t.Errorf("Expected recent synced record to survive, got %v", err)
	}

	if _, err := dm.PurgeSynced(ctx, -1); err == nil {
		t.Error("Expected negative retention to be rejected")
	}
}

func TestStats(t *testing.T) {
	dm := NewTestDatabaseManager(t)
	ctx := context.Background()

	empty, err := dm.Stats(ctx)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if empty.Total != 0 || empty.OldestPending != nil {
		t.Errorf("Expected empty stats, got %+v", empty)
	}

	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	recs := []models.EnrichedRecord{testRecord("a", base), testRecord("b", base.Add(time.Minute)), testRecord("c", base.Add(2*time.Minute))}
	if err := dm.InsertRecords(ctx, recs); err != nil {
		t.Fatalf("Failed to insert records: %v", err)
	}
	if _, err := dm.MarkSynced(ctx, []uuid.UUID{recs[0].ID}); err != nil {
		t.Fatalf("Failed to mark synced: %v", err)
	}

	stats, err := dm.Stats(ctx)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.Total != 3 || stats.Synced != 1 || stats.Pending != 2 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if stats.OldestPending == nil || !stats.OldestPending.Equal(recs[1].GatewayTimestamp) {
		t.Errorf("Expected oldest pending %v, got %v", recs[1].GatewayTimestamp, stats.OldestPending)
	}
}

func TestConcurrentAppendAndMark(t *testing.T) {
	dm := NewTestDatabaseManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := testRecord("concurrent", time.Now())
			if err := dm.InsertRecord(ctx, &rec); err != nil {
				errs <- err
				return
			}
			if _, err := dm.MarkSynced(ctx, []uuid.UUID{rec.ID}); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Concurrent operation failed: %v", err)
	}

	count, err := dm.CountPending(ctx)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected all records synced, got %d pending", count)
	}
}
