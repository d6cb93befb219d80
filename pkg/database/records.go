package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sguter90/edgegateway/pkg/models"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

const recordColumns = `id, device_id, location, topic, user_uuid, should_requeue,
    metrics, computed, quality_score, quality_issues, quality_corrected,
    metadata, gateway_ts, synced, sync_attempts`

const insertRecordQuery = `
    INSERT INTO enriched_records (
        id, device_id, location, topic, user_uuid, should_requeue,
        metrics, computed, is_anomaly, quality_score, quality_issues, quality_corrected,
        metadata, gateway_ts, synced, sync_attempts, created_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// InsertRecord appends a single record to the queue
func (dm *DatabaseManager) InsertRecord(ctx context.Context, rec *models.EnrichedRecord) error {
	args, err := dm.recordArgs(rec)
	if err != nil {
		return err
	}

	if _, err := dm.ExecWithHealthCheck(ctx, insertRecordQuery, args...); err != nil {
		return fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
	}
	return nil
}

// InsertRecords appends records in one transaction; either all become visible or none do
func (dm *DatabaseManager) InsertRecords(ctx context.Context, recs []models.EnrichedRecord) error {
	if len(recs) == 0 {
		return nil
	}

	return dm.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, dm.dialect.Rebind(insertRecordQuery))
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for i := range recs {
			args, err := dm.recordArgs(&recs[i])
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("failed to insert record %s: %w", recs[i].ID, err)
			}
		}
		return nil
	})
}

// GetPendingRecords returns up to limit unsynced records, oldest first
func (dm *DatabaseManager) GetPendingRecords(ctx context.Context, limit int) ([]models.EnrichedRecord, error) {
	if limit <= 0 {
		return []models.EnrichedRecord{}, nil
	}

	query := `SELECT ` + recordColumns + `
        FROM enriched_records
        WHERE synced = 0
        ORDER BY gateway_ts ASC, id ASC
        LIMIT ?`

	return dm.queryRecords(ctx, query, limit)
}

// CountPending returns the number of unsynced records
func (dm *DatabaseManager) CountPending(ctx context.Context) (int, error) {
	return dm.queryCount(ctx, `SELECT COUNT(*) FROM enriched_records WHERE synced = 0`)
}

// MarkSynced flags the given records as delivered. Ids that are unknown or
// already synced are skipped, so calling it twice has no further effect.
// It returns the number of records that changed state.
func (dm *DatabaseManager) MarkSynced(ctx context.Context, ids []uuid.UUID) (int64, error) {
	const query = `UPDATE enriched_records SET synced = 1, last_sync_attempt = ? WHERE id = ? AND synced = 0`
	return dm.updateEach(ctx, query, ids)
}

// RecordSyncFailure bumps the attempt counter of records that stayed pending
func (dm *DatabaseManager) RecordSyncFailure(ctx context.Context, ids []uuid.UUID) (int64, error) {
	const query = `UPDATE enriched_records
        SET sync_attempts = sync_attempts + 1, last_sync_attempt = ?
        WHERE id = ? AND synced = 0`
	return dm.updateEach(ctx, query, ids)
}

func (dm *DatabaseManager) updateEach(ctx context.Context, query string, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	now := dm.now().UnixNano()
	var affected int64

	err := dm.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, dm.dialect.Rebind(query))
		if err != nil {
			return fmt.Errorf("failed to prepare update: %w", err)
		}
		defer stmt.Close()

		for _, id := range ids {
			res, err := stmt.ExecContext(ctx, now, id.String())
			if err != nil {
				return fmt.Errorf("failed to update record %s: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read affected rows: %w", err)
			}
			affected += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// GetRecentRecords returns the newest records, optionally for a single device
func (dm *DatabaseManager) GetRecentRecords(ctx context.Context, deviceID string, limit int) ([]models.EnrichedRecord, error) {
	if limit <= 0 {
		return []models.EnrichedRecord{}, nil
	}

	query := `SELECT ` + recordColumns + ` FROM enriched_records`
	args := []any{}

	if deviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}

	query += ` ORDER BY gateway_ts DESC, id DESC LIMIT ?`
	args = append(args, limit)

	return dm.queryRecords(ctx, query, args...)
}

// GetRecord returns a single record by id
func (dm *DatabaseManager) GetRecord(ctx context.Context, id uuid.UUID) (*models.EnrichedRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM enriched_records WHERE id = ?`

	records, err := dm.queryRecords(ctx, query, id.String())
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return &records[0], nil
}

// PurgeSynced deletes synced records older than the given number of days.
// Pending records are never deleted regardless of age.
func (dm *DatabaseManager) PurgeSynced(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		return 0, fmt.Errorf("retention must not be negative, got %d days", olderThanDays)
	}

	cutoff := dm.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour).UnixNano()

	res, err := dm.ExecWithHealthCheck(ctx,
		`DELETE FROM enriched_records WHERE synced = 1 AND gateway_ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge synced records: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return deleted, nil
}

// Stats summarizes the queue
func (dm *DatabaseManager) Stats(ctx context.Context) (models.QueueStats, error) {
	query := `
        SELECT COUNT(*), COALESCE(SUM(synced), 0),
               MIN(CASE WHEN synced = 0 THEN gateway_ts END)
        FROM enriched_records`

	rows, err := dm.QueryWithHealthCheck(ctx, query)
	if err != nil {
		return models.QueueStats{}, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	var stats models.QueueStats
	if rows.Next() {
		var total, synced int64
		var oldest sql.NullInt64
		if err := rows.Scan(&total, &synced, &oldest); err != nil {
			return stats, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		stats.Total = int(total)
		stats.Synced = int(synced)
		stats.Pending = int(total - synced)
		if oldest.Valid {
			ts := time.Unix(0, oldest.Int64).UTC()
			stats.OldestPending = &ts
		}
	}
	return stats, rows.Err()
}

func (dm *DatabaseManager) queryCount(ctx context.Context, query string, args ...any) (int, error) {
	rows, err := dm.QueryWithHealthCheck(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	defer rows.Close()

	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to scan count: %w", err)
		}
	}
	return count, rows.Err()
}

func (dm *DatabaseManager) queryRecords(ctx context.Context, query string, args ...any) ([]models.EnrichedRecord, error) {
	rows, err := dm.QueryWithHealthCheck(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := []models.EnrichedRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func (dm *DatabaseManager) recordArgs(rec *models.EnrichedRecord) ([]any, error) {
	metrics, err := json.Marshal(rec.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metrics: %w", err)
	}
	computed, err := json.Marshal(rec.Computed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode computed metrics: %w", err)
	}
	issues := rec.Quality.Issues
	if issues == nil {
		issues = []string{}
	}
	issuesJSON, err := json.Marshal(issues)
	if err != nil {
		return nil, fmt.Errorf("failed to encode quality issues: %w", err)
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	return []any{
		rec.ID.String(),
		rec.Header.DeviceID,
		rec.Header.Location,
		rec.Header.Topic,
		rec.Header.UserUUID,
		boolToInt(rec.Header.ShouldRequeue),
		string(metrics),
		string(computed),
		boolToInt(rec.Computed.IsAnomaly),
		rec.Quality.Score,
		string(issuesJSON),
		boolToInt(rec.Quality.Corrected),
		string(metadata),
		rec.GatewayTimestamp.UnixNano(),
		boolToInt(rec.IsSynced()),
		rec.SyncAttempts,
		dm.now().UnixNano(),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (models.EnrichedRecord, error) {
	var (
		rec                                   models.EnrichedRecord
		id                                    string
		shouldRequeue, corrected, synced      int64
		metrics, computed, issues, metadata   string
		gatewayTS, qualityScore, syncAttempts int64
	)

	err := row.Scan(
		&id,
		&rec.Header.DeviceID,
		&rec.Header.Location,
		&rec.Header.Topic,
		&rec.Header.UserUUID,
		&shouldRequeue,
		&metrics,
		&computed,
		&qualityScore,
		&issues,
		&corrected,
		&metadata,
		&gatewayTS,
		&synced,
		&syncAttempts,
	)
	if err != nil {
		return rec, fmt.Errorf("failed to scan record: %w", err)
	}

	if rec.ID, err = uuid.Parse(strings.TrimSpace(id)); err != nil {
		return rec, fmt.Errorf("invalid record id %q: %w", id, err)
	}
	if err := json.Unmarshal([]byte(metrics), &rec.Metrics); err != nil {
		return rec, fmt.Errorf("failed to decode metrics of %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(computed), &rec.Computed); err != nil {
		return rec, fmt.Errorf("failed to decode computed metrics of %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(issues), &rec.Quality.Issues); err != nil {
		return rec, fmt.Errorf("failed to decode quality issues of %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
		return rec, fmt.Errorf("failed to decode metadata of %s: %w", id, err)
	}

	rec.Header.ShouldRequeue = shouldRequeue != 0
	rec.Quality.Score = int(qualityScore)
	rec.Quality.Corrected = corrected != 0
	rec.GatewayTimestamp = time.Unix(0, gatewayTS).UTC()
	rec.SyncAttempts = int(syncAttempts)
	rec.SyncState = models.SyncPending
	if synced != 0 {
		rec.SyncState = models.SyncSynced
	}

	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
