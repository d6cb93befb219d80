// Package cloudsync forwards pending queue records to the collection
// service and marks the delivered ones as synced.
package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sguter90/edgegateway/pkg/models"
	"github.com/sguter90/edgegateway/pkg/pusher"
)

// Queue is the part of the durable queue the synchronizer works on
type Queue interface {
	GetPendingRecords(ctx context.Context, limit int) ([]models.EnrichedRecord, error)
	MarkSynced(ctx context.Context, ids []uuid.UUID) (int64, error)
	RecordSyncFailure(ctx context.Context, ids []uuid.UUID) (int64, error)
}

// Trigger names what started a cycle
type Trigger string

const (
	TriggerPeriodic  Trigger = "periodic"
	TriggerThreshold Trigger = "threshold"
	TriggerManual    Trigger = "manual"
)

// Result describes one sync cycle
type Result struct {
	Trigger    Trigger       `json:"trigger"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	Fetched    int           `json:"fetched"`
	Synced     int           `json:"synced"`
	Failed     int           `json:"failed"`
	Error      string        `json:"error,omitempty"`
}

// OK reports whether the cycle finished without failures
func (r Result) OK() bool {
	return r.Error == ""
}

// ErrClosed is returned by cycles requested after Close
var ErrClosed = errors.New("synchronizer closed")

// Synchronizer runs sync cycles. Cycles are mutually exclusive.
type Synchronizer struct {
	queue        Queue
	pusher       pusher.Pusher
	batchSize    int
	cycleTimeout time.Duration
	logger       *slog.Logger
	observers    []func(Result)

	mu              sync.Mutex
	thresholdQueued atomic.Bool
	wg              sync.WaitGroup
	baseCtx         context.Context
	cancel          context.CancelFunc

	statusMu sync.RWMutex
	last     *Result
}

// Option configures a Synchronizer
type Option func(*Synchronizer)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

// WithObserver registers a callback invoked after every cycle
func WithObserver(fn func(Result)) Option {
	return func(s *Synchronizer) {
		s.observers = append(s.observers, fn)
	}
}

// WithCycleTimeout bounds cycles started by TriggerAsync
func WithCycleTimeout(d time.Duration) Option {
	return func(s *Synchronizer) {
		s.cycleTimeout = d
	}
}

// NewSynchronizer creates a Synchronizer that sends at most batchSize records per cycle
func NewSynchronizer(queue Queue, p pusher.Pusher, batchSize int, opts ...Option) *Synchronizer {
	if batchSize <= 0 {
		batchSize = 50
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Synchronizer{
		queue:        queue,
		pusher:       p,
		batchSize:    batchSize,
		cycleTimeout: 5 * time.Minute,
		logger:       slog.Default(),
		baseCtx:      ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BatchSize returns the per-cycle record limit
func (s *Synchronizer) BatchSize() int {
	return s.batchSize
}

// TransportName returns the name of the outbound transport
func (s *Synchronizer) TransportName() string {
	return s.pusher.Name()
}

// SyncOnce runs one cycle: fetch pending records, push them, mark the
// delivered ones synced. Records that were not delivered stay pending and
// are picked up by a later cycle. The returned error is non-nil when any
// record in the batch failed.
func (s *Synchronizer) SyncOnce(ctx context.Context, trigger Trigger) (Result, error) {
	if s.baseCtx.Err() != nil {
		return Result{Trigger: trigger, Error: ErrClosed.Error()}, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.syncLocked(ctx, trigger)
}

func (s *Synchronizer) syncLocked(ctx context.Context, trigger Trigger) (res Result, err error) {
	res = Result{Trigger: trigger, StartedAt: time.Now().UTC()}

	defer func() {
		res.Duration = time.Since(res.StartedAt)
		res.DurationMS = res.Duration.Milliseconds()
		if err != nil {
			res.Error = err.Error()
		}
		s.finish(res)
	}()

	records, err := s.queue.GetPendingRecords(ctx, s.batchSize)
	if err != nil {
		return res, fmt.Errorf("failed to read pending records: %w", err)
	}
	res.Fetched = len(records)
	if len(records) == 0 {
		return res, nil
	}

	delivered, pushErr := s.pusher.Push(ctx, records)

	// Marking must not be abandoned because the caller's context ended
	// after the remote side accepted the batch.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if len(delivered) > 0 {
		if _, err := s.queue.MarkSynced(markCtx, delivered); err != nil {
			return res, fmt.Errorf("failed to mark %d records synced: %w", len(delivered), err)
		}
	}
	res.Synced = len(delivered)

	undelivered := missing(records, delivered)
	res.Failed = len(undelivered)
	if len(undelivered) > 0 {
		if _, err := s.queue.RecordSyncFailure(markCtx, undelivered); err != nil {
			s.logger.Warn("failed to record sync attempts", "records", len(undelivered), "error", err)
		}
	}

	if pushErr != nil {
		return res, fmt.Errorf("push via %s: %w", s.pusher.Name(), pushErr)
	}
	if res.Failed > 0 {
		return res, fmt.Errorf("push via %s: %d records not acknowledged", s.pusher.Name(), res.Failed)
	}
	return res, nil
}

func (s *Synchronizer) finish(res Result) {
	s.statusMu.Lock()
	s.last = &res
	s.statusMu.Unlock()

	attrs := []any{
		"trigger", res.Trigger,
		"fetched", res.Fetched,
		"synced", res.Synced,
		"failed", res.Failed,
		"duration", res.Duration,
	}
	switch {
	case !res.OK():
		s.logger.Warn("sync cycle failed", append(attrs, "error", res.Error)...)
	case res.Fetched > 0:
		s.logger.Info("sync cycle completed", attrs...)
	default:
		s.logger.Debug("sync cycle found nothing pending", attrs...)
	}

	for _, fn := range s.observers {
		fn(res)
	}
}

// TriggerAsync starts a threshold cycle in the background. While one such
// cycle is waiting for the lock, further triggers are dropped; the waiting
// cycle reads the queue afresh and covers them.
func (s *Synchronizer) TriggerAsync() bool {
	if s.baseCtx.Err() != nil {
		return false
	}
	if !s.thresholdQueued.CompareAndSwap(false, true) {
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.mu.Lock()
		defer s.mu.Unlock()
		s.thresholdQueued.Store(false)

		if s.baseCtx.Err() != nil {
			return
		}

		ctx, cancel := context.WithTimeout(s.baseCtx, s.cycleTimeout)
		defer cancel()

		// errors are logged by finish
		s.syncLocked(ctx, TriggerThreshold)
	}()
	return true
}

// LastResult returns the outcome of the most recent cycle
func (s *Synchronizer) LastResult() (Result, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()

	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

// Wait blocks until background cycles have finished
func (s *Synchronizer) Wait() {
	s.wg.Wait()
}

// Close stops background cycles and waits for them
func (s *Synchronizer) Close() {
	s.cancel()
	s.wg.Wait()
}

func missing(records []models.EnrichedRecord, delivered []uuid.UUID) []uuid.UUID {
	ok := make(map[uuid.UUID]struct{}, len(delivered))
	for _, id := range delivered {
		ok[id] = struct{}{}
	}

	var out []uuid.UUID
	for _, rec := range records {
		if _, found := ok[rec.ID]; !found {
			out = append(out, rec.ID)
		}
	}
	return out
}
