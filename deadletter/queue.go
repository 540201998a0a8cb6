// Package deadletter persists failed webhook events and drives their
// recovery: classification, exponential-backoff retries through a bounded
// worker pool, TTL expiry, and the manual operator surface.
package deadletter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/coinhaven/depositd/core"
)

// ErrBatchInFlight reports an overlapping trigger; the running batch owns
// the claimed events and a second pass must not double-process them.
var ErrBatchInFlight = errors.New("deadletter: retry batch already in flight")

// Replayer re-runs the full ingestion pipeline for a captured payload.
type Replayer interface {
	Replay(ctx context.Context, payload []byte) error
}

type Options struct {
	MaxRetries    int
	RetryBase     time.Duration
	MaxRetryDelay time.Duration
	MaxAge        time.Duration
	BatchSize     int
	Workers       int
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 5 * time.Second
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = 15 * time.Minute
	}
	if o.MaxAge <= 0 {
		o.MaxAge = 7 * 24 * time.Hour
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.Workers <= 0 {
		o.Workers = 3
	}
	return o
}

// BatchSummary reports one retry-loop pass.
type BatchSummary struct {
	Claimed     int
	Succeeded   int
	Rescheduled int
	Failed      int
}

// RetryResult is the per-event outcome of a manual drain.
type RetryResult struct {
	EventID string
	Success bool
	Error   string
}

type Queue struct {
	store   core.DeadLetterStore
	replay  Replayer
	logger  core.Logger
	options Options

	// Single-flight guard shared by the scheduled loop and manual drains.
	processing atomic.Bool

	Now func() time.Time
}

func NewQueue(store core.DeadLetterStore, replay Replayer, options Options, logger core.Logger) (*Queue, error) {
	if store == nil {
		return nil, fmt.Errorf("deadletter: store is required")
	}
	if replay == nil {
		return nil, fmt.Errorf("deadletter: replayer is required")
	}
	return &Queue{
		store:   store,
		replay:  replay,
		logger:  glog.Ensure(logger),
		options: options.withDefaults(),
		Now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Capture persists a failed event with the original raw payload. Permanent
// failures are stored terminally failed; they would fail identically on
// every replay.
func (q *Queue) Capture(ctx context.Context, webhookID string, payload []byte, cause error) (core.DeadLetterEvent, error) {
	if q == nil {
		return core.DeadLetterEvent{}, fmt.Errorf("deadletter: queue is not initialized")
	}
	if cause == nil {
		return core.DeadLetterEvent{}, fmt.Errorf("deadletter: capture requires a cause")
	}

	now := q.Now()
	kind := Classify(cause)
	event := core.DeadLetterEvent{
		ID:           uuid.NewString(),
		WebhookID:    webhookID,
		Payload:      payload,
		ErrorMessage: cause.Error(),
		ErrorType:    kind,
		RetryCount:   0,
		MaxRetries:   q.options.MaxRetries,
		NextRetryAt:  now.Add(RetryDelay(kind, 0, q.options.RetryBase, q.options.MaxRetryDelay)),
		Status:       core.DeadLetterStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(q.options.MaxAge),
	}
	if kind == core.FailurePermanent {
		event.Status = core.DeadLetterStatusFailed
	}

	created, err := q.store.Create(ctx, event)
	if err != nil {
		return core.DeadLetterEvent{}, fmt.Errorf("deadletter: capture failed: %w", err)
	}
	q.logger.WithContext(ctx).Warn("captured failed webhook event",
		"event_id", created.ID,
		"webhook_id", webhookID,
		"error_type", string(kind),
		"status", string(created.Status),
	)
	return created, nil
}

// ProcessDue claims due events and replays them through a bounded worker
// pool. Overlapping triggers return ErrBatchInFlight instead of
// double-processing the batch.
func (q *Queue) ProcessDue(ctx context.Context) (BatchSummary, error) {
	if q == nil {
		return BatchSummary{}, fmt.Errorf("deadletter: queue is not initialized")
	}
	if !q.processing.CompareAndSwap(false, true) {
		return BatchSummary{}, ErrBatchInFlight
	}
	defer q.processing.Store(false)

	events, err := q.store.ClaimDue(ctx, q.Now(), q.options.BatchSize)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("deadletter: claim failed: %w", err)
	}

	summary := BatchSummary{Claimed: len(events)}
	if len(events) == 0 {
		return summary, nil
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	// The downstream store has limited connection capacity; the pool bound
	// is a correctness constraint, not an optimization.
	group.SetLimit(q.options.Workers)

	for _, event := range events {
		event := event
		group.Go(func() error {
			// Cancel between events, never mid-write.
			if err := groupCtx.Err(); err != nil {
				return err
			}
			outcome := q.replayEvent(groupCtx, event)
			mu.Lock()
			switch outcome {
			case replaySucceeded:
				summary.Succeeded++
			case replayRescheduled:
				summary.Rescheduled++
			case replayFailed:
				summary.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return summary, err
	}

	q.logger.WithContext(ctx).Info("dead letter batch processed",
		"claimed", summary.Claimed,
		"succeeded", summary.Succeeded,
		"rescheduled", summary.Rescheduled,
		"failed", summary.Failed,
	)
	return summary, nil
}

type replayOutcome int

const (
	replaySucceeded replayOutcome = iota
	replayRescheduled
	replayFailed
)

func (q *Queue) replayEvent(ctx context.Context, event core.DeadLetterEvent) replayOutcome {
	err := q.replay.Replay(ctx, event.Payload)
	if err == nil {
		if markErr := q.store.MarkSucceeded(ctx, event.ID); markErr != nil {
			q.logger.WithContext(ctx).Error("failed to mark dead letter success",
				"event_id", event.ID, "error", markErr.Error())
		}
		return replaySucceeded
	}

	kind := Classify(err)
	nextRetryCount := event.RetryCount + 1
	if kind == core.FailurePermanent || nextRetryCount >= event.MaxRetries {
		if markErr := q.store.MarkFailed(ctx, event.ID, err.Error(), kind); markErr != nil {
			q.logger.WithContext(ctx).Error("failed to mark dead letter failure",
				"event_id", event.ID, "error", markErr.Error())
		}
		q.logger.WithContext(ctx).Warn("dead letter event exhausted",
			"event_id", event.ID,
			"retry_count", nextRetryCount,
			"error_type", string(kind),
		)
		return replayFailed
	}

	nextRetryAt := q.Now().Add(RetryDelay(kind, nextRetryCount, q.options.RetryBase, q.options.MaxRetryDelay))
	if rescheduleErr := q.store.Reschedule(ctx, event.ID, nextRetryCount, nextRetryAt, err.Error(), kind); rescheduleErr != nil {
		q.logger.WithContext(ctx).Error("failed to reschedule dead letter event",
			"event_id", event.ID, "error", rescheduleErr.Error())
		return replayFailed
	}
	return replayRescheduled
}

// RetryAll synchronously drains pending, retrying, and failed events,
// ignoring schedules. Operator surface for incident recovery.
func (q *Queue) RetryAll(ctx context.Context) ([]RetryResult, error) {
	if q == nil {
		return nil, fmt.Errorf("deadletter: queue is not initialized")
	}
	if !q.processing.CompareAndSwap(false, true) {
		return nil, ErrBatchInFlight
	}
	defer q.processing.Store(false)

	events, err := q.store.ListByStatus(ctx, []core.DeadLetterStatus{
		core.DeadLetterStatusPending,
		core.DeadLetterStatusRetrying,
		core.DeadLetterStatusFailed,
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("deadletter: drain listing failed: %w", err)
	}

	results := make([]RetryResult, 0, len(events))
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		replayErr := q.replay.Replay(ctx, event.Payload)
		if replayErr == nil {
			if markErr := q.store.MarkSucceeded(ctx, event.ID); markErr != nil {
				q.logger.WithContext(ctx).Error("failed to mark drained event success",
					"event_id", event.ID, "error", markErr.Error())
			}
			results = append(results, RetryResult{EventID: event.ID, Success: true})
			continue
		}
		kind := Classify(replayErr)
		if markErr := q.store.MarkFailed(ctx, event.ID, replayErr.Error(), kind); markErr != nil {
			q.logger.WithContext(ctx).Error("failed to mark drained event failure",
				"event_id", event.ID, "error", markErr.Error())
		}
		results = append(results, RetryResult{EventID: event.ID, Success: false, Error: replayErr.Error()})
	}
	return results, nil
}

// SweepExpired marks every event past its TTL expired, whatever its status.
func (q *Queue) SweepExpired(ctx context.Context) (int, error) {
	if q == nil {
		return 0, fmt.Errorf("deadletter: queue is not initialized")
	}
	swept, err := q.store.SweepExpired(ctx, q.Now())
	if err != nil {
		return 0, fmt.Errorf("deadletter: expiry sweep failed: %w", err)
	}
	if swept > 0 {
		q.logger.WithContext(ctx).Info("expired dead letter events", "count", swept)
	}
	return swept, nil
}

func (q *Queue) Stats(ctx context.Context) (core.DeadLetterStats, error) {
	if q == nil {
		return core.DeadLetterStats{}, fmt.Errorf("deadletter: queue is not initialized")
	}
	stats, err := q.store.Stats(ctx)
	if err != nil {
		return core.DeadLetterStats{}, fmt.Errorf("deadletter: stats query failed: %w", err)
	}
	return stats, nil
}
