package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/coinhaven/depositd/core"
)

// DeadLetterStore persists failed webhook events and their retry state.
type DeadLetterStore struct {
	db   *bun.DB
	repo repository.Repository[*deadLetterEventRecord]
}

func NewDeadLetterStore(db *bun.DB) (*DeadLetterStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deadLetterEventRecord](db, deadLetterEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid dead letter repository wiring: %w", err)
		}
	}
	return &DeadLetterStore{db: db, repo: repo}, nil
}

func (s *DeadLetterStore) Create(ctx context.Context, event core.DeadLetterEvent) (core.DeadLetterEvent, error) {
	if s == nil || s.db == nil {
		return core.DeadLetterEvent{}, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	if event.Status == "" {
		event.Status = core.DeadLetterStatusPending
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	record := newDeadLetterEventRecord(event)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.DeadLetterEvent{}, err
	}
	return record.toDomain(), nil
}

func (s *DeadLetterStore) Get(ctx context.Context, id string) (core.DeadLetterEvent, error) {
	if s == nil || s.db == nil {
		return core.DeadLetterEvent{}, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	record := &deadLetterEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.DeadLetterEvent{}, fmt.Errorf("sqlstore: dead letter event %q not found", id)
		}
		return core.DeadLetterEvent{}, err
	}
	return record.toDomain(), nil
}

// ClaimDue atomically selects due events oldest-first and flips them to
// retrying in the same statement, so concurrent processors cannot claim
// the same batch.
func (s *DeadLetterStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]core.DeadLetterEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}

	records := []*deadLetterEventRecord{}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return tx.NewRaw(`
WITH claimed AS (
	SELECT id
	FROM dead_letter_events
	WHERE status IN (?, ?)
	  AND next_retry_at <= ?
	ORDER BY created_at ASC
	LIMIT ?
)
UPDATE dead_letter_events
SET status = ?, updated_at = ?
WHERE id IN (SELECT id FROM claimed)
  AND status IN (?, ?)
RETURNING
	id,
	webhook_id,
	payload,
	error_message,
	error_type,
	retry_count,
	max_retries,
	next_retry_at,
	status,
	created_at,
	updated_at,
	expires_at
`,
			string(core.DeadLetterStatusPending),
			string(core.DeadLetterStatusRetrying),
			now,
			limit,
			string(core.DeadLetterStatusRetrying),
			now,
			string(core.DeadLetterStatusPending),
			string(core.DeadLetterStatusRetrying),
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}

	events := make([]core.DeadLetterEvent, 0, len(records))
	for _, record := range records {
		events = append(events, record.toDomain())
	}
	return events, nil
}

func (s *DeadLetterStore) ListByStatus(ctx context.Context, statuses []core.DeadLetterStatus, limit int) ([]core.DeadLetterEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	if len(statuses) == 0 {
		return nil, fmt.Errorf("sqlstore: at least one status is required")
	}
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}

	records := []*deadLetterEventRecord{}
	query := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status IN (?)", bun.In(values)).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}

	events := make([]core.DeadLetterEvent, 0, len(records))
	for _, record := range records {
		events = append(events, record.toDomain())
	}
	return events, nil
}

func (s *DeadLetterStore) MarkSucceeded(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, core.DeadLetterStatusSuccess, "", "")
}

func (s *DeadLetterStore) MarkFailed(ctx context.Context, id string, errorMessage string, errorType core.FailureKind) error {
	return s.setStatus(ctx, id, core.DeadLetterStatusFailed, errorMessage, errorType)
}

func (s *DeadLetterStore) setStatus(ctx context.Context, id string, status core.DeadLetterStatus, errorMessage string, errorType core.FailureKind) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	query := s.db.NewUpdate().
		Model((*deadLetterEventRecord)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(id))
	if errorMessage != "" {
		query = query.Set("error_message = ?", errorMessage)
	}
	if errorType != "" {
		query = query.Set("error_type = ?", string(errorType))
	}
	_, err := query.Exec(ctx)
	return err
}

func (s *DeadLetterStore) Reschedule(
	ctx context.Context,
	id string,
	retryCount int,
	nextRetryAt time.Time,
	errorMessage string,
	errorType core.FailureKind,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	_, err := s.db.NewUpdate().
		Model((*deadLetterEventRecord)(nil)).
		Set("status = ?", string(core.DeadLetterStatusPending)).
		Set("retry_count = ?", retryCount).
		Set("next_retry_at = ?", nextRetryAt).
		Set("error_message = ?", errorMessage).
		Set("error_type = ?", string(errorType)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return err
}

// SweepExpired marks every event past its TTL, regardless of status.
func (s *DeadLetterStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*deadLetterEventRecord)(nil)).
		Set("status = ?", string(core.DeadLetterStatusExpired)).
		Set("updated_at = ?", now).
		Where("expires_at <= ?", now).
		Where("status != ?", string(core.DeadLetterStatusExpired)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *DeadLetterStore) Stats(ctx context.Context) (core.DeadLetterStats, error) {
	if s == nil || s.db == nil {
		return core.DeadLetterStats{}, fmt.Errorf("sqlstore: dead letter store is not configured")
	}

	var row struct {
		Total    int             `bun:"total"`
		Pending  int             `bun:"pending"`
		Retrying int             `bun:"retrying"`
		Failed   int             `bun:"failed"`
		Success  int             `bun:"success"`
		Expired  int             `bun:"expired"`
		AvgRetry sql.NullFloat64 `bun:"avg_retry"`
		Oldest   sql.NullTime    `bun:"oldest"`
	}
	err := s.db.NewRaw(`
SELECT
	COUNT(*) AS total,
	COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
	COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS retrying,
	COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
	COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS success,
	COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS expired,
	AVG(retry_count) AS avg_retry,
	MIN(CASE WHEN status = ? THEN created_at END) AS oldest
FROM dead_letter_events
`,
		string(core.DeadLetterStatusPending),
		string(core.DeadLetterStatusRetrying),
		string(core.DeadLetterStatusFailed),
		string(core.DeadLetterStatusSuccess),
		string(core.DeadLetterStatusExpired),
		string(core.DeadLetterStatusPending),
	).Scan(ctx, &row)
	if err != nil {
		return core.DeadLetterStats{}, err
	}

	stats := core.DeadLetterStats{
		TotalEvents:    row.Total,
		PendingEvents:  row.Pending,
		RetryingEvents: row.Retrying,
		FailedEvents:   row.Failed,
		SuccessEvents:  row.Success,
		ExpiredEvents:  row.Expired,
	}
	if row.AvgRetry.Valid {
		stats.AverageRetries = row.AvgRetry.Float64
	}
	if row.Oldest.Valid {
		oldest := row.Oldest.Time
		stats.OldestEvent = &oldest
	}
	return stats, nil
}
