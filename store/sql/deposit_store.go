package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/coinhaven/depositd/core"
)

// DepositStore persists the legacy compatibility ledger, one row per
// (user_id, transaction_hash).
type DepositStore struct {
	db   *bun.DB
	repo repository.Repository[*depositRecord]
}

func NewDepositStore(db *bun.DB) (*DepositStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*depositRecord](db, depositHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid deposit repository wiring: %w", err)
		}
	}
	return &DepositStore{db: db, repo: repo}, nil
}

func (s *DepositStore) Find(ctx context.Context, userID string, transactionHash string) (core.Deposit, bool, error) {
	if s == nil || s.db == nil {
		return core.Deposit{}, false, fmt.Errorf("sqlstore: deposit store is not configured")
	}
	record := &depositRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", strings.TrimSpace(userID)).
		Where("?TableAlias.transaction_hash = ?", strings.TrimSpace(transactionHash)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Deposit{}, false, nil
		}
		return core.Deposit{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *DepositStore) Create(ctx context.Context, deposit core.Deposit) (core.Deposit, error) {
	if s == nil || s.db == nil {
		return core.Deposit{}, fmt.Errorf("sqlstore: deposit store is not configured")
	}
	deposit.UserID = strings.TrimSpace(deposit.UserID)
	deposit.TransactionHash = strings.TrimSpace(deposit.TransactionHash)
	if deposit.UserID == "" || deposit.TransactionHash == "" {
		return core.Deposit{}, fmt.Errorf("sqlstore: user id and transaction hash are required")
	}
	if strings.TrimSpace(deposit.ID) == "" {
		deposit.ID = uuid.NewString()
	}
	if deposit.Status == "" {
		deposit.Status = core.DepositStatusPending
	}
	if deposit.CreatedAt.IsZero() {
		deposit.CreatedAt = time.Now().UTC()
	}

	record := newDepositRecord(deposit)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return core.Deposit{}, goerrors.Wrap(err, goerrors.CategoryConflict, "sqlstore: deposit already exists").
				WithTextCode(core.ErrorCodeConflict)
		}
		return core.Deposit{}, err
	}
	return record.toDomain(), nil
}

func (s *DepositStore) AdvanceConfirmations(ctx context.Context, id string, confirmations int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: deposit store is not configured")
	}
	_, err := s.db.NewUpdate().
		Model((*depositRecord)(nil)).
		Set("confirmations_observed = CASE WHEN confirmations_observed >= ? THEN confirmations_observed ELSE ? END", confirmations, confirmations).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return err
}

// MarkConfirmed mirrors the detail row's transition; the detail table owns
// the gate, so this update is unconditional.
func (s *DepositStore) MarkConfirmed(ctx context.Context, id string, confirmations int, confirmedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: deposit store is not configured")
	}
	_, err := s.db.NewUpdate().
		Model((*depositRecord)(nil)).
		Set("status = ?", string(core.DepositStatusConfirmed)).
		Set("confirmations_observed = CASE WHEN confirmations_observed >= ? THEN confirmations_observed ELSE ? END", confirmations, confirmations).
		Set("confirmed_at = ?", confirmedAt).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return err
}
