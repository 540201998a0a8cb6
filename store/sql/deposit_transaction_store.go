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

// DepositTransactionStore persists the detail ledger. One row per
// (user_id, transaction_hash, to_address, destination_tag); the unique
// index enforces it, so a losing concurrent insert surfaces as a conflict.
type DepositTransactionStore struct {
	db   *bun.DB
	repo repository.Repository[*depositTransactionRecord]
}

func NewDepositTransactionStore(db *bun.DB) (*DepositTransactionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*depositTransactionRecord](db, depositTransactionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid deposit transaction repository wiring: %w", err)
		}
	}
	return &DepositTransactionStore{db: db, repo: repo}, nil
}

func (s *DepositTransactionStore) Find(
	ctx context.Context,
	userID string,
	transactionHash string,
	toAddress string,
	destinationTag string,
) (core.DepositTransaction, bool, error) {
	if s == nil || s.db == nil {
		return core.DepositTransaction{}, false, fmt.Errorf("sqlstore: deposit transaction store is not configured")
	}
	record := &depositTransactionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", strings.TrimSpace(userID)).
		Where("?TableAlias.transaction_hash = ?", strings.TrimSpace(transactionHash)).
		Where("?TableAlias.to_address = ?", strings.TrimSpace(toAddress)).
		Where("?TableAlias.destination_tag = ?", strings.TrimSpace(destinationTag)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.DepositTransaction{}, false, nil
		}
		return core.DepositTransaction{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *DepositTransactionStore) Create(ctx context.Context, tx core.DepositTransaction) (core.DepositTransaction, error) {
	if s == nil || s.db == nil {
		return core.DepositTransaction{}, fmt.Errorf("sqlstore: deposit transaction store is not configured")
	}
	tx.UserID = strings.TrimSpace(tx.UserID)
	tx.TransactionHash = strings.TrimSpace(tx.TransactionHash)
	if tx.UserID == "" || tx.TransactionHash == "" {
		return core.DepositTransaction{}, fmt.Errorf("sqlstore: user id and transaction hash are required")
	}
	if strings.TrimSpace(tx.ID) == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Status == "" {
		tx.Status = core.DepositStatusPending
	}
	if tx.DetectedAt.IsZero() {
		tx.DetectedAt = time.Now().UTC()
	}

	record := newDepositTransactionRecord(tx)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return core.DepositTransaction{}, goerrors.Wrap(err, goerrors.CategoryConflict, "sqlstore: deposit transaction already exists").
				WithTextCode(core.ErrorCodeConflict)
		}
		return core.DepositTransaction{}, err
	}
	return record.toDomain(), nil
}

// AdvanceConfirmations clamps to max(observed, stored); deliveries can
// arrive out of order and must never lower the counter.
func (s *DepositTransactionStore) AdvanceConfirmations(ctx context.Context, id string, confirmations int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: deposit transaction store is not configured")
	}
	_, err := s.db.NewUpdate().
		Model((*depositTransactionRecord)(nil)).
		Set("confirmations = CASE WHEN confirmations >= ? THEN confirmations ELSE ? END", confirmations, confirmations).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return err
}

// Confirm is the single credit gate: a conditional pending -> confirmed
// update. Zero affected rows means a concurrent writer already owns the
// transition and the caller must not credit.
func (s *DepositTransactionStore) Confirm(ctx context.Context, id string, confirmations int, confirmedAt time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: deposit transaction store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*depositTransactionRecord)(nil)).
		Set("status = ?", string(core.DepositStatusConfirmed)).
		Set("confirmations = CASE WHEN confirmations >= ? THEN confirmations ELSE ? END", confirmations, confirmations).
		Set("confirmed_at = ?", confirmedAt).
		Set("processed_at = ?", confirmedAt).
		Where("id = ?", strings.TrimSpace(id)).
		Where("status = ?", string(core.DepositStatusPending)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
