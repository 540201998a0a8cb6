package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/coinhaven/depositd/core"
)

// UserAssetStore persists balances keyed by (user_id, currency).
type UserAssetStore struct {
	db *bun.DB

	// atomicCredit gates the server-side upsert-increment. Off, Credit
	// reports core.ErrAtomicCreditUnavailable and callers run their
	// optimistic-locking fallback.
	atomicCredit bool
}

type UserAssetStoreOption func(*UserAssetStore)

// WithoutAtomicCredit disables the upsert-increment path for backends
// that cannot execute it.
func WithoutAtomicCredit() UserAssetStoreOption {
	return func(s *UserAssetStore) {
		s.atomicCredit = false
	}
}

func NewUserAssetStore(db *bun.DB, opts ...UserAssetStoreOption) (*UserAssetStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	store := &UserAssetStore{db: db, atomicCredit: true}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Credit applies a single atomic upsert-increment. The excluded-row form
// works on both postgres and sqlite.
func (s *UserAssetStore) Credit(ctx context.Context, userID string, currency string, amount decimal.Decimal) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: user asset store is not configured")
	}
	if !s.atomicCredit {
		return core.ErrAtomicCreditUnavailable
	}
	userID = strings.TrimSpace(userID)
	currency = strings.TrimSpace(currency)
	if userID == "" || currency == "" {
		return fmt.Errorf("sqlstore: user id and currency are required")
	}
	if !amount.IsPositive() {
		return fmt.Errorf("sqlstore: credit amount must be positive")
	}

	_, err := s.db.NewRaw(`
INSERT INTO user_assets (user_id, currency, balance, locked_balance, updated_at)
VALUES (?, ?, ?, 0, ?)
ON CONFLICT (user_id, currency) DO UPDATE SET
	balance = user_assets.balance + excluded.balance,
	updated_at = excluded.updated_at
`, userID, currency, amount, time.Now().UTC()).Exec(ctx)
	return err
}

func (s *UserAssetStore) Get(ctx context.Context, userID string, currency string) (core.UserAssetBalance, bool, error) {
	if s == nil || s.db == nil {
		return core.UserAssetBalance{}, false, fmt.Errorf("sqlstore: user asset store is not configured")
	}
	record := &userAssetRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", strings.TrimSpace(userID)).
		Where("?TableAlias.currency = ?", strings.TrimSpace(currency)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.UserAssetBalance{}, false, nil
		}
		return core.UserAssetBalance{}, false, err
	}
	return record.toDomain(), true, nil
}

// CompareAndSwap writes the new balance only when updated_at is untouched
// since the caller's read. False means a concurrent writer got there first.
func (s *UserAssetStore) CompareAndSwap(
	ctx context.Context,
	userID string,
	currency string,
	balance decimal.Decimal,
	expectedUpdatedAt time.Time,
) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: user asset store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*userAssetRecord)(nil)).
		Set("balance = ?", balance).
		Set("updated_at = ?", time.Now().UTC()).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Where("currency = ?", strings.TrimSpace(currency)).
		Where("updated_at = ?", expectedUpdatedAt).
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

func (s *UserAssetStore) Insert(ctx context.Context, balance core.UserAssetBalance) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: user asset store is not configured")
	}
	balance.UserID = strings.TrimSpace(balance.UserID)
	balance.Currency = strings.TrimSpace(balance.Currency)
	if balance.UserID == "" || balance.Currency == "" {
		return fmt.Errorf("sqlstore: user id and currency are required")
	}
	if balance.UpdatedAt.IsZero() {
		balance.UpdatedAt = time.Now().UTC()
	}

	record := &userAssetRecord{
		UserID:        balance.UserID,
		Currency:      balance.Currency,
		Balance:       balance.Balance,
		LockedBalance: balance.LockedBalance,
		UpdatedAt:     balance.UpdatedAt,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "sqlstore: balance row already exists").
				WithTextCode(core.ErrorCodeConflict)
		}
		return err
	}
	return nil
}
