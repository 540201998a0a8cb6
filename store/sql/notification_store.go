package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/coinhaven/depositd/core"
)

// DepositNotificationStore writes the user-facing credit notifications.
// Best effort by contract; callers tolerate failures here.
type DepositNotificationStore struct {
	db *bun.DB
}

func NewDepositNotificationStore(db *bun.DB) (*DepositNotificationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &DepositNotificationStore{db: db}, nil
}

func (s *DepositNotificationStore) Create(ctx context.Context, notification core.DepositNotification) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: deposit notification store is not configured")
	}
	if strings.TrimSpace(notification.ID) == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}

	record := &depositNotificationRecord{
		ID:              notification.ID,
		UserID:          notification.UserID,
		Currency:        notification.Currency,
		Amount:          notification.Amount,
		TransactionHash: notification.TransactionHash,
		Chain:           notification.Chain,
		CreatedAt:       notification.CreatedAt,
	}
	_, err := s.db.NewInsert().Model(record).Exec(ctx)
	return err
}
