package core

import (
	"context"
	"errors"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/shopspring/decimal"
)

// Logger aliases keep package signatures free of the logging module path.
type (
	Logger         = glog.Logger
	LoggerProvider = glog.LoggerProvider
	FieldsLogger   = glog.FieldsLogger
)

// ErrAtomicCreditUnavailable is returned by balance backends that cannot run
// the server-side upsert-increment; callers fall back to the
// optimistic-locking loop.
var ErrAtomicCreditUnavailable = errors.New("core: atomic balance credit unavailable")

// DepositTransactionStore owns the detail ledger table.
type DepositTransactionStore interface {
	Find(
		ctx context.Context,
		userID string,
		transactionHash string,
		toAddress string,
		destinationTag string,
	) (DepositTransaction, bool, error)
	Create(ctx context.Context, tx DepositTransaction) (DepositTransaction, error)
	// AdvanceConfirmations raises the stored confirmation counter to the
	// observed value if larger; it never lowers it.
	AdvanceConfirmations(ctx context.Context, id string, confirmations int) error
	// Confirm performs the guarded pending -> confirmed transition. It
	// reports true only when this call won the transition; false means a
	// concurrent writer already confirmed the row.
	Confirm(ctx context.Context, id string, confirmations int, confirmedAt time.Time) (bool, error)
}

// DepositStore owns the legacy compatibility table.
type DepositStore interface {
	Find(ctx context.Context, userID string, transactionHash string) (Deposit, bool, error)
	Create(ctx context.Context, deposit Deposit) (Deposit, error)
	AdvanceConfirmations(ctx context.Context, id string, confirmations int) error
	// MarkConfirmed mirrors the detail record's confirmed status. It is
	// unconditional; the detail table is the gate.
	MarkConfirmed(ctx context.Context, id string, confirmations int, confirmedAt time.Time) error
}

// BalanceStore owns user asset balances.
type BalanceStore interface {
	// Credit applies a single atomic upsert-increment of amount to
	// (userID, currency). Backends without server-side atomic support
	// return ErrAtomicCreditUnavailable.
	Credit(ctx context.Context, userID string, currency string, amount decimal.Decimal) error
	Get(ctx context.Context, userID string, currency string) (UserAssetBalance, bool, error)
	// CompareAndSwap writes balance only when the row's updated_at still
	// equals expectedUpdatedAt. Reports false on version conflict.
	CompareAndSwap(
		ctx context.Context,
		userID string,
		currency string,
		balance decimal.Decimal,
		expectedUpdatedAt time.Time,
	) (bool, error)
	// Insert creates a first-time balance row; a unique violation surfaces
	// as a conflict error for the caller to retry.
	Insert(ctx context.Context, balance UserAssetBalance) error
}

// AddressDirectory reads the deposit-address directory.
type AddressDirectory interface {
	ActiveByAddress(ctx context.Context, address string) ([]DepositAddress, error)
	ActiveByAddressAndTag(ctx context.Context, address string, tag string) ([]DepositAddress, error)
}

type NotificationStore interface {
	Create(ctx context.Context, notification DepositNotification) error
}

// DeadLetterStore owns the dead_letter_events table and its state machine.
type DeadLetterStore interface {
	Create(ctx context.Context, event DeadLetterEvent) (DeadLetterEvent, error)
	Get(ctx context.Context, id string) (DeadLetterEvent, error)
	// ClaimDue atomically selects events with status in {pending, retrying}
	// and next_retry_at <= now, oldest first, marking them retrying.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]DeadLetterEvent, error)
	ListByStatus(ctx context.Context, statuses []DeadLetterStatus, limit int) ([]DeadLetterEvent, error)
	MarkSucceeded(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errorMessage string, errorType FailureKind) error
	Reschedule(
		ctx context.Context,
		id string,
		retryCount int,
		nextRetryAt time.Time,
		errorMessage string,
		errorType FailureKind,
	) error
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	Stats(ctx context.Context) (DeadLetterStats, error)
}
