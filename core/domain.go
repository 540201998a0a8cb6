package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositStatus tracks the lifecycle of a deposit row. Status only advances
// pending -> confirmed; it never regresses.
type DepositStatus string

const (
	DepositStatusPending   DepositStatus = "pending"
	DepositStatusConfirmed DepositStatus = "confirmed"
	DepositStatusFailed    DepositStatus = "failed"
)

// FailureKind is the closed classification of processing failures. Every
// error that reaches the dead-letter queue carries exactly one of these.
type FailureKind string

const (
	FailurePermanent   FailureKind = "permanent"
	FailureRetryable   FailureKind = "retryable"
	FailureRateLimited FailureKind = "rate_limited"
)

type DeadLetterStatus string

const (
	DeadLetterStatusPending  DeadLetterStatus = "pending"
	DeadLetterStatusRetrying DeadLetterStatus = "retrying"
	DeadLetterStatusSuccess  DeadLetterStatus = "success"
	DeadLetterStatusFailed   DeadLetterStatus = "failed"
	DeadLetterStatusExpired  DeadLetterStatus = "expired"
)

// NormalizedEvent is the canonical shape every provider payload is mapped
// into before resolution. Request-scoped; never persisted directly.
type NormalizedEvent struct {
	Address         string
	Chain           string
	Network         string
	Asset           string
	Amount          decimal.Decimal
	RawAmount       string
	TransactionHash string
	FromAddress     string
	Memo            string
	Confirmations   int
	BlockNumber     int64
	Raw             []byte
}

// ResolvedAddress binds an on-chain address (plus optional destination tag)
// to the user that owns it.
type ResolvedAddress struct {
	UserID         string
	Asset          string
	Chain          string
	Network        string
	DestinationTag string
}

// DepositTransaction is the detail ledger row, one per
// (user, transaction hash, to-address, destination tag).
type DepositTransaction struct {
	ID                    string
	UserID                string
	Chain                 string
	Network               string
	Asset                 string
	TransactionHash       string
	BlockNumber           int64
	FromAddress           string
	ToAddress             string
	Amount                decimal.Decimal
	Confirmations         int
	RequiredConfirmations int
	Status                DepositStatus
	DestinationTag        string
	Memo                  string
	RawTransaction        []byte
	DetectedAt            time.Time
	ConfirmedAt           *time.Time
	ProcessedAt           *time.Time
}

// Deposit is the legacy compatibility row, one per (user, transaction hash).
// It mirrors a subset of the detail record for older consumers.
type Deposit struct {
	ID                    string
	UserID                string
	Amount                decimal.Decimal
	Currency              string
	Chain                 string
	Network               string
	Status                DepositStatus
	TransactionHash       string
	WalletAddress         string
	ConfirmationsRequired int
	ConfirmationsObserved int
	ConfirmedAt           *time.Time
	CreatedAt             time.Time
}

// DepositAddress is a row in the deposit-address directory. Many users may
// share one physical address, distinguished by DestinationTag; a nil tag
// means the address is single-tenant.
type DepositAddress struct {
	ID             string
	UserID         string
	Address        string
	Chain          string
	Network        string
	Asset          string
	DestinationTag *string
	Active         bool
	CreatedAt      time.Time
}

type UserAssetBalance struct {
	UserID        string
	Currency      string
	Balance       decimal.Decimal
	LockedBalance decimal.Decimal
	UpdatedAt     time.Time
}

// DeadLetterEvent is a failed webhook capture plus its retry bookkeeping.
type DeadLetterEvent struct {
	ID           string
	WebhookID    string
	Payload      []byte
	ErrorMessage string
	ErrorType    FailureKind
	RetryCount   int
	MaxRetries   int
	NextRetryAt  time.Time
	Status       DeadLetterStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ExpiresAt    time.Time
}

type DeadLetterStats struct {
	TotalEvents    int
	PendingEvents  int
	RetryingEvents int
	FailedEvents   int
	SuccessEvents  int
	ExpiredEvents  int
	AverageRetries float64
	OldestEvent    *time.Time
}

// DepositNotification is the best-effort user-facing record emitted after a
// successful balance credit. Failing to write one never fails the deposit.
type DepositNotification struct {
	ID              string
	UserID          string
	Currency        string
	Amount          decimal.Decimal
	TransactionHash string
	Chain           string
	CreatedAt       time.Time
}
