package sqlstore

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/coinhaven/depositd/core"
)

type depositTransactionRecord struct {
	bun.BaseModel `bun:"table:deposit_transactions,alias:dt"`

	ID                    string          `bun:"id,pk"`
	UserID                string          `bun:"user_id,notnull"`
	Chain                 string          `bun:"chain,notnull"`
	Network               string          `bun:"network"`
	Asset                 string          `bun:"asset,notnull"`
	TransactionHash       string          `bun:"transaction_hash,notnull"`
	BlockNumber           int64           `bun:"block_number"`
	FromAddress           string          `bun:"from_address"`
	ToAddress             string          `bun:"to_address,notnull"`
	Amount                decimal.Decimal `bun:"amount,notnull"`
	Confirmations         int             `bun:"confirmations,notnull"`
	RequiredConfirmations int             `bun:"required_confirmations,notnull"`
	Status                string          `bun:"status,notnull"`
	DestinationTag        string          `bun:"destination_tag"`
	Memo                  string          `bun:"memo"`
	RawTransaction        []byte          `bun:"raw_transaction"`
	DetectedAt            time.Time       `bun:"detected_at,nullzero,notnull,default:current_timestamp"`
	ConfirmedAt           *time.Time      `bun:"confirmed_at,nullzero"`
	ProcessedAt           *time.Time      `bun:"processed_at,nullzero"`
}

func newDepositTransactionRecord(tx core.DepositTransaction) *depositTransactionRecord {
	return &depositTransactionRecord{
		ID:                    tx.ID,
		UserID:                tx.UserID,
		Chain:                 tx.Chain,
		Network:               tx.Network,
		Asset:                 tx.Asset,
		TransactionHash:       tx.TransactionHash,
		BlockNumber:           tx.BlockNumber,
		FromAddress:           tx.FromAddress,
		ToAddress:             tx.ToAddress,
		Amount:                tx.Amount,
		Confirmations:         tx.Confirmations,
		RequiredConfirmations: tx.RequiredConfirmations,
		Status:                string(tx.Status),
		DestinationTag:        tx.DestinationTag,
		Memo:                  tx.Memo,
		RawTransaction:        tx.RawTransaction,
		DetectedAt:            tx.DetectedAt,
		ConfirmedAt:           tx.ConfirmedAt,
		ProcessedAt:           tx.ProcessedAt,
	}
}

func (r *depositTransactionRecord) toDomain() core.DepositTransaction {
	return core.DepositTransaction{
		ID:                    r.ID,
		UserID:                r.UserID,
		Chain:                 r.Chain,
		Network:               r.Network,
		Asset:                 r.Asset,
		TransactionHash:       r.TransactionHash,
		BlockNumber:           r.BlockNumber,
		FromAddress:           r.FromAddress,
		ToAddress:             r.ToAddress,
		Amount:                r.Amount,
		Confirmations:         r.Confirmations,
		RequiredConfirmations: r.RequiredConfirmations,
		Status:                core.DepositStatus(r.Status),
		DestinationTag:        r.DestinationTag,
		Memo:                  r.Memo,
		RawTransaction:        r.RawTransaction,
		DetectedAt:            r.DetectedAt,
		ConfirmedAt:           r.ConfirmedAt,
		ProcessedAt:           r.ProcessedAt,
	}
}

type depositRecord struct {
	bun.BaseModel `bun:"table:deposits,alias:d"`

	ID                    string          `bun:"id,pk"`
	UserID                string          `bun:"user_id,notnull"`
	Amount                decimal.Decimal `bun:"amount,notnull"`
	Currency              string          `bun:"currency,notnull"`
	Chain                 string          `bun:"chain"`
	Network               string          `bun:"network"`
	Status                string          `bun:"status,notnull"`
	TransactionHash       string          `bun:"transaction_hash,notnull"`
	WalletAddress         string          `bun:"wallet_address"`
	ConfirmationsRequired int             `bun:"confirmations_required,notnull"`
	ConfirmationsObserved int             `bun:"confirmations_observed,notnull"`
	ConfirmedAt           *time.Time      `bun:"confirmed_at,nullzero"`
	CreatedAt             time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func newDepositRecord(deposit core.Deposit) *depositRecord {
	return &depositRecord{
		ID:                    deposit.ID,
		UserID:                deposit.UserID,
		Amount:                deposit.Amount,
		Currency:              deposit.Currency,
		Chain:                 deposit.Chain,
		Network:               deposit.Network,
		Status:                string(deposit.Status),
		TransactionHash:       deposit.TransactionHash,
		WalletAddress:         deposit.WalletAddress,
		ConfirmationsRequired: deposit.ConfirmationsRequired,
		ConfirmationsObserved: deposit.ConfirmationsObserved,
		ConfirmedAt:           deposit.ConfirmedAt,
		CreatedAt:             deposit.CreatedAt,
	}
}

func (r *depositRecord) toDomain() core.Deposit {
	return core.Deposit{
		ID:                    r.ID,
		UserID:                r.UserID,
		Amount:                r.Amount,
		Currency:              r.Currency,
		Chain:                 r.Chain,
		Network:               r.Network,
		Status:                core.DepositStatus(r.Status),
		TransactionHash:       r.TransactionHash,
		WalletAddress:         r.WalletAddress,
		ConfirmationsRequired: r.ConfirmationsRequired,
		ConfirmationsObserved: r.ConfirmationsObserved,
		ConfirmedAt:           r.ConfirmedAt,
		CreatedAt:             r.CreatedAt,
	}
}

type userAssetRecord struct {
	bun.BaseModel `bun:"table:user_assets,alias:ua"`

	UserID        string          `bun:"user_id,pk"`
	Currency      string          `bun:"currency,pk"`
	Balance       decimal.Decimal `bun:"balance,notnull"`
	LockedBalance decimal.Decimal `bun:"locked_balance,notnull"`
	UpdatedAt     time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *userAssetRecord) toDomain() core.UserAssetBalance {
	return core.UserAssetBalance{
		UserID:        r.UserID,
		Currency:      r.Currency,
		Balance:       r.Balance,
		LockedBalance: r.LockedBalance,
		UpdatedAt:     r.UpdatedAt,
	}
}

type depositAddressRecord struct {
	bun.BaseModel `bun:"table:deposit_addresses,alias:da"`

	ID             string    `bun:"id,pk"`
	UserID         string    `bun:"user_id,notnull"`
	Address        string    `bun:"address,notnull"`
	Chain          string    `bun:"chain,notnull"`
	Network        string    `bun:"network"`
	Asset          string    `bun:"asset,notnull"`
	DestinationTag *string   `bun:"destination_tag"`
	Active         bool      `bun:"active,notnull"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (r *depositAddressRecord) toDomain() core.DepositAddress {
	return core.DepositAddress{
		ID:             r.ID,
		UserID:         r.UserID,
		Address:        r.Address,
		Chain:          r.Chain,
		Network:        r.Network,
		Asset:          r.Asset,
		DestinationTag: r.DestinationTag,
		Active:         r.Active,
		CreatedAt:      r.CreatedAt,
	}
}

type deadLetterEventRecord struct {
	bun.BaseModel `bun:"table:dead_letter_events,alias:dle"`

	ID           string    `bun:"id,pk"`
	WebhookID    string    `bun:"webhook_id,notnull"`
	Payload      []byte    `bun:"payload,notnull"`
	ErrorMessage string    `bun:"error_message"`
	ErrorType    string    `bun:"error_type,notnull"`
	RetryCount   int       `bun:"retry_count,notnull"`
	MaxRetries   int       `bun:"max_retries,notnull"`
	NextRetryAt  time.Time `bun:"next_retry_at,nullzero,notnull"`
	Status       string    `bun:"status,notnull"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt    time.Time `bun:"expires_at,nullzero,notnull"`
}

func newDeadLetterEventRecord(event core.DeadLetterEvent) *deadLetterEventRecord {
	return &deadLetterEventRecord{
		ID:           event.ID,
		WebhookID:    event.WebhookID,
		Payload:      event.Payload,
		ErrorMessage: event.ErrorMessage,
		ErrorType:    string(event.ErrorType),
		RetryCount:   event.RetryCount,
		MaxRetries:   event.MaxRetries,
		NextRetryAt:  event.NextRetryAt,
		Status:       string(event.Status),
		CreatedAt:    event.CreatedAt,
		UpdatedAt:    event.UpdatedAt,
		ExpiresAt:    event.ExpiresAt,
	}
}

func (r *deadLetterEventRecord) toDomain() core.DeadLetterEvent {
	return core.DeadLetterEvent{
		ID:           r.ID,
		WebhookID:    r.WebhookID,
		Payload:      r.Payload,
		ErrorMessage: r.ErrorMessage,
		ErrorType:    core.FailureKind(r.ErrorType),
		RetryCount:   r.RetryCount,
		MaxRetries:   r.MaxRetries,
		NextRetryAt:  r.NextRetryAt,
		Status:       core.DeadLetterStatus(r.Status),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		ExpiresAt:    r.ExpiresAt,
	}
}

type depositNotificationRecord struct {
	bun.BaseModel `bun:"table:deposit_notifications,alias:dn"`

	ID              string          `bun:"id,pk"`
	UserID          string          `bun:"user_id,notnull"`
	Currency        string          `bun:"currency,notnull"`
	Amount          decimal.Decimal `bun:"amount,notnull"`
	TransactionHash string          `bun:"transaction_hash,notnull"`
	Chain           string          `bun:"chain"`
	CreatedAt       time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
