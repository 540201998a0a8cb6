// Package ledger owns the deposit ledger writes: detail record, legacy
// record, and the confirmation-gated balance credit. Every path is
// idempotent so dead-letter replays can re-run it from scratch.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinhaven/depositd/core"
)

const (
	maxCreditAttempts = 5
	creditRetryBase   = 50 * time.Millisecond
)

type Writer struct {
	transactions  core.DepositTransactionStore
	deposits      core.DepositStore
	balances      core.BalanceStore
	notifications core.NotificationStore
	policy        *ConfirmationPolicy
	logger        core.Logger

	Now func() time.Time
}

func NewWriter(
	transactions core.DepositTransactionStore,
	deposits core.DepositStore,
	balances core.BalanceStore,
	notifications core.NotificationStore,
	policy *ConfirmationPolicy,
	logger core.Logger,
) (*Writer, error) {
	if transactions == nil {
		return nil, fmt.Errorf("ledger: deposit transaction store is required")
	}
	if deposits == nil {
		return nil, fmt.Errorf("ledger: deposit store is required")
	}
	if balances == nil {
		return nil, fmt.Errorf("ledger: balance store is required")
	}
	if policy == nil {
		policy = NewConfirmationPolicy(nil)
	}
	return &Writer{
		transactions:  transactions,
		deposits:      deposits,
		balances:      balances,
		notifications: notifications,
		policy:        policy,
		logger:        glog.Ensure(logger),
		Now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// Process applies one resolved deposit event to the ledger. Replaying the
// same event any number of times yields one detail row, one legacy row,
// and at most one balance credit; the pending -> confirmed transition on
// the detail row is the single credit gate.
func (w *Writer) Process(ctx context.Context, event core.NormalizedEvent, resolved core.ResolvedAddress) error {
	if w == nil {
		return fmt.Errorf("ledger: writer is not initialized")
	}
	if resolved.UserID == "" {
		return badDeposit("resolved user id is required")
	}
	if event.TransactionHash == "" {
		return badDeposit("transaction hash is required")
	}
	if !event.Amount.IsPositive() {
		return badDeposit("deposit amount must be positive")
	}

	chain := event.Chain
	if chain == "" {
		chain = resolved.Chain
	}
	currency := resolved.Asset
	if currency == "" {
		currency = event.Asset
	}
	if currency == "" {
		return badDeposit("deposit currency could not be determined")
	}

	detail, found, err := w.transactions.Find(ctx, resolved.UserID, event.TransactionHash, event.Address, resolved.DestinationTag)
	if err != nil {
		return fmt.Errorf("ledger: duplicate check failed: %w", err)
	}
	if !found {
		detail, err = w.createRecords(ctx, event, resolved, chain, currency)
		if err != nil {
			return err
		}
	} else if err := w.advanceConfirmations(ctx, event, resolved, detail, chain, currency); err != nil {
		return err
	}

	if !w.policy.IsConfirmed(chain, event.Confirmations) {
		return nil
	}
	return w.confirmAndCredit(ctx, event, resolved, detail, currency)
}

// createRecords inserts the detail row and its legacy mirror, both pending.
// An insert race surfaces as a store error; the replay path finds the
// winner's rows and proceeds idempotently.
func (w *Writer) createRecords(
	ctx context.Context,
	event core.NormalizedEvent,
	resolved core.ResolvedAddress,
	chain string,
	currency string,
) (core.DepositTransaction, error) {
	now := w.Now()
	required := w.policy.Required(chain)

	detail, err := w.transactions.Create(ctx, core.DepositTransaction{
		ID:                    uuid.NewString(),
		UserID:                resolved.UserID,
		Chain:                 chain,
		Network:               firstNonEmpty(event.Network, resolved.Network),
		Asset:                 currency,
		TransactionHash:       event.TransactionHash,
		BlockNumber:           event.BlockNumber,
		FromAddress:           event.FromAddress,
		ToAddress:             event.Address,
		Amount:                event.Amount,
		Confirmations:         event.Confirmations,
		RequiredConfirmations: required,
		Status:                core.DepositStatusPending,
		DestinationTag:        resolved.DestinationTag,
		Memo:                  event.Memo,
		RawTransaction:        event.Raw,
		DetectedAt:            now,
	})
	if err != nil {
		return core.DepositTransaction{}, fmt.Errorf("ledger: detail record insert failed: %w", err)
	}

	if _, err := w.deposits.Create(ctx, core.Deposit{
		ID:                    uuid.NewString(),
		UserID:                resolved.UserID,
		Amount:                event.Amount,
		Currency:              currency,
		Chain:                 chain,
		Network:               detail.Network,
		Status:                core.DepositStatusPending,
		TransactionHash:       event.TransactionHash,
		WalletAddress:         event.Address,
		ConfirmationsRequired: required,
		ConfirmationsObserved: event.Confirmations,
		CreatedAt:             now,
	}); err != nil {
		return core.DepositTransaction{}, fmt.Errorf("ledger: legacy record insert failed: %w", err)
	}
	return detail, nil
}

// advanceConfirmations raises counters on both tables; stores clamp to
// max(observed, stored) so stale deliveries never lower a counter.
func (w *Writer) advanceConfirmations(
	ctx context.Context,
	event core.NormalizedEvent,
	resolved core.ResolvedAddress,
	detail core.DepositTransaction,
	chain string,
	currency string,
) error {
	if err := w.transactions.AdvanceConfirmations(ctx, detail.ID, event.Confirmations); err != nil {
		return fmt.Errorf("ledger: detail confirmation update failed: %w", err)
	}

	legacy, found, err := w.deposits.Find(ctx, resolved.UserID, event.TransactionHash)
	if err != nil {
		return fmt.Errorf("ledger: legacy lookup failed: %w", err)
	}
	if !found {
		// Repair a half-written pair from an earlier crash between inserts.
		// The mirror inherits the detail row's current status.
		if _, err := w.deposits.Create(ctx, core.Deposit{
			ID:                    uuid.NewString(),
			UserID:                resolved.UserID,
			Amount:                detail.Amount,
			Currency:              currency,
			Chain:                 chain,
			Network:               detail.Network,
			Status:                detail.Status,
			TransactionHash:       event.TransactionHash,
			WalletAddress:         detail.ToAddress,
			ConfirmationsRequired: detail.RequiredConfirmations,
			ConfirmationsObserved: event.Confirmations,
			ConfirmedAt:           detail.ConfirmedAt,
			CreatedAt:             w.Now(),
		}); err != nil {
			return fmt.Errorf("ledger: legacy record repair failed: %w", err)
		}
		return nil
	}
	if err := w.deposits.AdvanceConfirmations(ctx, legacy.ID, event.Confirmations); err != nil {
		return fmt.Errorf("ledger: legacy confirmation update failed: %w", err)
	}
	return nil
}

// confirmAndCredit performs the guarded transition and, only for the
// winner, the balance credit. Losing the transition means another writer
// already credited; that is the normal duplicate-delivery path.
func (w *Writer) confirmAndCredit(
	ctx context.Context,
	event core.NormalizedEvent,
	resolved core.ResolvedAddress,
	detail core.DepositTransaction,
	currency string,
) error {
	now := w.Now()
	won, err := w.transactions.Confirm(ctx, detail.ID, event.Confirmations, now)
	if err != nil {
		return fmt.Errorf("ledger: confirmation transition failed: %w", err)
	}
	if !won {
		return nil
	}

	if legacy, found, err := w.deposits.Find(ctx, resolved.UserID, event.TransactionHash); err != nil {
		w.logger.WithContext(ctx).Error("legacy lookup failed after confirmation",
			"transaction_hash", event.TransactionHash, "error", err.Error())
	} else if found {
		if err := w.deposits.MarkConfirmed(ctx, legacy.ID, event.Confirmations, now); err != nil {
			w.logger.WithContext(ctx).Error("legacy confirmation mirror failed",
				"transaction_hash", event.TransactionHash, "error", err.Error())
		}
	}

	if err := w.creditBalance(ctx, resolved.UserID, currency, event.Amount); err != nil {
		// The transition already advanced, so a replay will not re-enter
		// this branch. Surface loudly; operators reconcile from here.
		w.logger.WithContext(ctx).Error("balance credit failed after confirmation transition",
			"user_id", resolved.UserID,
			"currency", currency,
			"amount", event.Amount.String(),
			"transaction_hash", event.TransactionHash,
			"error", err.Error(),
		)
		return goerrors.Wrap(err, goerrors.CategoryOperation, "ledger: balance credit failed after confirmation").
			WithTextCode(core.ErrorCodeStorage).
			WithMetadata(map[string]any{
				"user_id":          resolved.UserID,
				"currency":         currency,
				"transaction_hash": event.TransactionHash,
			})
	}

	w.logger.WithContext(ctx).Info("deposit credited",
		"user_id", resolved.UserID,
		"currency", currency,
		"amount", event.Amount.String(),
		"transaction_hash", event.TransactionHash,
		"confirmations", event.Confirmations,
	)
	w.notify(ctx, event, resolved, currency)
	return nil
}

// creditBalance prefers the store's single atomic upsert-increment and
// falls back to an optimistic-locking loop when the backend cannot provide
// one. The loop retries version conflicts and first-insert races with
// jittered delays up to a fixed cap, then fails loudly.
func (w *Writer) creditBalance(ctx context.Context, userID string, currency string, amount decimal.Decimal) error {
	err := w.balances.Credit(ctx, userID, currency, amount)
	if err == nil {
		return nil
	}
	if !errors.Is(err, core.ErrAtomicCreditUnavailable) {
		return err
	}

	for attempt := 1; attempt <= maxCreditAttempts; attempt++ {
		current, found, err := w.balances.Get(ctx, userID, currency)
		if err != nil {
			return fmt.Errorf("ledger: balance read failed: %w", err)
		}
		if !found {
			err = w.balances.Insert(ctx, core.UserAssetBalance{
				UserID:    userID,
				Currency:  currency,
				Balance:   amount,
				UpdatedAt: w.Now(),
			})
			if err == nil {
				return nil
			}
			// Insert race with a concurrent first credit: re-read and
			// go through the compare-and-swap path.
		} else {
			swapped, err := w.balances.CompareAndSwap(ctx, userID, currency, current.Balance.Add(amount), current.UpdatedAt)
			if err != nil {
				return fmt.Errorf("ledger: balance conditional update failed: %w", err)
			}
			if swapped {
				return nil
			}
		}

		if attempt < maxCreditAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(creditRetryDelay(attempt)):
			}
		}
	}
	return fmt.Errorf("ledger: balance credit for user %s %s did not converge after %d attempts", userID, currency, maxCreditAttempts)
}

func (w *Writer) notify(ctx context.Context, event core.NormalizedEvent, resolved core.ResolvedAddress, currency string) {
	if w.notifications == nil {
		return
	}
	err := w.notifications.Create(ctx, core.DepositNotification{
		ID:              uuid.NewString(),
		UserID:          resolved.UserID,
		Currency:        currency,
		Amount:          event.Amount,
		TransactionHash: event.TransactionHash,
		Chain:           event.Chain,
		CreatedAt:       w.Now(),
	})
	if err != nil {
		// Best effort only; a missed notification never fails the deposit.
		w.logger.WithContext(ctx).Warn("deposit notification write failed",
			"user_id", resolved.UserID, "error", err.Error())
	}
}

func creditRetryDelay(attempt int) time.Duration {
	base := creditRetryBase * time.Duration(attempt)
	jitter := time.Duration(rand.Int63n(int64(creditRetryBase)))
	return base + jitter
}

func badDeposit(message string) error {
	return goerrors.New("ledger: "+message, goerrors.CategoryBadInput).
		WithTextCode(core.ErrorCodeBadInput)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
