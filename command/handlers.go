package command

import (
	"context"
	"errors"
	"fmt"

	gocmd "github.com/goliatone/go-command"

	"github.com/coinhaven/depositd/core"
	"github.com/coinhaven/depositd/deadletter"
)

// DeadLetterService is the mutating surface of the retry queue that
// commands dispatch against.
type DeadLetterService interface {
	Capture(ctx context.Context, webhookID string, payload []byte, cause error) (core.DeadLetterEvent, error)
	ProcessDue(ctx context.Context) (deadletter.BatchSummary, error)
	RetryAll(ctx context.Context) ([]deadletter.RetryResult, error)
	SweepExpired(ctx context.Context) (int, error)
}

type RetryDeadLettersCommand struct {
	service DeadLetterService
}

func NewRetryDeadLettersCommand(service DeadLetterService) *RetryDeadLettersCommand {
	return &RetryDeadLettersCommand{service: service}
}

func (c *RetryDeadLettersCommand) Execute(ctx context.Context, msg RetryDeadLettersMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dead letter service is required")
	}
	summary, err := c.service.ProcessDue(ctx)
	if err != nil {
		// A concurrent batch already holds the single-flight guard;
		// the work is happening, so the command is a no-op.
		if errors.Is(err, deadletter.ErrBatchInFlight) {
			storeResult(ctx, deadletter.BatchSummary{})
			return nil
		}
		return err
	}
	storeResult(ctx, summary)
	return nil
}

type RetryAllDeadLettersCommand struct {
	service DeadLetterService
}

func NewRetryAllDeadLettersCommand(service DeadLetterService) *RetryAllDeadLettersCommand {
	return &RetryAllDeadLettersCommand{service: service}
}

func (c *RetryAllDeadLettersCommand) Execute(ctx context.Context, msg RetryAllDeadLettersMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dead letter service is required")
	}
	results, err := c.service.RetryAll(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, results)
	return nil
}

type SweepExpiredCommand struct {
	service DeadLetterService
}

func NewSweepExpiredCommand(service DeadLetterService) *SweepExpiredCommand {
	return &SweepExpiredCommand{service: service}
}

func (c *SweepExpiredCommand) Execute(ctx context.Context, msg SweepExpiredMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dead letter service is required")
	}
	swept, err := c.service.SweepExpired(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, swept)
	return nil
}

type CaptureDeadLetterCommand struct {
	service DeadLetterService
}

func NewCaptureDeadLetterCommand(service DeadLetterService) *CaptureDeadLetterCommand {
	return &CaptureDeadLetterCommand{service: service}
}

func (c *CaptureDeadLetterCommand) Execute(ctx context.Context, msg CaptureDeadLetterMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dead letter service is required")
	}
	cause := fmt.Errorf("operator capture: %s", msg.Reason)
	event, err := c.service.Capture(ctx, msg.WebhookID, msg.Payload, cause)
	if err != nil {
		return err
	}
	storeResult(ctx, event)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
