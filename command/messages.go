package command

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	TypeRetryDeadLetters    = "depositd.command.deadletter.retry_batch"
	TypeRetryAllDeadLetters = "depositd.command.deadletter.retry_all"
	TypeSweepExpired        = "depositd.command.deadletter.sweep"
	TypeCaptureDeadLetter   = "depositd.command.deadletter.capture"
)

// RetryDeadLettersMessage runs one claim-and-replay batch of due events.
type RetryDeadLettersMessage struct{}

func (RetryDeadLettersMessage) Type() string { return TypeRetryDeadLetters }

func (RetryDeadLettersMessage) Validate() error { return nil }

// RetryAllDeadLettersMessage drains every non-terminal event regardless of
// its scheduled retry time. Operator-initiated.
type RetryAllDeadLettersMessage struct{}

func (RetryAllDeadLettersMessage) Type() string { return TypeRetryAllDeadLetters }

func (RetryAllDeadLettersMessage) Validate() error { return nil }

type SweepExpiredMessage struct{}

func (SweepExpiredMessage) Type() string { return TypeSweepExpired }

func (SweepExpiredMessage) Validate() error { return nil }

// CaptureDeadLetterMessage parks a raw payload for later replay, used when
// an operator re-injects an event that never reached the queue.
type CaptureDeadLetterMessage struct {
	WebhookID string
	Payload   []byte
	Reason    string
}

func (CaptureDeadLetterMessage) Type() string { return TypeCaptureDeadLetter }

func (m CaptureDeadLetterMessage) Validate() error {
	if strings.TrimSpace(m.WebhookID) == "" {
		return fmt.Errorf("command: webhook id is required")
	}
	if len(m.Payload) == 0 {
		return fmt.Errorf("command: payload is required")
	}
	if !json.Valid(m.Payload) {
		return fmt.Errorf("command: payload must be valid json")
	}
	return nil
}
