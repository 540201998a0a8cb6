package command

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/coinhaven/depositd/deadletter"
)

var (
	_ DeadLetterService = (*deadletter.Queue)(nil)

	_ gocmd.Commander[RetryDeadLettersMessage]    = (*RetryDeadLettersCommand)(nil)
	_ gocmd.Commander[RetryAllDeadLettersMessage] = (*RetryAllDeadLettersCommand)(nil)
	_ gocmd.Commander[SweepExpiredMessage]        = (*SweepExpiredCommand)(nil)
	_ gocmd.Commander[CaptureDeadLetterMessage]   = (*CaptureDeadLetterCommand)(nil)
)
