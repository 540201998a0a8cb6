package server

import (
	"github.com/coinhaven/depositd/deadletter"
	"github.com/coinhaven/depositd/webhook"
)

var (
	_ Ingress      = (*webhook.Pipeline)(nil)
	_ RetryService = (*deadletter.Queue)(nil)
)
