package deadletter

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/coinhaven/depositd/core"
)

// Ordered rule tables, most specific first. Message matching is a fallback
// for errors that arrive without a category.
var permanentMarkers = []string{
	"permission denied",
	"unauthorized",
	"forbidden",
	"invalid signature",
	"signature verification",
	"malformed",
	"schema",
	"not-null constraint",
	"invalid input syntax",
	"unresolved",
	"is required",
}

var rateLimitedMarkers = []string{
	"429",
	"rate limit",
	"too many requests",
	"quota exceeded",
}

var retryableMarkers = []string{
	"timeout",
	"timed out",
	"econnreset",
	"econnrefused",
	"connection refused",
	"connection reset",
	"broken pipe",
	"network",
	"unavailable",
	"temporar",
	"deadlock",
	"too many connections",
	"500",
	"502",
	"503",
	"504",
}

// Classify buckets a processing failure into the closed retry taxonomy.
// Unmatched errors classify retryable; dropping a money-moving event
// silently is worse than an extra retry.
func Classify(err error) core.FailureKind {
	if err == nil {
		return core.FailureRetryable
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz,
			goerrors.CategoryBadInput, goerrors.CategoryValidation:
			return core.FailurePermanent
		case goerrors.CategoryRateLimit:
			return core.FailureRateLimited
		case goerrors.CategoryExternal, goerrors.CategoryOperation:
			return core.FailureRetryable
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return core.FailurePermanent
		}
	}
	for _, marker := range rateLimitedMarkers {
		if strings.Contains(msg, marker) {
			return core.FailureRateLimited
		}
	}
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return core.FailureRetryable
		}
	}
	return core.FailureRetryable
}
