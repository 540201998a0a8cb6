package resolve

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	maxGenericMemoLength = 32
	maxDestinationTag    = uint64(1)<<32 - 1
)

// MemoValidation is the typed outcome of sanitizing a memo or destination
// tag. Sanitized carries the value to query with; RejectionReason is set
// only when IsValid is false.
type MemoValidation struct {
	IsValid         bool
	Sanitized       string
	RejectionReason string
}

var (
	genericMemoPattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	// Crude but deliberate: memos feed store lookups and audit logs, so
	// anything that smells like an injection attempt is rejected outright.
	injectionPattern = regexp.MustCompile(`(?i)('|--|;|<\s*script|drop\s+table|insert\s+into|delete\s+from|union\s+select)`)
)

// ValidateMemo sanitizes a raw memo for the given chain. XRP destination
// tags must be a numeric string within uint32 range; other chains accept
// short alphanumeric memos only.
func ValidateMemo(chain string, memo string) MemoValidation {
	trimmed := strings.TrimSpace(memo)
	if trimmed == "" {
		return MemoValidation{IsValid: false, RejectionReason: "memo is empty"}
	}
	if injectionPattern.MatchString(trimmed) {
		return MemoValidation{IsValid: false, RejectionReason: "memo contains disallowed characters"}
	}

	if strings.EqualFold(strings.TrimSpace(chain), "xrp") {
		tag, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return MemoValidation{IsValid: false, RejectionReason: "destination tag must be numeric"}
		}
		if tag > maxDestinationTag {
			return MemoValidation{IsValid: false, RejectionReason: "destination tag exceeds uint32 range"}
		}
		return MemoValidation{IsValid: true, Sanitized: strconv.FormatUint(tag, 10)}
	}

	if len(trimmed) > maxGenericMemoLength {
		return MemoValidation{IsValid: false, RejectionReason: "memo exceeds 32 characters"}
	}
	if !genericMemoPattern.MatchString(trimmed) {
		return MemoValidation{IsValid: false, RejectionReason: "memo must be alphanumeric"}
	}
	return MemoValidation{IsValid: true, Sanitized: trimmed}
}
