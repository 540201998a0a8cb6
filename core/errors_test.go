package core

import (
	stderrors "errors"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestPipelineErrorMapper_AssignsStableCodes(t *testing.T) {
	mapped := PipelineErrorMapper(stderrors.New("webhook: signature verification failed"))
	if mapped.TextCode != ErrorCodeUnauthorized {
		t.Fatalf("expected unauthorized text code, got %q", mapped.TextCode)
	}
	if mapped.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", mapped.Code)
	}

	mapped = PipelineErrorMapper(stderrors.New("ratelimit: rate limit exceeded for identity"))
	if mapped.TextCode != ErrorCodeRateLimited {
		t.Fatalf("expected rate limit code, got %q", mapped.TextCode)
	}
	if mapped.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", mapped.Code)
	}

	mapped = PipelineErrorMapper(stderrors.New("resolve: address is ambiguous without a tag"))
	if mapped.TextCode != ErrorCodeAddressUnresolved {
		t.Fatalf("expected address unresolved code, got %q", mapped.TextCode)
	}
	if mapped.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", mapped.Category)
	}

	mapped = PipelineErrorMapper(stderrors.New("webhook: malformed payload: unexpected end of input"))
	if mapped.TextCode != ErrorCodeBadInput {
		t.Fatalf("expected bad input code, got %q", mapped.TextCode)
	}
	if mapped.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", mapped.Code)
	}

	mapped = PipelineErrorMapper(stderrors.New(`pq: duplicate key value violates unique constraint "uq_deposits"`))
	if mapped.TextCode != ErrorCodeConflict {
		t.Fatalf("expected conflict code, got %q", mapped.TextCode)
	}
	if mapped.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", mapped.Code)
	}
}

func TestPipelineErrorMapper_CompletesRichErrorEnvelope(t *testing.T) {
	// Category only; the mapper fills in the status and text code.
	mapped := PipelineErrorMapper(goerrors.New("webhook: bad signature", goerrors.CategoryAuth))
	if mapped.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 from category, got %d", mapped.Code)
	}
	if mapped.TextCode != ErrorCodeUnauthorized {
		t.Fatalf("expected unauthorized text code, got %q", mapped.TextCode)
	}

	// Fully specified errors pass through untouched.
	rich := goerrors.New("ledger: storage write failed", goerrors.CategoryOperation).
		WithCode(http.StatusBadGateway).
		WithTextCode(ErrorCodeStorage)
	mapped = PipelineErrorMapper(rich)
	if mapped.Code != http.StatusBadGateway {
		t.Fatalf("expected explicit code preserved, got %d", mapped.Code)
	}
	if mapped.TextCode != ErrorCodeStorage {
		t.Fatalf("expected explicit text code preserved, got %q", mapped.TextCode)
	}
}

func TestPipelineErrorMapper_NilAndUnmatched(t *testing.T) {
	if mapped := PipelineErrorMapper(nil); mapped != nil {
		t.Fatalf("expected nil for nil error, got %v", mapped)
	}

	mapped := PipelineErrorMapper(stderrors.New("something unexpected happened"))
	if mapped == nil {
		t.Fatal("expected mapped error for unmatched message")
	}
	if mapped.Code == 0 {
		t.Fatal("expected http status assigned on unmatched error")
	}
	if mapped.TextCode == "" {
		t.Fatal("expected text code assigned on unmatched error")
	}
}
