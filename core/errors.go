package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorCodeBadInput          = "DEPOSIT_BAD_INPUT"
	ErrorCodeUnauthorized      = "DEPOSIT_UNAUTHORIZED"
	ErrorCodeRateLimited       = "DEPOSIT_RATE_LIMITED"
	ErrorCodeAddressUnresolved = "DEPOSIT_ADDRESS_UNRESOLVED"
	ErrorCodeConflict          = "DEPOSIT_CONFLICT"
	ErrorCodeStorage           = "DEPOSIT_STORAGE_FAILURE"
	ErrorCodeInternal          = "DEPOSIT_INTERNAL_ERROR"
)

// PipelineErrorMapper normalizes any error raised inside the ingestion
// pipeline into a categorized envelope with an HTTP status and text code.
func PipelineErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensurePipelineEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"), strings.Contains(msg, "unauthorized"):
		return newPipelineError(err.Error(), goerrors.CategoryAuth, ErrorCodeUnauthorized)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return newPipelineError(err.Error(), goerrors.CategoryRateLimit, ErrorCodeRateLimited)
	case strings.Contains(msg, "unresolved"), strings.Contains(msg, "ambiguous"):
		return newPipelineError(err.Error(), goerrors.CategoryValidation, ErrorCodeAddressUnresolved)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "malformed"):
		return newPipelineError(err.Error(), goerrors.CategoryBadInput, ErrorCodeBadInput)
	case strings.Contains(msg, "duplicate key"), strings.Contains(msg, "unique constraint"):
		return newPipelineError(err.Error(), goerrors.CategoryConflict, ErrorCodeConflict)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensurePipelineEnvelope(mapped)
}

func newPipelineError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensurePipelineEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensurePipelineEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = pipelineHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultPipelineTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultPipelineTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorCodeBadInput
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorCodeUnauthorized
	case goerrors.CategoryRateLimit:
		return ErrorCodeRateLimited
	case goerrors.CategoryConflict:
		return ErrorCodeConflict
	case goerrors.CategoryExternal, goerrors.CategoryOperation:
		return ErrorCodeStorage
	default:
		return ErrorCodeInternal
	}
}

func pipelineHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
