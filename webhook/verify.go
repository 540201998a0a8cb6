package webhook

import (
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/coinhaven/depositd/core"
)

// Signature headers checked in order; custodians send one or the other
// depending on subscription vintage.
var signatureHeaders = []string{"x-tatum-signature", "signature"}

const signaturePrefix = "sha512="

// SignatureVerifier checks the HMAC-SHA512 signature over the raw request
// body. With no secret configured verification is disabled; production
// startup rejects that configuration.
type SignatureVerifier struct {
	Secret string
}

func (v SignatureVerifier) Enabled() bool {
	return strings.TrimSpace(v.Secret) != ""
}

func (v SignatureVerifier) Verify(headers map[string]string, body []byte) error {
	if !v.Enabled() {
		return nil
	}

	header := ""
	for _, key := range signatureHeaders {
		if value := strings.TrimSpace(headerValue(headers, key)); value != "" {
			header = value
			break
		}
	}
	if header == "" {
		return unauthorized("signature header is required")
	}

	signature := strings.TrimSpace(strings.TrimPrefix(header, signaturePrefix))
	if signature == "" {
		return unauthorized("signature value is required")
	}
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return unauthorized("signature must be hex encoded")
	}

	mac := hmac.New(sha512.New, []byte(strings.TrimSpace(v.Secret)))
	_, _ = mac.Write(body)
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return unauthorized("signature verification failed")
	}
	return nil
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	if value, ok := headers[key]; ok {
		return value
	}
	for candidate, value := range headers {
		if strings.EqualFold(candidate, key) {
			return value
		}
	}
	return ""
}

func unauthorized(message string) error {
	return goerrors.New("webhook: "+message, goerrors.CategoryAuth).
		WithTextCode(core.ErrorCodeUnauthorized)
}
