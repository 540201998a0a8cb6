package webhook

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return "sha512=" + hex.EncodeToString(mac.Sum(nil))
}

func TestSignatureVerifierAcceptsValidSignature(t *testing.T) {
	verifier := SignatureVerifier{Secret: "shared-secret"}
	body := []byte(`{"type":"INCOMING_NATIVE_TX"}`)

	for _, header := range []string{"x-tatum-signature", "signature", "X-Tatum-Signature"} {
		headers := map[string]string{header: sign("shared-secret", body)}
		if err := verifier.Verify(headers, body); err != nil {
			t.Fatalf("header %s: expected valid signature, got %v", header, err)
		}
	}
}

func TestSignatureVerifierRejectsBadSignature(t *testing.T) {
	verifier := SignatureVerifier{Secret: "shared-secret"}
	body := []byte(`{"type":"INCOMING_NATIVE_TX"}`)

	cases := map[string]map[string]string{
		"missing header":   {},
		"wrong secret":     {"x-tatum-signature": sign("other-secret", body)},
		"tampered body":    {"x-tatum-signature": sign("shared-secret", []byte(`{}`))},
		"not hex":          {"x-tatum-signature": "sha512=zzzz"},
		"empty value":      {"x-tatum-signature": "sha512="},
		"unrelated header": {"x-api-key": "abc"},
	}
	for name, headers := range cases {
		if err := verifier.Verify(headers, body); err == nil {
			t.Fatalf("%s: expected verification failure", name)
		}
	}
}

func TestSignatureVerifierDisabledWithoutSecret(t *testing.T) {
	verifier := SignatureVerifier{}
	if verifier.Enabled() {
		t.Fatal("expected verifier without secret to be disabled")
	}
	if err := verifier.Verify(map[string]string{}, []byte(`{}`)); err != nil {
		t.Fatalf("expected disabled verifier to pass, got %v", err)
	}
}
