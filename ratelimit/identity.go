package ratelimit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
)

// IdentityHasher derives the lookup key for a client identity. The identity
// is keyed-hashed before it touches any shared store so raw IPs never leak
// through the rate-limit backend. HMAC with a fixed server-side key keeps
// the hash deterministic across calls and instances; repeated lookups for
// the same client must collide.
type IdentityHasher struct {
	key []byte
}

func NewIdentityHasher(key string) *IdentityHasher {
	return &IdentityHasher{key: []byte(key)}
}

func (h *IdentityHasher) Hash(clientID string) string {
	if h == nil || len(h.key) == 0 {
		// Unkeyed fallback for development setups without an identity key.
		sum := sha256.Sum256([]byte(strings.TrimSpace(clientID)))
		return hex.EncodeToString(sum[:])
	}
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(strings.TrimSpace(clientID)))
	return hex.EncodeToString(mac.Sum(nil))
}

// ClientIP extracts the caller identity from proxy headers, preferring the
// first X-Forwarded-For hop and falling back to the socket peer address.
func ClientIP(forwardedFor string, remoteAddr string) string {
	if forwardedFor = strings.TrimSpace(forwardedFor); forwardedFor != "" {
		parts := strings.Split(forwardedFor, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(remoteAddr))
	if err != nil {
		return strings.TrimSpace(remoteAddr)
	}
	return host
}
