// Package auth implements the two checks the API boundary performs:
// a static X-API-Key header for mutating routes, and an HMAC-SHA256
// signature check for the Alertmanager webhook intake. There is no
// session, JWT, or OAuth layer — every check is a single shared secret.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// APIKeyChecker validates the X-API-Key header against a fixed set of keys.
type APIKeyChecker struct {
	keys map[string]struct{}
}

// NewAPIKeyChecker builds a checker from a list of accepted keys. An empty
// list means the check is disabled: Check always returns true.
func NewAPIKeyChecker(keys []string) *APIKeyChecker {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k != "" {
			set[k] = struct{}{}
		}
	}
	return &APIKeyChecker{keys: set}
}

// Enabled reports whether any keys were configured.
func (c *APIKeyChecker) Enabled() bool {
	return c != nil && len(c.keys) > 0
}

// Check compares presented against every configured key using a
// constant-time comparison, matching any one of them. Returns true when
// the checker is disabled.
func (c *APIKeyChecker) Check(presented string) bool {
	if !c.Enabled() {
		return true
	}
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return false
	}
	ok := false
	for key := range c.keys {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
			ok = true
		}
	}
	return ok
}

// VerifyWebhookSignature reports whether signature is the hex-encoded
// HMAC-SHA256 of body under secret. An empty secret always fails closed:
// callers gate on secret != "" before calling.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(decoded, expected)
}
