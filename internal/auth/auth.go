// Package auth implements the server's client-token check (spec.md §4.6
// step 2): SHA-1 hash the presented token and compare in constant time
// against the configured set of accepted hashes. Per the Open Question
// resolved in SPEC_FULL.md §9, authentication is disabled entirely when no
// hashes are configured, so older agents and single-host setups work
// without a token.
package auth

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Verifier holds the accepted client token hashes (lowercase hex SHA-1).
type Verifier struct {
	hashes map[string]struct{}
}

// NewVerifier builds a Verifier from the configured hash list. An empty list
// produces a Verifier that accepts every token, including no token at all.
func NewVerifier(acceptedHashes []string) *Verifier {
	v := &Verifier{hashes: make(map[string]struct{}, len(acceptedHashes))}
	for _, h := range acceptedHashes {
		v.hashes[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}
	return v
}

// Required reports whether clients must present a valid token at all.
func (v *Verifier) Required() bool {
	return len(v.hashes) > 0
}

// Accept reports whether token hashes to one of the configured values.
// Comparison against each candidate is constant-time; which candidate (if
// any) matched is not observable from timing.
func (v *Verifier) Accept(token string) bool {
	if !v.Required() {
		return true
	}
	sum := sha1.Sum([]byte(token))
	got := hex.EncodeToString(sum[:])

	ok := false
	for h := range v.hashes {
		if subtle.ConstantTimeCompare([]byte(got), []byte(h)) == 1 {
			ok = true
		}
	}
	return ok
}
