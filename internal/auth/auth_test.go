package auth_test

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/messa/logline/internal/auth"
)

func hashOf(token string) string {
	sum := sha1.Sum([]byte(token))
	return hex.EncodeToString(sum[:])
}

func TestAuthOptionalWhenNoHashesConfigured(t *testing.T) {
	v := auth.NewVerifier(nil)
	if v.Required() {
		t.Fatal("Required() = true for empty hash list")
	}
	if !v.Accept("") {
		t.Fatal("Accept(\"\") = false, want true when auth is optional")
	}
	if !v.Accept("anything") {
		t.Fatal("Accept(token) = false, want true when auth is optional")
	}
}

func TestAuthAcceptsConfiguredToken(t *testing.T) {
	v := auth.NewVerifier([]string{hashOf("s3cr3t")})
	if !v.Required() {
		t.Fatal("Required() = false, want true")
	}
	if !v.Accept("s3cr3t") {
		t.Fatal("expected configured token to be accepted")
	}
}

func TestAuthRejectsUnknownToken(t *testing.T) {
	v := auth.NewVerifier([]string{hashOf("s3cr3t")})
	if v.Accept("wrong") {
		t.Fatal("expected unknown token to be rejected")
	}
}

func TestAuthHashComparisonIsCaseInsensitiveOnConfig(t *testing.T) {
	v := auth.NewVerifier([]string{strings.ToUpper(hashOf("s3cr3t"))})
	if !v.Accept("s3cr3t") {
		t.Fatal("expected token accepted regardless of configured hash casing")
	}
}
