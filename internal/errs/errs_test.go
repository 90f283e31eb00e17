package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/messa/logline/internal/errs"
)

func TestOfKindMatchesWrappedError(t *testing.T) {
	base := fmt.Errorf("connection reset")
	err := errs.New(errs.Transient, "read frame", base)
	if !errs.OfKind(err, errs.Transient) {
		t.Fatal("expected OfKind to match Transient")
	}
	if errs.OfKind(err, errs.Protocol) {
		t.Fatal("expected OfKind not to match Protocol")
	}
}

func TestOfKindThroughMultipleWraps(t *testing.T) {
	inner := errs.New(errs.Auth, "authenticate", errors.New("unknown token"))
	outer := fmt.Errorf("session failed: %w", inner)
	if !errs.OfKind(outer, errs.Auth) {
		t.Fatal("expected OfKind to see through fmt.Errorf wrapping")
	}
}

func TestOfKindFalseForPlainError(t *testing.T) {
	if errs.OfKind(errors.New("plain"), errs.Config) {
		t.Fatal("expected OfKind(plain error) = false")
	}
}

func TestErrorMessageIncludesOp(t *testing.T) {
	err := errs.New(errs.Config, "load config", errors.New("missing --dest"))
	want := "config: load config: missing --dest"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
