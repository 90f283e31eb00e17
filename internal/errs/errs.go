// Package errs defines the error taxonomy shared by the logline agent and
// server: a small set of kinds (not concrete types) that callers can branch
// on with OfKind (built on errors.As) without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies which of the four error categories an error belongs to.
type Kind string

const (
	// Config marks errors from missing or malformed user input. Surfaces at
	// startup and is fatal to the process.
	Config Kind = "config"
	// Protocol marks a malformed frame, unexpected command, offset
	// mismatch, or unsupported compression codec. Fatal to the session.
	Protocol Kind = "protocol"
	// Auth marks a missing or unknown client token.
	Auth Kind = "auth"
	// Transient marks a network timeout, socket reset, or filesystem
	// hiccup. Callers back off and retry rather than giving up.
	Transient Kind = "transient"
)

// Error wraps an underlying error with a Kind so callers can classify it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind, wrapping err with an optional
// operation label op.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// OfKind reports whether err (or anything it wraps) is an *Error of kind.
func OfKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
