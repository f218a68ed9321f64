// Package etlerr tags pipeline failures with the layer they came from so
// callers can decide per kind whether to absorb or abort.
package etlerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind uint8

const (
	// Transport covers request failures and non-2xx responses.
	Transport Kind = iota + 1
	// Envelope covers a response that decoded but did not carry tabular data.
	Envelope
	// Storage covers unreadable, missing or unwritable layer files.
	Storage
	// Schema covers bronze data that violates a silver mapping.
	Schema
	// Config covers invalid caller input such as an unknown endpoint.
	Config
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Envelope:
		return "envelope"
	case Storage:
		return "storage"
	case Schema:
		return "schema"
	case Config:
		return "config"
	default:
		return "unknown"
	}
}

// Error is a failure tagged with its Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind and op. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a tagged error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost tagged error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// ErrNoRecords is returned when an extraction produced no rows at all.
var ErrNoRecords = errors.New("no records extracted")

// Mismatch describes one column of a bronze table that does not satisfy a
// schema mapping.
type Mismatch struct {
	Column  string
	Problem string
}

// SchemaMismatchError lists every mismatch found while validating a table
// against a mapping.
type SchemaMismatchError struct {
	Mapping    string
	Version    int
	Mismatches []Mismatch
}

func (e *SchemaMismatchError) Error() string {
	parts := make([]string, 0, len(e.Mismatches))
	for _, m := range e.Mismatches {
		parts = append(parts, fmt.Sprintf("%s: %s", m.Column, m.Problem))
	}
	return fmt.Sprintf("mapping %s v%d: %d mismatch(es): %s", e.Mapping, e.Version, len(e.Mismatches), strings.Join(parts, "; "))
}
