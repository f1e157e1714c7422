// Package simerr defines the error classes shared by the simulation packages.
//
// Invariant violations are fatal: they mean the calling logic broke a
// consistency rule and the run must halt. Business rejections (a declined
// mortgage, a bid with no matching offer) are never errors; they surface as
// nil results.
package simerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInvariant is the sentinel matched by every InvariantError.
var ErrInvariant = errors.New("invariant violation")

// InvariantError identifies the entity whose state broke an invariant.
type InvariantError struct {
	Entity string // "house", "offer", "household", "bank", ...
	ID     uint64
	Op     string
	Msg    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation: %s %d: %s: %s", e.Entity, e.ID, e.Op, e.Msg)
}

// Is makes errors.Is(err, ErrInvariant) true for any InvariantError.
func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariant
}

// Invariant builds an InvariantError with a formatted message. The returned
// error carries a stack trace.
func Invariant(entity string, id uint64, op, format string, args ...any) error {
	return errors.WithStack(&InvariantError{
		Entity: entity,
		ID:     id,
		Op:     op,
		Msg:    fmt.Sprintf(format, args...),
	})
}

// IsInvariant reports whether err is, or wraps, an invariant violation.
func IsInvariant(err error) bool {
	return errors.Is(err, ErrInvariant)
}

// AsInvariant extracts the InvariantError from err, if there is one.
func AsInvariant(err error) (*InvariantError, bool) {
	var ie *InvariantError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}
