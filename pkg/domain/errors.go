package domain

import (
	"errors"
	"fmt"
)

// Violation is an invariant breach detected before submission. Its Reason is
// part of the observable contract: callers and test suites match on it.
type Violation struct {
	Kind   TransitionKind
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s rejected: %s", v.Kind, v.Reason)
}

func violation(kind TransitionKind, format string, args ...any) error {
	return &Violation{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// ProofError means a presented attestation failed verification. The record
// is unchanged and the operation is retryable once a valid proof exists; it
// signals a counterpart or network problem, not a caller mistake.
type ProofError struct {
	SourceSystemID string
	Err            error
}

func (e *ProofError) Error() string {
	return fmt.Sprintf("proof from %q rejected: %v", e.SourceSystemID, e.Err)
}

func (e *ProofError) Unwrap() error { return e.Err }

var (
	// ErrConflict: the consumed record version is no longer current; a
	// concurrent transition won. Retryable against the new current version.
	ErrConflict = errors.New("record version conflict")

	// ErrNotFound: no record exists for the given id or trade.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyFinal: the record is already in a terminal state; replayed
	// confirm/cancel/resolve requests are reported with this rather than
	// silently succeeding.
	ErrAlreadyFinal = errors.New("record already in a terminal state")

	// ErrNotYetFinal: the counterpart record has not reached a terminal
	// state. A legitimate transient condition; retry on backoff.
	ErrNotYetFinal = errors.New("counterpart record not yet final")

	// ErrUnknownBinding: a resolution was requested for a trade the
	// counterpart never earmarked a commitment for. Fatal for the call.
	ErrUnknownBinding = errors.New("no commitment is bound to this trade")

	// ErrTradeMismatch: the trade id on the commitment does not match the
	// trade being settled. Fatal for the call.
	ErrTradeMismatch = errors.New("trade id mismatch between records")
)
