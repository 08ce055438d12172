// Package errkind defines the error taxonomy shared across the graph
// construction and consistency engine. Components wrap low-level errors
// in one of these kinds at the point they cross a component boundary, so
// callers can branch with errors.Is/errors.As instead of string matching.
package errkind

import "fmt"

// Kind identifies a class of error in the taxonomy, not a specific error
// value. Two errors of the same Kind are not necessarily equal.
type Kind string

const (
	// ParseError is a per-class bytecode parse failure. Never fatal to a batch.
	ParseError Kind = "parse_error"
	// StoreIntegrityError covers FK violations and failed dual-write tracking.
	StoreIntegrityError Kind = "store_integrity_error"
	// VectorFailure is a transient vector-store error tracked for reconciliation.
	VectorFailure Kind = "vector_failure"
	// LLMTransient covers rate-limit/network errors from a Summariser or Embedder; retried.
	LLMTransient Kind = "llm_transient"
	// LLMFatal covers schema/auth/quota errors; not retried.
	LLMFatal Kind = "llm_fatal"
	// ConcurrencyConflict covers e.g. a job already acquired by another caller.
	ConcurrencyConflict Kind = "concurrency_conflict"
	// SwapIncomplete is detected on startup when a shadow-rebuild swap did not finish.
	SwapIncomplete Kind = "swap_incomplete"
)

// Error is a taxonomy-tagged error carrying enough context to identify the
// fqn/job/class path that failed, without losing the underlying cause.
type Error struct {
	Kind   Kind
	Target string // fqn, job_id, or file path, whichever applies
	Err    error
}

func (e *Error) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s[%s]: %v", e.Kind, e.Target, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, errkind.ParseError) style checks against a bare Kind
// by treating a Kind value itself as a sentinel to compare against.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && e.Kind == k
}

// Error satisfies the error interface so errkind.ParseError (etc.) can be
// passed directly to errors.Is against a wrapped *Error.
func (k Kind) Error() string { return string(k) }

// New wraps err with the given kind and target identifier.
func New(kind Kind, target string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Target: target, Err: err}
}
