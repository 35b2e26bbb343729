package errs

import "errors"

// Standard application-level errors. Infrastructure adapters wrap their
// underlying failures with these so callers can branch on errors.Is.
//
// Note the split between errors and denials: a risk-limit violation or a
// tripped circuit breaker is NOT an error anywhere in this codebase. Those
// come back as structured results with Allowed=false and a reason. The
// sentinels below are reserved for malformed input and infrastructure
// faults.
var (
	// ErrValidation flags malformed or out-of-range caller input
	// (negative quantity, risk budget outside [1,1000] bps, ...).
	// Never retried.
	ErrValidation = errors.New("invalid input")

	// ErrConfig flags missing or unknown static configuration,
	// e.g. a venue with no fee schedule.
	ErrConfig = errors.New("invalid or missing configuration")

	// ErrInvalidState flags an operation applied to a record in a state
	// that forbids it, e.g. cancelling a filled order.
	ErrInvalidState = errors.New("operation not valid in current state")

	// ErrNotFound flags a missing record.
	ErrNotFound = errors.New("record not found")

	// ErrExchangeTimeout flags an exchange call whose outcome is unknown.
	// Policy: never retry placement on this error; reconcile first.
	ErrExchangeTimeout = errors.New("exchange call timed out (outcome unknown)")

	// ErrExchangeRejected flags a definite exchange-side rejection
	// (insufficient balance, bad symbol). Safe to surface directly.
	ErrExchangeRejected = errors.New("order rejected by exchange")

	// ErrConflict flags an optimistic-lock failure on a versioned record.
	// Expected under concurrent trade requests; callers re-read and retry
	// a bounded number of times before surfacing it.
	ErrConflict = errors.New("concurrent update conflict")
)
