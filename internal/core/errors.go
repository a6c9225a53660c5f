package core

import "errors"

// Error kinds surfaced by the engine. Callers are expected to branch with
// errors.Is; everything else is wrapped context.
var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidDate         = errors.New("invalid date")
	ErrInvalidInstallments = errors.New("invalid installment count")
	ErrEmptyTitle          = errors.New("empty title")
	ErrNotFound            = errors.New("record not found")

	// ErrTenantMismatch marks a record outside the caller's scope. It is
	// always surfaced, never silently filtered or corrected.
	ErrTenantMismatch = errors.New("record outside tenant scope")

	// ErrConcurrencyConflict signals a racing synchronize; the caller
	// retries with fresh data.
	ErrConcurrencyConflict = errors.New("concurrent modification")

	// ErrInvalidOperation covers forbidden series mutations: deleting a
	// posted row, or deleting the sole remaining unpaid row.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrInvalidStateTransition is returned for invoice transitions the
	// state machine does not allow.
	ErrInvalidStateTransition = errors.New("invalid state transition")
)
