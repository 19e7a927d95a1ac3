package domain

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
	ErrSigningFailed = errors.New("signing failed")

	// Validation.
	ErrInvalidRequest = errors.New("invalid request")

	// Transient: retried with bounded attempts and backoff.
	ErrQuoteUnavailable   = errors.New("quote unavailable")
	ErrTimeout            = errors.New("timeout")
	ErrRPC                = errors.New("rpc error")
	ErrTransientLiquidity = errors.New("insufficient liquidity")

	// Stale data is returned alongside a usable value; callers decide.
	ErrStaleData = errors.New("stale data")

	// Terminal for the current attempt.
	ErrNoRoute             = errors.New("no route")
	ErrReverted            = errors.New("transaction reverted")
	ErrSlippageExceeded    = errors.New("slippage exceeded")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidRoute        = errors.New("invalid route")
	ErrPartialFill         = errors.New("partial fill not allowed")
	ErrRetriesExhausted    = errors.New("retries exhausted")
	ErrCancelled           = errors.New("cancelled by user")
	ErrRiskRejected        = errors.New("rejected by risk gate")
)

// IsRetryable reports whether err belongs to the transient class.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrQuoteUnavailable),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrRPC),
		errors.Is(err, ErrTransientLiquidity),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

// IsTerminal reports whether err ends the current execution attempt: the
// entity keeps its schedule but this attempt is recorded as failed.
func IsTerminal(err error) bool {
	for _, target := range []error{
		ErrInvalidRequest, ErrNoRoute, ErrReverted, ErrSlippageExceeded,
		ErrInsufficientBalance, ErrInvalidRoute, ErrPartialFill,
		ErrRetriesExhausted, ErrCancelled, ErrRiskRejected,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
