package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the store, the order service and the
// matching engine. Handlers map them onto HTTP status codes.
var (
	ErrNotFound = errors.New("not found")
	// ErrConflict covers optimistic version mismatches and attempts to
	// open a second active delivery request for the same order.
	ErrConflict = errors.New("conflict")
	// ErrAlreadyAccepted is returned to the losing courier of an accept
	// race so the client can show "this delivery was already taken".
	ErrAlreadyAccepted = errors.New("request already accepted")
	ErrExpired         = errors.New("request expired")
)

// ValidationError rejects malformed input: empty carts, unavailable dishes,
// dishes from another restaurant, closed restaurants, below-minimum orders.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IllegalTransitionError names the rejected from/to pair so callers see an
// actionable reason rather than a generic failure.
type IllegalTransitionError struct {
	From OrderStatus
	To   OrderStatus
	Role ActorRole
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s by %s", e.From, e.To, e.Role)
}
