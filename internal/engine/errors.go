package engine

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrOrder      = errors.New("order error")
	ErrStore      = errors.New("store error")
	ErrInvariant  = errors.New("engine invariant violated")
	ErrClosed     = errors.New("engine is not running")
)

// ValidationError rejects a submission before it touches the engine.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type OrderErrorCode string

const (
	CodeNotFound         OrderErrorCode = "not_found"
	CodeAlreadyFilled    OrderErrorCode = "already_filled"
	CodeAlreadyCancelled OrderErrorCode = "already_cancelled"
	CodeNotOwner         OrderErrorCode = "not_owner"
)

// OrderError reports an operation on a missing or terminal order. The engine
// state is unchanged when one is returned.
type OrderError struct {
	OrderID int64
	Code    OrderErrorCode
}

func (e *OrderError) Error() string {
	switch e.Code {
	case CodeNotFound:
		return fmt.Sprintf("order %d not found", e.OrderID)
	case CodeAlreadyFilled:
		return fmt.Sprintf("order %d already filled", e.OrderID)
	case CodeAlreadyCancelled:
		return fmt.Sprintf("order %d already cancelled", e.OrderID)
	case CodeNotOwner:
		return fmt.Sprintf("order %d belongs to another user", e.OrderID)
	}
	return fmt.Sprintf("order %d: %s", e.OrderID, e.Code)
}

func (e *OrderError) Is(target error) bool { return target == ErrOrder }

// StoreError wraps a persistence failure after retries were exhausted.
type StoreError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

// InvariantError means the engine caught itself about to break a book or
// order invariant. The offending operation is aborted.
type InvariantError struct {
	Detail string
}

func (e *InvariantError) Error() string { return "invariant violated: " + e.Detail }

func (e *InvariantError) Is(target error) bool { return target == ErrInvariant }

func invariantf(format string, args ...any) error {
	return &InvariantError{Detail: fmt.Sprintf(format, args...)}
}
