package service

import (
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/resource-reservation/internal/repository"
)

// Kind tags every error returned by the booking protocol.
type Kind string

const (
	KindInsufficientCapacity    Kind = "insufficient_capacity"
	KindCapacityExceeded        Kind = "capacity_exceeded"
	KindResourceNotAllowed      Kind = "resource_not_allowed"
	KindStockInvariantViolation Kind = "stock_invariant_violation"
	KindInvalidTimeWindow       Kind = "invalid_time_window"
	KindStructuralViolation     Kind = "structural_violation"
	KindInvalidQuantity         Kind = "invalid_quantity"
	KindInvalidArgument         Kind = "invalid_argument"
	KindNotFound                Kind = "not_found"
	KindStoreUnavailable        Kind = "store_unavailable"
)

// Error is a tagged booking failure. Two errors match under errors.Is when
// they carry the same Kind, so callers compare against the Err* sentinels.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInsufficientCapacity    = &Error{Kind: KindInsufficientCapacity}
	ErrCapacityExceeded        = &Error{Kind: KindCapacityExceeded}
	ErrResourceNotAllowed      = &Error{Kind: KindResourceNotAllowed}
	ErrStockInvariantViolation = &Error{Kind: KindStockInvariantViolation}
	ErrInvalidTimeWindow       = &Error{Kind: KindInvalidTimeWindow}
	ErrStructuralViolation     = &Error{Kind: KindStructuralViolation}
	ErrInvalidQuantity         = &Error{Kind: KindInvalidQuantity}
	ErrInvalidArgument         = &Error{Kind: KindInvalidArgument}
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrStoreUnavailable        = &Error{Kind: KindStoreUnavailable}
)

func fail(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the tag of err, or "" when err did not come from the booking protocol.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the caller may replay the operation verbatim.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// storeErr converts an entity store failure into a tagged error.
func storeErr(err error, what string) error {
	if err == nil {
		return nil
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return err
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: what + " not found", Err: err}
	case errors.Is(err, repository.ErrDuplicate), errors.Is(err, repository.ErrConstraint):
		return &Error{Kind: KindStructuralViolation, Message: what, Err: err}
	default:
		return &Error{Kind: KindStoreUnavailable, Message: what, Err: err}
	}
}
