package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/repositories"
)

var (
	// ErrValidation signals malformed caller input.
	ErrValidation = errors.New("validation failed")
	// ErrEmptyCart indicates checkout was attempted on a cart without lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInsufficientStock indicates at least one product cannot satisfy the requested quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrIllegalTransition indicates the requested status change is not in the transition table.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrConcurrencyTimeout indicates a lock was not granted before the deadline.
	ErrConcurrencyTimeout = errors.New("concurrency timeout")
	// ErrNotFound indicates the referenced cart, order, line or product does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness or state conflict in the store.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable indicates the store could not be reached.
	ErrUnavailable = errors.New("unavailable")
	// ErrForbidden indicates the caller does not own the resource.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError reports one malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func newValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InsufficientStockError lists every product whose request could not be satisfied.
type InsufficientStockError struct {
	Shortfalls []domain.StockShortfall
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("%s requested %d available %d", s.ProductID, s.Requested, s.Available))
	}
	return fmt.Sprintf("%s: %s", ErrInsufficientStock, strings.Join(parts, "; "))
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// IllegalTransitionError carries the attempted edge of the order state machine.
type IllegalTransitionError struct {
	From   domain.OrderStatus
	To     domain.OrderStatus
	Reason string
}

func (e *IllegalTransitionError) Error() string {
	msg := fmt.Sprintf("%s: %s -> %s", ErrIllegalTransition, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }

// ConcurrencyTimeoutError reports an operation that gave up waiting for a lock.
type ConcurrencyTimeoutError struct {
	Op  string
	Err error
}

func (e *ConcurrencyTimeoutError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrConcurrencyTimeout, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", ErrConcurrencyTimeout, e.Op, e.Err)
}

func (e *ConcurrencyTimeoutError) Is(target error) bool { return target == ErrConcurrencyTimeout }

func (e *ConcurrencyTimeoutError) Unwrap() error { return e.Err }

var serviceSentinels = []error{
	ErrValidation,
	ErrEmptyCart,
	ErrInsufficientStock,
	ErrIllegalTransition,
	ErrConcurrencyTimeout,
	ErrNotFound,
	ErrConflict,
	ErrUnavailable,
	ErrForbidden,
}

func isServiceError(err error) bool {
	for _, sentinel := range serviceSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// mapRepositoryError translates store failures into the service taxonomy. Errors that already
// belong to the taxonomy pass through unchanged so transaction bodies can return them directly.
func mapRepositoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isServiceError(err) {
		return err
	}
	if errors.Is(err, repositories.ErrLockTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return &ConcurrencyTimeoutError{Op: op, Err: err}
	}
	if errors.Is(err, repositories.ErrDuplicateOrderNumber) {
		return fmt.Errorf("%w: %s: %v", ErrConflict, op, err)
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, invErr.Error())
		case repositories.InventoryErrorNegativeStock:
			return newValidationError("quantity", "%s", invErr.Message)
		}
		return fmt.Errorf("%w: %s", ErrConflict, invErr.Error())
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s: %v", ErrNotFound, op, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s: %v", ErrConflict, op, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepositoryConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
