package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/hanko-field/ordercore/internal/repositories"
)

// Postgres SQLSTATE codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"

	orderNumberConstraint = "orders_order_number_key"
)

type errorKind int

const (
	kindNotFound errorKind = iota + 1
	kindConflict
	kindUnavailable
)

// Error categorises postgres failures for the service layer.
type Error struct {
	Op   string
	kind errorKind
	Err  error
}

var _ repositories.RepositoryError = (*Error)(nil)

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("postgres: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) IsNotFound() bool    { return e != nil && e.kind == kindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.kind == kindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }

func newError(op string, kind errorKind, err error) *Error {
	return &Error{Op: op, kind: kind, Err: err}
}

func notFound(op, what, id string) *Error {
	return newError(op, kindNotFound, fmt.Errorf("%s %q not found", what, id))
}

// wrapError translates driver and gorm errors. Errors that are already categorised, and errors the
// store does not recognise, are returned unchanged.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return err
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newError(op, kindNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable:
			return newError(op, kindUnavailable, fmt.Errorf("%w: %s", repositories.ErrLockTimeout, pgErr.Message))
		case codeUniqueViolation:
			if pgErr.ConstraintName == orderNumberConstraint {
				return newError(op, kindConflict, fmt.Errorf("%w: %s", repositories.ErrDuplicateOrderNumber, pgErr.Detail))
			}
			return newError(op, kindConflict, err)
		case codeCheckViolation, codeSerializationFailure, codeDeadlockDetected:
			return newError(op, kindConflict, err)
		case codeQueryCanceled:
			return newError(op, kindUnavailable, err)
		}
		if strings.HasPrefix(pgErr.Code, "08") {
			return newError(op, kindUnavailable, err)
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) {
		return newError(op, kindUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && !errors.Is(err, context.DeadlineExceeded) {
		return newError(op, kindUnavailable, err)
	}
	return err
}
