package memory

import (
	"fmt"

	"github.com/hanko-field/ordercore/internal/repositories"
)

type errorKind int

const (
	kindNotFound errorKind = iota + 1
	kindConflict
	kindUnavailable
)

// Error categorises memory store failures for the service layer.
type Error struct {
	Op   string
	kind errorKind
	Err  error
}

var _ repositories.RepositoryError = (*Error)(nil)

func newError(op string, kind errorKind, err error) *Error {
	return &Error{Op: op, kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("memory: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) IsNotFound() bool    { return e != nil && e.kind == kindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.kind == kindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }

func notFound(op, what, id string) *Error {
	return newError(op, kindNotFound, fmt.Errorf("%s %q not found", what, id))
}
