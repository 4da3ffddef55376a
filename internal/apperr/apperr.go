// Package apperr defines the error taxonomy shared by the order engine and
// its HTTP surface. Every error crossing a package boundary is either an
// *Error or wraps one, so handlers can map it to a status code with
// HTTPStatus.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindDependency Kind = "dependency"
	KindInvariant  Kind = "invariant"
)

var (
	ErrOrderNotFound      = &Error{Kind: KindNotFound, Message: "order not found"}
	ErrRestaurantNotFound = &Error{Kind: KindNotFound, Message: "restaurant not found"}
	ErrStaleVersion       = &Error{Kind: KindConflict, Message: "order was modified concurrently"}
	ErrAlreadyApplied     = errors.New("effect already applied")
)

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a classified error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if msg == "" {
		msg = string(e.Kind) + " error"
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel *Error values by kind and message, so a wrapped
// ErrOrderNotFound carrying an Op still compares equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Message == "" || e.Message == t.Message)
}

// Validation builds a validation error with field details.
func Validation(op, message string, fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message, Fields: fields}
}

func NotFound(op, message string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: message}
}

func Conflict(op, message string) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: message}
}

func Dependency(op string, err error) *Error {
	return &Error{Kind: KindDependency, Op: op, Message: "dependency unavailable", Err: err}
}

func Invariant(op, message string) *Error {
	return &Error{Kind: KindInvariant, Op: op, Message: message}
}

// WithOp returns a copy of a sentinel error annotated with op.
func WithOp(op string, e *Error) *Error {
	c := *e
	c.Op = op
	return &c
}

// KindOf returns the kind of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// FieldsOf returns the field details of a validation error.
func FieldsOf(err error) []FieldError {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// HTTPStatus maps an error to the response status code.
func HTTPStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may safely retry the operation.
func Retryable(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || KindOf(err) == KindDependency
}
