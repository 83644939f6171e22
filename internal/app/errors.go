package app

import (
	"errors"
	"fmt"

	"github.com/tenure/payout-service/internal/store"
)

// ErrorCode classifies failures for callers.
type ErrorCode string

const (
	CodeValidation            ErrorCode = "VALIDATION_ERROR"
	CodeInvalidState          ErrorCode = "INVALID_STATE"
	CodeAlreadyDecided        ErrorCode = "ALREADY_DECIDED"
	CodeDuplicateApprover     ErrorCode = "DUPLICATE_APPROVER"
	CodeForbidden             ErrorCode = "FORBIDDEN"
	CodeNotFound              ErrorCode = "NOT_FOUND"
	CodeDependencyFailure     ErrorCode = "DEPENDENCY_FAILURE"
	CodePaymentDetailsMissing ErrorCode = "PAYMENT_DETAILS_MISSING"
	CodeInternal              ErrorCode = "INTERNAL_ERROR"
)

// Error is the typed error returned by every engine operation.
type Error struct {
	Code         ErrorCode
	Message      string
	CurrentState string
	Retryable    bool
	Err          error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so errors.Is(err, ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation            = &Error{Code: CodeValidation}
	ErrInvalidState          = &Error{Code: CodeInvalidState}
	ErrAlreadyDecided        = &Error{Code: CodeAlreadyDecided}
	ErrDuplicateApprover     = &Error{Code: CodeDuplicateApprover}
	ErrForbidden             = &Error{Code: CodeForbidden}
	ErrNotFound              = &Error{Code: CodeNotFound}
	ErrDependencyFailure     = &Error{Code: CodeDependencyFailure}
	ErrPaymentDetailsMissing = &Error{Code: CodePaymentDetailsMissing}
	ErrInternal              = &Error{Code: CodeInternal}
)

func validationError(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

func invalidState(msg, current string) *Error {
	return &Error{Code: CodeInvalidState, Message: msg, CurrentState: current}
}

func forbidden(msg string) *Error {
	return &Error{Code: CodeForbidden, Message: msg}
}

func notFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

func dependencyFailure(msg string, err error) *Error {
	return &Error{Code: CodeDependencyFailure, Message: msg, Retryable: true, Err: err}
}

func detailsMissing(msg string) *Error {
	return &Error{Code: CodePaymentDetailsMissing, Message: msg}
}

func internalError(msg string, err error) *Error {
	return &Error{Code: CodeInternal, Message: msg, Err: err}
}

// classify turns a store or unknown error into a typed *Error.
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, store.ErrPayoutNotFound):
		return notFound("payout not found")
	case errors.Is(err, store.ErrMemberNotFound):
		return notFound("member not found")
	}
	return internalError(what, err)
}
