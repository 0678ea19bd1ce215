package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for the caller. Every error leaving the
// lifecycle engines carries exactly one kind.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUnauthorized
	KindDependency
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindDependency:
		return "dependency"
	default:
		return "internal"
	}
}

const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeMissingBody         = "MISSING_BODY"
	CodeInvalidJSON         = "INVALID_JSON"
	CodeInvalidRefundAmount = "INVALID_REFUND_AMOUNT"
	CodeTxNotFound          = "TRANSACTION_NOT_FOUND"
	CodeRefundNotFound      = "REFUND_NOT_FOUND"
	CodeAlreadyRefunded     = "ALREADY_REFUNDED"
	CodeNotRefundable       = "TRANSACTION_NOT_REFUNDABLE"
	CodePaymentProcessing   = "PAYMENT_PROCESSING_ERROR"
	CodeMissingToken        = "MISSING_TOKEN"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeInvalidSignature    = "INVALID_SIGNATURE"
	CodeRequestInProgress   = "REQUEST_IN_PROGRESS"
	CodeInternal            = "INTERNAL_ERROR"
)

// Error is the categorized error returned to callers. Details is rendered to
// clients as-is, so it must never hold card data or credentials. Err is kept
// for logs and errors.Is only.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind ErrorKind, code, msg string, details any) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Details: details}
}

func Internal(details string, err error) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    CodeInternal,
		Message: "Internal server error",
		Details: details,
		Err:     err,
	}
}

// AsError returns err as a *Error, wrapping anything uncategorized as internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return Internal("unexpected error", err)
}

// CodeOf returns the stable code of err, or "" for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return AsError(err).Code
}
