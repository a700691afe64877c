package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so clones compare equal to their template.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	// Approval workflow.
	ErrInvalidRequestType    = New("INVALID_REQUEST_TYPE", http.StatusBadRequest, "unsupported request type")
	ErrAlreadyDecided        = New("ALREADY_DECIDED", http.StatusConflict, "request already decided")
	ErrMissingStudent        = New("MISSING_STUDENT", http.StatusUnprocessableEntity, "case request has no student entry")
	ErrMaterializationFailed = New("MATERIALIZATION_FAILED", http.StatusBadGateway, "request approved but the approved action failed")

	// Domain mutators.
	ErrCredentialIssuanceFailed = New("CREDENTIAL_ISSUANCE_FAILED", http.StatusBadGateway, "failed to issue credential")
	ErrProfileWriteFailed       = New("PROFILE_WRITE_FAILED", http.StatusBadGateway, "failed to write profile")
	ErrStudentLookupFailed      = New("STUDENT_LOOKUP_FAILED", http.StatusBadGateway, "failed to resolve student")
	ErrCaseInsertFailed         = New("CASE_INSERT_FAILED", http.StatusBadGateway, "failed to insert case")
	ErrPunishmentInsertFailed   = New("PUNISHMENT_INSERT_FAILED", http.StatusBadGateway, "failed to insert punishment")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WrapAs wraps err using the code and status of the template error.
func WrapAs(template *Error, err error, message string) *Error {
	if template == nil {
		return nil
	}
	if message == "" {
		message = template.Message
	}
	return Wrap(err, template.Code, template.Status, message)
}
