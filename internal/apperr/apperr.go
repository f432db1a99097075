// Package apperr defines the typed error taxonomy the generation engine
// raises and the HTTP status each maps to.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a typed engine error: a stable code, a human message, the
// HTTP status a caller should surface, and an optional wrapped cause.
type AppError struct {
	Code       string `json:"errorType"`
	Message    string `json:"error"`
	HTTPStatus int    `json:"-"`
	Cause      error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithCause returns a copy of e carrying cause.
func (e *AppError) WithCause(cause error) *AppError {
	return &AppError{Code: e.Code, Message: e.Message, HTTPStatus: e.HTTPStatus, Cause: cause}
}

// WithMessage returns a copy of e with a more specific message.
func (e *AppError) WithMessage(msg string) *AppError {
	return &AppError{Code: e.Code, Message: msg, HTTPStatus: e.HTTPStatus, Cause: e.Cause}
}

// Taxonomy codes, spec.md §7.
const (
	CodeFailedToCreateID     = "FAILED_TO_CREATE_ID"
	CodeNoAccountAvailable   = "NO_ACCOUNT_AVAILABLE"
	CodeSkinChangeFailed     = "SKIN_CHANGE_FAILED"
	CodeInvalidImage         = "INVALID_IMAGE"
	CodeInvalidImageURL      = "INVALID_IMAGE_URL"
	CodeInvalidSkinData      = "INVALID_SKIN_DATA"
	CodeAuth                 = "AUTH"
	CodeCredentialUnreadable = "CREDENTIAL_UNREADABLE"
)

var (
	ErrFailedToCreateID     = &AppError{Code: CodeFailedToCreateID, Message: "failed to allocate a new skin id", HTTPStatus: http.StatusInternalServerError}
	ErrNoAccountAvailable   = &AppError{Code: CodeNoAccountAvailable, Message: "no eligible account available", HTTPStatus: http.StatusServiceUnavailable}
	ErrSkinChangeFailed     = &AppError{Code: CodeSkinChangeFailed, Message: "upstream skin change failed", HTTPStatus: http.StatusInternalServerError}
	ErrInvalidImage         = &AppError{Code: CodeInvalidImage, Message: "invalid image", HTTPStatus: http.StatusBadRequest}
	ErrInvalidImageURL      = &AppError{Code: CodeInvalidImageURL, Message: "invalid image url", HTTPStatus: http.StatusBadRequest}
	ErrInvalidSkinData      = &AppError{Code: CodeInvalidSkinData, Message: "upstream profile is missing a SKIN texture", HTTPStatus: http.StatusInternalServerError}
	ErrAuth                 = &AppError{Code: CodeAuth, Message: "authentication failed", HTTPStatus: http.StatusInternalServerError}
	ErrCredentialUnreadable = &AppError{Code: CodeCredentialUnreadable, Message: "stored credential could not be decrypted", HTTPStatus: http.StatusInternalServerError}
)

// New creates an ad-hoc AppError.
func New(code, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap attaches cause to a predefined AppError, returning a new value.
func Wrap(appErr *AppError, cause error) *AppError {
	if appErr == nil {
		return nil
	}
	return appErr.WithCause(cause)
}

// As reports whether err is (or wraps) an *AppError and returns it.
func As(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
