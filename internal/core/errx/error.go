package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage is returned when a key does not exist.
	RedisNotFoundMessage = "record not found"
	// BusyMessage signals that a conversation already has an in-flight turn.
	BusyMessage = "a message is already being processed for this conversation"
	// ConflictMessage signals a lost create race on a conversation record.
	ConflictMessage = "conversation record was created concurrently"
)

// Sentinels for errors.Is checks across package boundaries.
var (
	ErrBusy           = errors.New("conversation busy")
	ErrConflict       = errors.New("create conflict")
	ErrNotFound       = errors.New("not found")
	ErrUnknownProject = errors.New("unknown project")
	ErrValidation     = errors.New("validation failed")
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// Is reports whether the target matches the underlying error or the AppError itself.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return false
}

// Validation rejects malformed input before any state mutation.
func Validation(message string) *AppError {
	return New(ErrValidation, http.StatusBadRequest, message)
}

// Busy signals that the conversation has an in-flight turn; the caller must
// reject the request without mutating the record.
func Busy() *AppError {
	return New(ErrBusy, http.StatusNotAcceptable, BusyMessage)
}

// Conflict signals a lost concurrent-create race; the caller should retry as
// a plain lookup.
func Conflict() *AppError {
	return New(ErrConflict, http.StatusConflict, ConflictMessage)
}

// NotFound wraps a missing-record condition.
func NotFound(message string) *AppError {
	return New(ErrNotFound, http.StatusNotFound, message)
}

// UnknownProject signals that no pipeline is registered for the project name.
func UnknownProject(project string) *AppError {
	return New(ErrUnknownProject, http.StatusNotFound, fmt.Sprintf("no pipeline registered for project %q", project))
}

// Status extracts the HTTP status carried by err, defaulting to 500.
func Status(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// Message extracts the safe user-facing message carried by err.
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return SystemErrorMessage
}
