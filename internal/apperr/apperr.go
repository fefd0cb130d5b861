// Package apperr defines the error kinds surfaced by the reminder services.
// Errors are wrapped with %w and classified with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation: malformed input, rejected before any backend call.
	ErrValidation = errors.New("validation error")
	// ErrPermission: tier gate or insufficient rights; no partial state is left behind.
	ErrPermission = errors.New("permission error")
	// ErrPermissionDenied: the media source refused access.
	ErrPermissionDenied = fmt.Errorf("%w: source access denied", ErrPermission)
	// ErrUploadFailed: blob upload failed, attachment not added.
	ErrUploadFailed = errors.New("upload failed")
	// ErrPersistence: store operation failed; caller keeps pre-operation state.
	ErrPersistence = errors.New("persistence error")
	// ErrInvalidTransition: status change rejected, previous status retained.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotification: the reminder is stored but no trigger could be armed.
	ErrNotification = errors.New("notification error")
	// ErrNotFound: the referenced record does not exist or is not visible to the caller.
	ErrNotFound = errors.New("not found")
)

// Validation returns an ErrValidation with a formatted reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Permission returns an ErrPermission with a formatted reason.
func Permission(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermission, fmt.Sprintf(format, args...))
}

// InvalidTransition returns an ErrInvalidTransition with a formatted reason.
func InvalidTransition(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTransition, fmt.Sprintf(format, args...))
}

// Persistence wraps a store failure.
func Persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// Upload wraps a blob storage failure.
func Upload(err error) error {
	return fmt.Errorf("%w: %w", ErrUploadFailed, err)
}

// Notification wraps a trigger scheduling failure.
func Notification(err error) error {
	return fmt.Errorf("%w: %w", ErrNotification, err)
}

// NotFound returns an ErrNotFound naming the missing record.
func NotFound(what, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
}
