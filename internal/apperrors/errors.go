package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable codes surfaced to API callers.
const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeNotFound    = "NOT_FOUND"
	CodeInvalid     = "INVALID_STATE"
	CodeChannelSend = "CHANNEL_SEND_ERROR"
	CodeMediaReady  = "MEDIA_NOT_READY"
	CodeChannelAuth = "CHANNEL_AUTH_ERROR"
	CodePersistence = "PERSISTENCE_ERROR"
	CodeInternal    = "INTERNAL_ERROR"
)

// ValidationError reports malformed input. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError covers missing and cross-tenant lookups alike.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func NewNotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

type InvalidStateError struct {
	ID     string
	Status string
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s entry %s in status %s", e.Op, e.ID, e.Status)
}

func NewInvalidState(id, status, op string) error {
	return &InvalidStateError{ID: id, Status: status, Op: op}
}

// ChannelSendError is a provider rejection or transport failure for one call.
// Body holds the raw provider error payload when one was returned.
type ChannelSendError struct {
	Channel    string
	Op         string
	Recipient  string
	StatusCode int
	Body       string
	Err        error
}

func (e *ChannelSendError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Channel, e.Op)
	if e.Recipient != "" {
		msg += " for " + e.Recipient
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ChannelSendError) Unwrap() error { return e.Err }

// Retryable reports whether resending the same request may succeed.
func (e *ChannelSendError) Retryable() bool {
	if e.StatusCode == 0 {
		return e.Err != nil
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type MediaNotReadyError struct {
	ContainerID string
	LastStatus  string
	Attempts    int
}

func (e *MediaNotReadyError) Error() string {
	return fmt.Sprintf("instagram media %s not ready after %d polls, last status %s", e.ContainerID, e.Attempts, e.LastStatus)
}

type ChannelAuthError struct {
	Platform string
	Err      error
}

func (e *ChannelAuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s credentials unavailable", e.Platform)
	}
	return fmt.Sprintf("%s credentials unavailable: %v", e.Platform, e.Err)
}

func (e *ChannelAuthError) Unwrap() error { return e.Err }

type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func NewPersistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// IsRetryable classifies errors for entry-level retry decisions.
func IsRetryable(err error) bool {
	var (
		notReady *MediaNotReadyError
		send     *ChannelSendError
		persist  *PersistenceError
	)
	switch {
	case errors.As(err, &notReady):
		return true
	case errors.As(err, &persist):
		return true
	case errors.As(err, &send):
		return send.Retryable()
	}
	return false
}

func Code(err error) string {
	var (
		validation *ValidationError
		notFound   *NotFoundError
		invalid    *InvalidStateError
		send       *ChannelSendError
		notReady   *MediaNotReadyError
		auth       *ChannelAuthError
		persist    *PersistenceError
	)
	switch {
	case errors.As(err, &validation):
		return CodeValidation
	case errors.As(err, &notFound):
		return CodeNotFound
	case errors.As(err, &invalid):
		return CodeInvalid
	case errors.As(err, &auth):
		return CodeChannelAuth
	case errors.As(err, &notReady):
		return CodeMediaReady
	case errors.As(err, &send):
		return CodeChannelSend
	case errors.As(err, &persist):
		return CodePersistence
	}
	return CodeInternal
}

func HTTPStatus(err error) int {
	switch Code(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalid:
		return http.StatusConflict
	case CodeChannelAuth, CodeChannelSend, CodeMediaReady:
		return http.StatusBadGateway
	case CodePersistence:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
