// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrDispatchBusy is returned when a dispatch run is already in flight.
var ErrDispatchBusy = errors.New("a newsletter dispatch is already running")

// NotFoundError is returned when a resource looked up by ID does not exist
type NotFoundError struct {
	Resource string
	ID       int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %d not found", e.Resource, e.ID)
}

// Helper constructor
func NewNotFound(resource string, id int) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError marks input that will never be accepted as sent.
// Webhook payloads failing validation are answered with a 4xx so the
// provider stops redelivering them.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransportKind classifies a failed call to the email provider.
type TransportKind int

const (
	// TransportTransient covers network errors, timeouts, 429 and 5xx.
	TransportTransient TransportKind = iota
	// TransportPermanent is a per-message rejection (invalid or inactive recipient).
	TransportPermanent
	// TransportCritical means no further call can succeed, e.g. the token was rejected.
	TransportCritical
)

func (k TransportKind) String() string {
	switch k {
	case TransportPermanent:
		return "permanent"
	case TransportCritical:
		return "critical"
	default:
		return "transient"
	}
}

// TransportError wraps a failed provider call.
type TransportError struct {
	Kind       TransportKind
	StatusCode int
	ErrorCode  int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport error (%s, status %d, code %d): %s", e.Kind, e.StatusCode, e.ErrorCode, msg)
	}
	return fmt.Sprintf("transport error (%s): %s", e.Kind, msg)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Retryable() bool { return e.Kind == TransportTransient }

func NewTransportError(kind TransportKind, statusCode, errorCode int, message string, err error) error {
	return &TransportError{Kind: kind, StatusCode: statusCode, ErrorCode: errorCode, Message: message, Err: err}
}

// StorageError wraps a failed read or write against the ledger or the log.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// ConfigurationError reports a required setting that is missing or invalid.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Setting, e.Reason)
}

func NewConfigurationError(setting, reason string) error {
	return &ConfigurationError{Setting: setting, Reason: reason}
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsStorage(err error) bool {
	var e *StorageError
	return errors.As(err, &e)
}

func IsConfiguration(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// AsTransport returns the TransportError in err's chain, if any.
func AsTransport(err error) (*TransportError, bool) {
	var e *TransportError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
