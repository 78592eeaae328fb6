package client

import (
	"fmt"
	"time"
)

// Kind is the error taxonomy from the core spec (§7). Callers switch on
// Kind() rather than concrete error types.
type Kind int

const (
	KindMalformedBroker Kind = iota
	KindConfigError
	KindNotConnected
	KindNotInitialized
	KindConnectFailed
	KindPublishError
	KindSubscribeError
	KindWaitTimeout
	KindWrongThread
	KindServiceUnknown
	KindServiceAlreadyRegistered
)

func (k Kind) String() string {
	switch k {
	case KindMalformedBroker:
		return "MalformedBroker"
	case KindConfigError:
		return "ConfigError"
	case KindNotConnected:
		return "NotConnected"
	case KindNotInitialized:
		return "NotInitialized"
	case KindConnectFailed:
		return "ConnectFailed"
	case KindPublishError:
		return "PublishError"
	case KindSubscribeError:
		return "SubscribeError"
	case KindWaitTimeout:
		return "WaitTimeout"
	case KindWrongThread:
		return "WrongThread"
	case KindServiceUnknown:
		return "ServiceUnknown"
	case KindServiceAlreadyRegistered:
		return "ServiceAlreadyRegistered"
	default:
		return "Unknown"
	}
}

// Error is the base error type for every dxlclient failure. It carries a
// Kind for programmatic dispatch and wraps an optional Cause.
type Error struct {
	kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Kind returns the error's taxonomy entry.
func (e *Error) Kind() Kind { return e.kind }

func newErr(kind Kind, message string, cause error) *Error {
	return &Error{kind: kind, Message: message, Cause: cause}
}

// NewMalformedBrokerError wraps a broker.Parse failure.
func NewMalformedBrokerError(message string, cause error) error {
	return newErr(KindMalformedBroker, message, cause)
}

// NewConfigError reports a missing file or undecodable config value.
func NewConfigError(message string, cause error) error {
	return newErr(KindConfigError, message, cause)
}

// ErrNotConnected is returned by operations that require a live connection.
var ErrNotConnected = newErr(KindNotConnected, "operation requires a live connection", nil)

// ErrNotInitialized is returned by operations invoked before the client's
// transport/registries have been constructed.
var ErrNotInitialized = newErr(KindNotInitialized, "client has not been initialized", nil)

// ConnectFailedError carries the last-seen transport error after all
// retries have been exhausted.
type ConnectFailedError struct {
	Error
	Attempts int
}

// NewConnectFailedError builds a ConnectFailedError after attempts retries.
func NewConnectFailedError(attempts int, cause error) error {
	return &ConnectFailedError{
		Error:    Error{kind: KindConnectFailed, Message: "all connect retries exhausted", Cause: cause},
		Attempts: attempts,
	}
}

// NewPublishError wraps a transport rejection of an outbound publish.
func NewPublishError(topic string, cause error) error {
	return newErr(KindPublishError, fmt.Sprintf("publish to %q rejected", topic), cause)
}

// NewSubscribeError wraps a transport rejection of a subscribe/unsubscribe.
func NewSubscribeError(topic string, cause error) error {
	return newErr(KindSubscribeError, fmt.Sprintf("subscribe/unsubscribe on %q rejected", topic), cause)
}

// WaitTimeoutError is returned by syncRequest, waitForRegistration, and
// waitForUnregistration when their budget elapses first.
type WaitTimeoutError struct {
	Error
	Operation string
	Waited    time.Duration
}

// NewWaitTimeoutError builds a WaitTimeoutError for operation after waited.
func NewWaitTimeoutError(operation string, waited time.Duration) error {
	return &WaitTimeoutError{
		Error:     Error{kind: KindWaitTimeout, Message: fmt.Sprintf("%s timed out", operation)},
		Operation: operation,
		Waited:    waited,
	}
}

// ErrWrongThread is returned when syncRequest is invoked from a dispatcher
// worker goroutine.
var ErrWrongThread = newErr(KindWrongThread, "syncRequest invoked from a different thread: the dispatcher worker goroutine", nil)

// ServiceUnknownError is surfaced (as an ErrorResponse, not a Go error, to
// the requester) when a Request names an instanceId the registry has no
// record of.
type ServiceUnknownError struct {
	Error
	InstanceID string
}

// NewServiceUnknownError builds a ServiceUnknownError for instanceID.
func NewServiceUnknownError(instanceID string) error {
	return &ServiceUnknownError{
		Error:      Error{kind: KindServiceUnknown, Message: fmt.Sprintf("no service registered for instanceId %q", instanceID)},
		InstanceID: instanceID,
	}
}

// ServiceAlreadyRegisteredError is returned by addService when a distinct
// service object already occupies instanceID.
type ServiceAlreadyRegisteredError struct {
	Error
	InstanceID string
}

// NewServiceAlreadyRegisteredError builds a ServiceAlreadyRegisteredError.
func NewServiceAlreadyRegisteredError(instanceID string) error {
	return &ServiceAlreadyRegisteredError{
		Error:      Error{kind: KindServiceAlreadyRegistered, Message: fmt.Sprintf("instanceId %q is already registered by a different service", instanceID)},
		InstanceID: instanceID,
	}
}
