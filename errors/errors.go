// Package errors classifies failures of the notification pipeline so each
// stage can decide between retrying, skipping a rule for one batch, or
// refusing to start.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorClass tells callers how to react to an error.
type ErrorClass int

const (
	// ErrorTransient may succeed when tried again: network trouble, a busy
	// queue, a callback answering 5xx.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid comes from bad input: a malformed batch, an unknown
	// resource format, a callback answering 4xx. Never retried.
	ErrorInvalid
	// ErrorFatal stops the component: missing configuration, a port in use.
	ErrorFatal
)

// String returns the class name used as a metric label.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Lifecycle
var (
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("not started")
	ErrShuttingDown   = errors.New("shutting down")
)

// Inbound batches
var (
	ErrInvalidData     = errors.New("invalid data format")
	ErrParsingFailed   = errors.New("parsing failed")
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Configuration and rules
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
	ErrUnknownFormat = errors.New("unknown resource format")
)

// Matching and delivery
var (
	ErrPermanentDelivery  = errors.New("permanent delivery failure")
	ErrDeliveryFailed     = errors.New("delivery failed")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrResolveFailed      = errors.New("hostname resolution failed")
	ErrQueryFailed        = errors.New("graph query failed")
	ErrSearchBudget       = errors.New("search budget exhausted")
)

// Resources
var (
	ErrQueueFull         = errors.New("queue full")
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionTimeout = errors.New("connection timeout")
)

// sentinelClasses classifies unwrapped sentinels. The first match wins, so
// the permanent delivery failure is checked before the generic one.
var sentinelClasses = []struct {
	err   error
	class ErrorClass
}{
	{ErrInvalidData, ErrorInvalid},
	{ErrParsingFailed, ErrorInvalid},
	{ErrPayloadTooLarge, ErrorInvalid},
	{ErrUnknownFormat, ErrorInvalid},
	{ErrPermanentDelivery, ErrorInvalid},
	{ErrInvalidConfig, ErrorFatal},
	{ErrMissingConfig, ErrorFatal},
	{ErrAlreadyStarted, ErrorFatal},
	{ErrQueueFull, ErrorTransient},
	{ErrNoConnection, ErrorTransient},
	{ErrConnectionTimeout, ErrorTransient},
	{ErrDeliveryFailed, ErrorTransient},
	{ErrResolveFailed, ErrorTransient},
	{ErrQueryFailed, ErrorTransient},
	{context.DeadlineExceeded, ErrorTransient},
}

// ClassifiedError carries an explicit class and the place it was raised.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// classOf finds the class of err: an explicit ClassifiedError first, then a
// known sentinel, then a network timeout.
func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	for _, s := range sentinelClasses {
		if errors.Is(err, s.err) {
			return s.class, true
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTransient, true
	}
	return ErrorTransient, false
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	class, known := classOf(err)
	return known && class == ErrorTransient
}

// IsFatal reports whether err should stop the component.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	class, _ := classOf(err)
	return class == ErrorFatal
}

// IsInvalid reports whether err comes from bad input.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	class, _ := classOf(err)
	return class == ErrorInvalid
}

// Classify returns the class of err. Unknown errors count as transient so
// callers may retry them.
func Classify(err error) ErrorClass {
	class, _ := classOf(err)
	return class
}

// Wrap adds context in the form "component.method: action failed: err".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClassified(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps err as transient.
func WrapTransient(err error, component, method, action string) error {
	return wrapClassified(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps err as fatal.
func WrapFatal(err error, component, method, action string) error {
	return wrapClassified(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps err as invalid.
func WrapInvalid(err error, component, method, action string) error {
	return wrapClassified(ErrorInvalid, err, component, method, action)
}
