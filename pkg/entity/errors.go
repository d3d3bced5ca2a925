package entity

import (
	"errors"
	"fmt"

	"github.com/provisor/provisor/pkg/gateway"
)

// Class classifies an entity error for the orchestrator's handling
// logic. Classes are terminal verdicts, not retry hints: the only retry
// loop this framework runs is the readiness poll.
type Class string

const (
	// ClassValidation marks a definition that is missing required
	// fields or malformed. Raised before any remote call.
	ClassValidation Class = "validation"

	// ClassProvider marks a remote call that returned a non-success
	// result, wrapped with the failed operation and response body.
	ClassProvider Class = "provider"

	// ClassSecret marks a missing or unreadable secret reference.
	ClassSecret Class = "secret"

	// ClassUnsupported marks an action name with no handler.
	ClassUnsupported Class = "unsupported-action"

	// ClassTimeout marks readiness attempts exhausted without success.
	ClassTimeout Class = "readiness-timeout"
)

// Common error codes.
const (
	CodeMissingField   = "MISSING_FIELD"
	CodeInvalidField   = "INVALID_FIELD"
	CodeNotFound       = "NOT_FOUND"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeProviderFailed = "PROVIDER_FAILED"
	CodeSecretMissing  = "SECRET_MISSING"
	CodeUnsupported    = "UNSUPPORTED_ACTION"
	CodeTimeout        = "READINESS_TIMEOUT"
	CodePolicyDenied   = "POLICY_DENIED"
)

// Error is a classified entity error with operation context.
type Error struct {
	// Class is the error classification.
	Class Class

	// Message is the human-readable error message.
	Message string

	// Code is an optional code for programmatic handling.
	Code string

	// Path is the entity path this error belongs to, if known.
	Path string

	// Operation is the lifecycle operation or action being performed.
	Operation string

	// StatusCode is the remote status code for provider errors.
	StatusCode int

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Operation != "" {
		msg = fmt.Sprintf("[%s] %s: %s", e.Class, e.Operation, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements equality for errors.Is: two entity errors match when
// class and code agree.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

// WithPath attaches the entity path.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithOperation attaches the operation name.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// NewValidationError creates a validation error.
func NewValidationError(message string, err error) *Error {
	return &Error{Class: ClassValidation, Code: CodeInvalidField, Message: message, Err: err}
}

// NewMissingFieldError reports a required definition field with no value.
func NewMissingFieldError(field string) *Error {
	return &Error{
		Class:   ClassValidation,
		Code:    CodeMissingField,
		Message: fmt.Sprintf("required field %q is not set", field),
	}
}

// NewSecretError creates a secret error. Secret errors are fatal and
// block create and update.
func NewSecretError(message string, err error) *Error {
	return &Error{Class: ClassSecret, Code: CodeSecretMissing, Message: message, Err: err}
}

// NewUnsupportedActionError reports an action with no handler.
func NewUnsupportedActionError(action string) *Error {
	return &Error{
		Class:   ClassUnsupported,
		Code:    CodeUnsupported,
		Message: fmt.Sprintf("action %q is not supported", action),
	}
}

// NewReadinessTimeout reports readiness attempts exhausted.
func NewReadinessTimeout(attempts int) *Error {
	return &Error{
		Class:   ClassTimeout,
		Code:    CodeTimeout,
		Message: fmt.Sprintf("resource not ready after %d attempts", attempts),
	}
}

// NewProviderError wraps a failed remote operation.
func NewProviderError(op string, message string, err error) *Error {
	return &Error{
		Class:     ClassProvider,
		Code:      CodeProviderFailed,
		Message:   message,
		Operation: op,
		Err:       err,
	}
}

// maxBodyInError bounds how much response body a provider error carries.
const maxBodyInError = 512

// WrapResponse converts a non-success gateway response into a provider
// error carrying the operation name, status code and response body.
// This is the uniform idiom every handler follows after a remote call.
func WrapResponse(op string, resp *gateway.Response) *Error {
	body := resp.Body
	if len(body) > maxBodyInError {
		body = body[:maxBodyInError]
	}
	code := CodeProviderFailed
	switch resp.StatusCode {
	case 401, 403:
		code = CodeUnauthorized
	case 404:
		code = CodeNotFound
	}
	return &Error{
		Class:      ClassProvider,
		Code:       code,
		Message:    fmt.Sprintf("remote returned %s: %s", resp.Status, string(body)),
		Operation:  op,
		StatusCode: resp.StatusCode,
	}
}

// IsClass reports whether err carries the given class.
func IsClass(err error, class Class) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return IsClass(err, ClassValidation) }

// IsProvider reports whether err is a provider error.
func IsProvider(err error) bool { return IsClass(err, ClassProvider) }

// IsUnsupportedAction reports whether err is an unsupported-action error.
func IsUnsupportedAction(err error) bool { return IsClass(err, ClassUnsupported) }

// IsReadinessTimeout reports whether err is a readiness timeout.
func IsReadinessTimeout(err error) bool { return IsClass(err, ClassTimeout) }

// IsSecret reports whether err is a secret error.
func IsSecret(err error) bool { return IsClass(err, ClassSecret) }

// IsFatal reports whether err can never self-resolve by waiting.
// Validation, secret and unsupported-action errors are fatal; provider
// errors are fatal when the remote rejected the request as unauthorized.
func IsFatal(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Class {
	case ClassValidation, ClassSecret, ClassUnsupported:
		return true
	case ClassProvider:
		return e.Code == CodeUnauthorized
	}
	return false
}
