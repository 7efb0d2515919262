package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error for reporting and for the exit code chosen by the CLI.
type ErrorKind string

const (
	// KindConfiguration indicates a missing or invalid setting. Never retried.
	KindConfiguration ErrorKind = "configuration"

	// KindCredentials indicates the requested credentials could not be loaded.
	KindCredentials ErrorKind = "credentials"

	// KindNotFound indicates a stack, layer, app or instance could not be found.
	KindNotFound ErrorKind = "not_found"

	// KindTimeout indicates the poller exhausted its iterations.
	KindTimeout ErrorKind = "timeout"

	// KindOperationFailure indicates a deployment or instance reached a non-success terminal status.
	KindOperationFailure ErrorKind = "operation_failure"

	// KindPayload indicates malformed operator-supplied JSON.
	KindPayload ErrorKind = "payload"

	// KindDeclined indicates the operator declined an interactive confirmation.
	KindDeclined ErrorKind = "declined"

	// KindPolicy indicates an operation guard denied the workflow.
	KindPolicy ErrorKind = "policy"

	// KindInternal indicates an unclassified failure, usually from a gateway call.
	KindInternal ErrorKind = "internal"
)

// Error is a classified error carrying the context of the failing operation.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource (instance, deployment, stack) involved, if any.
	Resource string `json:"resource,omitempty"`

	// Operation is the workflow or gateway call being performed.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Resource != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	} else if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same kind and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(message string, err error) *Error {
	return newError(KindConfiguration, message, err)
}

// NewCredentialsError creates a credentials error.
func NewCredentialsError(message string, err error) *Error {
	return newError(KindCredentials, message, err)
}

// NewNotFoundError creates a resource-not-found error.
func NewNotFoundError(message string, err error) *Error {
	return newError(KindNotFound, message, err).WithCode(ErrCodeNotFound)
}

// NewTimeoutError creates an operation timeout error.
func NewTimeoutError(message string, err error) *Error {
	return newError(KindTimeout, message, err).WithCode(ErrCodeTimeout)
}

// NewOperationFailureError creates an operation failure error.
func NewOperationFailureError(message string, err error) *Error {
	return newError(KindOperationFailure, message, err)
}

// NewPayloadError creates a payload error.
func NewPayloadError(message string, err error) *Error {
	return newError(KindPayload, message, err).WithCode(ErrCodeValidation)
}

// NewDeclinedError creates a user-declined error.
func NewDeclinedError(message string) *Error {
	return newError(KindDeclined, message, nil)
}

// NewPolicyError creates a policy denial error.
func NewPolicyError(message string, err error) *Error {
	return newError(KindPolicy, message, err).WithCode(ErrCodePolicyDenied)
}

// NewInternalError creates an unclassified error.
func NewInternalError(message string, err error) *Error {
	return newError(KindInternal, message, err)
}

// WithResource adds resource context to an error.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Exit codes returned by the CLI.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitDeclined = 2
)

// ExitCode maps an error to a process exit status. It is the only place where an
// error kind becomes an exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if IsKind(err, KindDeclined) {
		return ExitDeclined
	}
	return ExitFailure
}

// Common error codes.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeTimeout       = "TIMEOUT"
	ErrCodeConflict      = "CONFLICT"
	ErrCodePolicyDenied  = "POLICY_DENIED"
	ErrCodeStackBusy     = "STACK_BUSY"
	ErrCodeSetupFailed   = "SETUP_FAILED"
	ErrCodeDeployFailed  = "DEPLOYMENT_FAILED"
	ErrCodeGatewayFailed = "GATEWAY_FAILED"
)
