// Package apierror maps auth and upstream failures onto the HTTP error
// taxonomy returned to the browser.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind identifies an error class in JSON error bodies.
type Kind string

const (
	KindMissingSessionSecret Kind = "missing_session_secret"
	KindUnconfiguredProvider Kind = "unconfigured_provider"
	KindInvalidInput         Kind = "invalid_input"
	KindMissingAuthState     Kind = "missing_auth_state"
	KindProviderCallback     Kind = "provider_callback_error"
	KindUnauthorized         Kind = "unauthorized"
	KindUpstream             Kind = "upstream_error"
	KindInternal             Kind = "internal_server_error"
)

// Error is an error with a status code and a message safe to show the user.
type Error struct {
	Status  int
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so sentinels like
// errors.Is(err, &Error{Kind: KindMissingAuthState}) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func MissingSessionSecret() *Error {
	return &Error{
		Status:  http.StatusInternalServerError,
		Kind:    KindMissingSessionSecret,
		Message: "Session secret is not configured",
	}
}

func UnconfiguredProvider(provider string) *Error {
	return &Error{
		Status:  http.StatusInternalServerError,
		Kind:    KindUnconfiguredProvider,
		Message: fmt.Sprintf("%s OAuth client is not configured", provider),
	}
}

func InvalidInput(message string) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Kind:    KindInvalidInput,
		Message: message,
	}
}

// MissingAuthState is returned when the per-attempt state cookie is gone,
// usually because cookies are blocked or the attempt took too long.
func MissingAuthState() *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Kind:    KindMissingAuthState,
		Message: "Missing authentication state. Please enable cookies and try again.",
	}
}

// ProviderCallback wraps a provider-side failure. The upstream message is
// passed through with a retry instruction appended.
func ProviderCallback(err error) *Error {
	msg := "Authentication failed"
	if err != nil {
		msg = strings.TrimSuffix(err.Error(), ".")
	}
	return &Error{
		Status:  http.StatusUnauthorized,
		Kind:    KindProviderCallback,
		Message: msg + ". Please login and try again.",
		Err:     err,
	}
}

func Unauthorized(message string) *Error {
	return &Error{
		Status:  http.StatusUnauthorized,
		Kind:    KindUnauthorized,
		Message: message,
	}
}

func Upstream(message string, err error) *Error {
	return &Error{
		Status:  http.StatusInternalServerError,
		Kind:    KindUpstream,
		Message: message,
		Err:     err,
	}
}

// From returns err as an *Error. Errors outside the taxonomy become a
// generic 500 that does not leak the underlying message.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &Error{
		Status:  http.StatusInternalServerError,
		Kind:    KindInternal,
		Message: "Internal server error",
		Err:     err,
	}
}
