package session

import (
	"errors"
	"sort"
	"strings"

	"github.com/jrsteele09/wanderwave-session/api"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrNoRefreshCredential = errors.New("no refresh credential")
	ErrRefreshRejected     = errors.New("refresh rejected")
	ErrValidationFailed    = errors.New("validation failed")
	ErrNetworkFailure      = errors.New("network failure")
)

// Reason codes recorded in Session.LastError when the backend gave no detail.
const (
	ReasonInvalidCredentials  = "InvalidCredentials"
	ReasonNoRefreshCredential = "NoRefreshCredential"
	ReasonRefreshRejected     = "RefreshRejected"
	ReasonValidationFailed    = "ValidationFailed"
	ReasonNetworkFailure      = "NetworkFailure"
)

// ValidationError carries the field level messages of a rejected registration.
type ValidationError struct {
	Detail string
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		if e.Detail != "" {
			return "validation failed: " + e.Detail
		}
		return "validation failed"
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+strings.Join(e.Fields[name], " "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// failure pairs a taxonomy sentinel with its cause so both stay reachable
// through errors.Is and errors.As.
type failure struct {
	kind  error
	cause error
}

func (f *failure) Error() string {
	if f.cause == nil {
		return f.kind.Error()
	}
	return f.kind.Error() + ": " + f.cause.Error()
}

func (f *failure) Unwrap() []error {
	if f.cause == nil {
		return []error{f.kind}
	}
	return []error{f.kind, f.cause}
}

// classify maps a backend error to the taxonomy. An explicit 4xx rejection
// becomes rejected; anything else is a network failure.
func classify(err error, rejected error) error {
	var se *api.StatusError
	if errors.As(err, &se) && se.Rejected() {
		return &failure{kind: rejected, cause: err}
	}
	return &failure{kind: ErrNetworkFailure, cause: err}
}

// validationFailure turns a rejected registration into a *ValidationError.
func validationFailure(err error) error {
	var se *api.StatusError
	if errors.As(err, &se) && se.Rejected() {
		return &ValidationError{Detail: se.Detail, Fields: se.Fields}
	}
	return &failure{kind: ErrNetworkFailure, cause: err}
}

// reason renders err for Session.LastError. Backend detail messages win over
// the reason code, except for refresh rejection which always records its code.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrRefreshRejected):
		return ReasonRefreshRejected
	case errors.Is(err, ErrNoRefreshCredential):
		return ReasonNoRefreshCredential
	}

	var se *api.StatusError
	if errors.As(err, &se) && se.Detail != "" {
		return se.Detail
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		if ve.Detail != "" {
			return ve.Detail
		}
		return ReasonValidationFailed
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return ReasonInvalidCredentials
	case errors.Is(err, ErrNetworkFailure):
		return ReasonNetworkFailure
	}
	return err.Error()
}

// outcome labels an operation result for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrNoRefreshCredential):
		return "no_refresh_credential"
	case errors.Is(err, ErrRefreshRejected):
		return "refresh_rejected"
	case errors.Is(err, ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, ErrNetworkFailure):
		return "network_failure"
	}
	return "error"
}
