package errors

import "errors"

// Transport and storage level errors shared by the client packages.
// The caller-facing lifecycle taxonomy lives in the session package.
var (
	// Credential storage errors
	ErrUnknownStoreDriver = errors.New("unknown credential store driver")

	// Token errors
	ErrMalformedToken = errors.New("malformed token")
	ErrMissingExpiry  = errors.New("token missing exp claim")

	// Backend errors
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrTransport        = errors.New("transport failure")
	ErrDecodeResponse   = errors.New("undecodable response")
	ErrMissingToken     = errors.New("response missing token")

	// General errors
	ErrInvalidConfig = errors.New("invalid configuration")
)
