package domain

import (
	"errors"
	"fmt"
)

type AuthReason string

const (
	AuthMissingCredential AuthReason = "MISSING_CREDENTIAL"
	AuthRefreshRejected   AuthReason = "REFRESH_REJECTED"
	AuthRefreshFailed     AuthReason = "REFRESH_FAILED"
)

// AuthError means no access token could be obtained for an account.
// It is fatal for that account's pass only.
type AuthError struct {
	AccountID string
	Reason    AuthReason
	Status    int
	Body      string
	Err       error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("auth %s for account %s", e.Reason, e.AccountID)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// Retryable reports whether a later run could succeed without operator action.
func (e *AuthError) Retryable() bool {
	return e.Reason == AuthRefreshFailed || e.Status == 429 || e.Status >= 500
}

type FetchReason string

const (
	FetchTransport    FetchReason = "TRANSPORT"
	FetchHTTPStatus   FetchReason = "HTTP_STATUS"
	FetchAPIError     FetchReason = "API_ERROR"
	FetchUnauthorized FetchReason = "UNAUTHORIZED"
	FetchMalformed    FetchReason = "MALFORMED_RESPONSE"
)

// FetchError is returned by the listing fetcher for one page request.
type FetchError struct {
	Page   int
	Reason FetchReason
	Status int
	Code   string
	Err    error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch page %d: %s", e.Page, e.Reason)
	if e.Status != 0 {
		msg += fmt.Sprintf(" status %d", e.Status)
	}
	if e.Code != "" {
		msg += " code " + e.Code
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Retryable() bool {
	switch e.Reason {
	case FetchTransport:
		return true
	case FetchHTTPStatus:
		return e.Status == 429 || e.Status >= 500
	default:
		return false
	}
}

// MalformedResponseError means the marketplace answered with a document we
// cannot interpret, e.g. a non-zero count with no listing collection.
type MalformedResponseError struct {
	Reason string
	Raw    string
}

func (e *MalformedResponseError) Error() string {
	return "malformed response: " + e.Reason
}

// WriteError is a store failure for a single listing row.
type WriteError struct {
	AccountID  string
	ExternalID string
	Op         string
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s listing %s for account %s: %v", e.Op, e.ExternalID, e.AccountID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Retryable() bool { return true }

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found for %s", e.Resource, e.ID)
}

var ErrMissingAccountID = errors.New("account id is required")

// ErrOutOfTime means the context deadline would pass before the next request
// could be sent. Nothing was sent.
var ErrOutOfTime = errors.New("deadline would pass before the next request")

// ErrListingNotFound is returned by an update of a row that does not exist.
var ErrListingNotFound = errors.New("listing not found")

// IsRetryable reports whether err, or anything it wraps, declares itself retryable.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// IsUnauthorized reports whether the marketplace refused the access token
// itself, which no other page of the same account can recover from.
func IsUnauthorized(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr) && fetchErr.Reason == FetchUnauthorized
}
