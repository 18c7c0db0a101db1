package domain

import (
	"errors"
	"time"
)

type FailureCategory string

const (
	CategoryAuth    FailureCategory = "auth"
	CategoryFetch   FailureCategory = "fetch"
	CategoryParse   FailureCategory = "parse"
	CategoryStorage FailureCategory = "storage"
	CategoryInput   FailureCategory = "input"
)

const (
	CodeMissingCredential = "AUTH_MISSING_CREDENTIAL"
	CodeRefreshRejected   = "AUTH_REFRESH_REJECTED"
	CodeRefreshFailed     = "AUTH_REFRESH_FAILED"
	CodeFetchFailed       = "FETCH_FAILED"
	CodeFetchUnauthorized = "FETCH_UNAUTHORIZED"
	CodeAPIError          = "FETCH_API_ERROR"
	CodeMalformedResponse = "MALFORMED_RESPONSE"
	CodeWriteFailed       = "WRITE_FAILED"
	CodeInvalidListing    = "INVALID_LISTING"
	CodeUnknown           = "UNKNOWN_ERROR"
)

// FailureEvent is a recovered error handed to telemetry.
type FailureEvent struct {
	ErrorCode  string          `json:"error_code"`
	Category   FailureCategory `json:"category"`
	Provider   string          `json:"provider"`
	Message    string          `json:"message"`
	AccountID  string          `json:"account_id"`
	PageNumber int             `json:"page_number,omitempty"`
	ExternalID string          `json:"external_id,omitempty"`
	Retryable  bool            `json:"retryable"`
	Details    map[string]any  `json:"details,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewFailureEvent classifies err into a FailureEvent. Callers fill in
// PageNumber and ExternalID where they apply.
func NewFailureEvent(provider, accountID string, err error) FailureEvent {
	ev := FailureEvent{
		ErrorCode:  CodeUnknown,
		Category:   CategoryFetch,
		Provider:   provider,
		Message:    err.Error(),
		AccountID:  accountID,
		Retryable:  IsRetryable(err),
		Details:    map[string]any{},
		OccurredAt: time.Now().UTC(),
	}

	var (
		authErr      *AuthError
		fetchErr     *FetchError
		malformedErr *MalformedResponseError
		writeErr     *WriteError
	)
	switch {
	case errors.As(err, &authErr):
		ev.Category = CategoryAuth
		switch authErr.Reason {
		case AuthMissingCredential:
			ev.ErrorCode = CodeMissingCredential
		case AuthRefreshRejected:
			ev.ErrorCode = CodeRefreshRejected
		default:
			ev.ErrorCode = CodeRefreshFailed
		}
		if authErr.Status != 0 {
			ev.Details["status"] = authErr.Status
		}
		if authErr.Body != "" {
			ev.Details["body"] = authErr.Body
		}
	case errors.As(err, &malformedErr):
		ev.Category = CategoryParse
		ev.ErrorCode = CodeMalformedResponse
		ev.Details["reason"] = malformedErr.Reason
		if malformedErr.Raw != "" {
			ev.Details["raw"] = malformedErr.Raw
		}
		if errors.As(err, &fetchErr) {
			ev.PageNumber = fetchErr.Page
		}
	case errors.As(err, &fetchErr):
		ev.PageNumber = fetchErr.Page
		switch fetchErr.Reason {
		case FetchUnauthorized:
			ev.Category = CategoryAuth
			ev.ErrorCode = CodeFetchUnauthorized
		case FetchAPIError:
			ev.ErrorCode = CodeAPIError
		default:
			ev.ErrorCode = CodeFetchFailed
		}
		if fetchErr.Status != 0 {
			ev.Details["status"] = fetchErr.Status
		}
		if fetchErr.Code != "" {
			ev.Details["api_code"] = fetchErr.Code
		}
	case errors.As(err, &writeErr):
		ev.Category = CategoryStorage
		ev.ErrorCode = CodeWriteFailed
		ev.ExternalID = writeErr.ExternalID
		ev.Details["op"] = writeErr.Op
	}

	return ev
}
