package client

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnreachable  = errors.New("gateway unreachable")
	ErrRejected     = errors.New("statement rejected")
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
	body       []byte
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, body: body}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		e.Message = payload.Error
	} else {
		e.Message = string(body)
	}
	return e
}

func (e *APIError) Error() string {
	return fmt.Sprintf("infragate: HTTP %d: %s", e.StatusCode, e.Message)
}

// Is maps status codes onto the sentinel errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrForbidden:
		return e.StatusCode == 403
	case ErrUnauthorized:
		return e.StatusCode == 401
	case ErrRateLimited:
		return e.StatusCode == 429
	}
	return false
}

// QueryRejectedError is returned when a statement is not a pure read.
type QueryRejectedError struct {
	Reason  string `json:"error"`
	Rule    string `json:"rule"`
	Keyword string `json:"keyword,omitempty"`
	Index   int    `json:"statement_index"`
}

func (e *QueryRejectedError) Error() string {
	return "query rejected: " + e.Reason
}

func (e *QueryRejectedError) Is(target error) bool {
	return target == ErrRejected
}

// UnreachableError wraps transport failures.
type UnreachableError struct {
	Cause error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("gateway unreachable: %v", e.Cause)
}

func (e *UnreachableError) Unwrap() error { return e.Cause }

func (e *UnreachableError) Is(target error) bool {
	return target == ErrUnreachable
}
