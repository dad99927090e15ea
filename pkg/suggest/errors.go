package suggest

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a refresh failed.
type ErrorKind int

const (
	// FetchError is a network or transport failure.
	FetchError ErrorKind = iota + 1
	// ResponseError is a non-success response status.
	ResponseError
	// ParseError is a malformed or unexpected payload.
	ParseError
)

func (k ErrorKind) String() string {
	switch k {
	case FetchError:
		return "fetch"
	case ResponseError:
		return "response"
	case ParseError:
		return "parse"
	default:
		return "unknown"
	}
}

var (
	// ErrDiscarded is returned by a refresh whose result was dropped because
	// the index was invalidated while the fetch was in flight.
	ErrDiscarded = errors.New("refresh result discarded after invalidate")
	// ErrNoSource is returned when refreshing an index that was never configured.
	ErrNoSource = errors.New("index has no source configured")
)

// RefreshError carries the kind and a readable reason for a failed refresh.
type RefreshError struct {
	Kind   ErrorKind
	Source string
	Status int
	Reason string
	Err    error
}

func (e *RefreshError) Error() string {
	msg := fmt.Sprintf("%s error refreshing %s: %s", e.Kind, e.Source, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RefreshError) Unwrap() error { return e.Err }

// NewFetchError wraps a transport failure.
func NewFetchError(source string, err error) *RefreshError {
	return &RefreshError{Kind: FetchError, Source: source, Reason: "request failed", Err: err}
}

// NewResponseError reports a non-success status.
func NewResponseError(source string, status int, reason string) *RefreshError {
	return &RefreshError{Kind: ResponseError, Source: source, Status: status, Reason: reason}
}

// NewParseError wraps a payload decoding failure.
func NewParseError(source string, err error) *RefreshError {
	return &RefreshError{Kind: ParseError, Source: source, Reason: "malformed payload", Err: err}
}

// KindOf extracts the ErrorKind from err, or 0 when err is not a RefreshError.
func KindOf(err error) ErrorKind {
	var re *RefreshError
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

// asRefreshError maps any fetcher error onto a RefreshError; errors that are
// not already classified count as transport failures.
func asRefreshError(source string, err error) *RefreshError {
	var re *RefreshError
	if errors.As(err, &re) {
		return re
	}
	return NewFetchError(source, err)
}
