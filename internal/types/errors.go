package types

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownPlatform  = errors.New("unknown platform")
	ErrUnknownCategory  = errors.New("unknown category")
	ErrSessionClosed    = errors.New("fetch session is not open")
	ErrRetriesExhausted = errors.New("all retry attempts failed")
)

// TransportError is a connection failure, timeout or non-200 response
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: unexpected status code: %d", e.URL, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BlockedError means the page body is an anti-bot or captcha page
type BlockedError struct {
	URL       string
	Indicator string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked page at %s (matched %q)", e.URL, e.Indicator)
}

// ExtractionError means the page was fetched but a required selector did not match
type ExtractionError struct {
	URL   string
	Field string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("no %s found on %s", e.Field, e.URL)
}

// ValidationError means a price was unparsable or outside the accepted bounds.
// Retrying the same text is pointless, so it is never retried.
type ValidationError struct {
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid price %q: %s", e.Value, e.Reason)
}

// PersistenceError wraps a storage failure
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Retryable reports whether an attempt failing with err may succeed on a later attempt
func Retryable(err error) bool {
	var validation *ValidationError
	if errors.As(err, &validation) {
		return false
	}
	var transport *TransportError
	var blocked *BlockedError
	var extraction *ExtractionError
	return errors.As(err, &transport) || errors.As(err, &blocked) || errors.As(err, &extraction)
}

// Reason returns a short log label for an error class
func Reason(err error) string {
	var (
		transport   *TransportError
		blocked     *BlockedError
		extraction  *ExtractionError
		validation  *ValidationError
		persistence *PersistenceError
	)
	switch {
	case errors.As(err, &blocked):
		return "blocked"
	case errors.As(err, &transport):
		return "transport"
	case errors.As(err, &extraction):
		return "extraction"
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &persistence):
		return "persistence"
	default:
		return "unknown"
	}
}
