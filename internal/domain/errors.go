package domain

import (
	"fmt"
	"time"
)

// ValidationError is a local precondition failure. Requests carrying one
// never reach the exchange.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// TransportError wraps a network or timeout failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ExchangeRejectedError is a remote business-rule rejection, e.g.
// insufficient margin. Surfaced, never retried automatically.
type ExchangeRejectedError struct {
	Code    string
	Message string
}

func (e *ExchangeRejectedError) Error() string {
	return fmt.Sprintf("exchange rejected (code %s): %s", e.Code, e.Message)
}

// RateLimitedError signals a throttling response. Distinct from generic
// transport failure so callers can apply capped backoff.
type RateLimitedError struct {
	Op         string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: %s", e.Op)
}

// ParseError is a malformed AI response. It aborts the current decision
// cycle only.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse: %s", e.Reason)
}
