// -----------------------------------------------------------------------
// Pipeline Errors - Semantic error kinds driving queue policy
// -----------------------------------------------------------------------

package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so the queue can pick the right policy:
// retry with backoff, skip terminally, block, or park until the next day.
type ErrorKind string

const (
	ErrKindTransient           ErrorKind = "Transient"
	ErrKindBlocked             ErrorKind = "Blocked"
	ErrKindNotFound            ErrorKind = "NotFound"
	ErrKindGone                ErrorKind = "Gone"
	ErrKindParseError          ErrorKind = "ParseError"
	ErrKindBudgetExhausted     ErrorKind = "BudgetExhausted"
	ErrKindNoProviderAvailable ErrorKind = "NoProviderAvailable"
	ErrKindStaleState          ErrorKind = "StaleState"
	ErrKindMaxDepthExceeded    ErrorKind = "MaxDepthExceeded"
	ErrKindConflict            ErrorKind = "Conflict"
)

// Retryable reports whether the kind is eligible for backoff-and-retry.
// BudgetExhausted and NoProviderAvailable are retryable too, but on a
// calendar schedule rather than exponential backoff.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindTransient, ErrKindBlocked, ErrKindParseError,
		ErrKindBudgetExhausted, ErrKindNoProviderAvailable:
		return true
	default:
		return false
	}
}

// TerminalStatus maps a non-retryable kind onto the queue status an item
// should land in. Retryable kinds map to FAILED once attempts run out.
func (k ErrorKind) TerminalStatus() QueueItemStatus {
	switch k {
	case ErrKindNotFound, ErrKindGone:
		return StatusSkipped
	case ErrKindMaxDepthExceeded:
		return StatusBlocked
	default:
		return StatusFailed
	}
}

// PipelineError carries an ErrorKind alongside the wrapped cause. Processors
// return these; the queue manager reads the kind, never the message.
type PipelineError struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *PipelineError) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Msg)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error is eligible for retry.
func (e *PipelineError) Retryable() bool {
	return e.Kind.Retryable()
}

// NewPipelineError builds an error with the given kind. Op names the
// operation that failed (e.g. "scraper.FetchListing").
func NewPipelineError(kind ErrorKind, op string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Err: err}
}

// NewPipelineErrorMsg builds an error with a static message and no cause.
func NewPipelineErrorMsg(kind ErrorKind, op, msg string) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Msg: msg}
}

// KindOf extracts the ErrorKind from err. Unclassified errors are treated
// as Transient so an unexpected failure is retried rather than dropped.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrKindTransient
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
