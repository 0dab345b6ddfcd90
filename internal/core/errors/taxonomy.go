package errors

import (
	stderrors "errors"
	"fmt"
)

// Sentinels for errors.Is checks against the typed errors below.
var (
	ErrConcurrency = stderrors.New("concurrency conflict")
	ErrNotFound    = stderrors.New("not found")
	ErrValidation  = stderrors.New("validation failed")
	ErrHandler     = stderrors.New("handler failed")
	ErrStep        = stderrors.New("saga step failed")
)

// ConcurrencyError means an append would break the per-aggregate version
// sequence. It is never retried automatically: the caller must re-derive the
// event against the current version.
type ConcurrencyError struct {
	AggregateID   string
	AggregateType string
	Version       int64
	// Current is the latest stored version when known, -1 otherwise.
	Current int64
}

func (e *ConcurrencyError) Error() string {
	if e.Current >= 0 {
		return fmt.Sprintf("concurrency conflict on %s/%s: version %d rejected (current %d)",
			e.AggregateType, e.AggregateID, e.Version, e.Current)
	}
	return fmt.Sprintf("concurrency conflict on %s/%s: version %d rejected",
		e.AggregateType, e.AggregateID, e.Version)
}

func (e *ConcurrencyError) Is(target error) bool { return target == ErrConcurrency }

// NotFoundError reports a stream, snapshot or saga lookup with no record.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// HandlerError wraps the last failure of a subscribed handler.
type HandlerError struct {
	Handler   string
	EventType string
	EventID   string
	Attempts  int
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %q failed on %s (%s) after %d attempt(s): %v",
		e.Handler, e.EventType, e.EventID, e.Attempts, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

func (e *HandlerError) Is(target error) bool { return target == ErrHandler }

// StepError reports a failed saga step. When Compensated is false the
// rollback itself failed and the saga needs an operator.
type StepError struct {
	SagaID      string
	SagaType    string
	Step        string
	Index       int
	Compensated bool
	Err         error
}

func (e *StepError) Error() string {
	if e.Compensated {
		return fmt.Sprintf("saga %s (%s) step %d %q failed, compensated: %v",
			e.SagaID, e.SagaType, e.Index, e.Step, e.Err)
	}
	return fmt.Sprintf("saga %s (%s) step %d %q failed, compensation failed: %v",
		e.SagaID, e.SagaType, e.Index, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func (e *StepError) Is(target error) bool { return target == ErrStep }

// ValidationError rejects malformed input before any work is done.
type ValidationError struct {
	Field   string
	Message string
	Details map[string]interface{}
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Validationf builds a ValidationError for field.
func Validationf(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
