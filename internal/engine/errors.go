package engine

import "fmt"

// RuntimeError represents a defect detected while a run executes.
//
// Runtime errors are never expected: programs are validated against the
// counter bank before any job starts, and the dispatcher closes the queue
// only after its last push. Seeing one means the engine was misused.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Line is the command file line involved, 0 if none.
	Line int

	// Worker is the worker index involved, -1 if none.
	Worker int

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeCounterFault indicates an action referenced a counter outside the bank.
	ErrCodeCounterFault RuntimeErrorCode = "COUNTER_FAULT"

	// ErrCodeQueueClosed indicates a job was submitted after shutdown began.
	ErrCodeQueueClosed RuntimeErrorCode = "QUEUE_CLOSED"

	// ErrCodeInvalidProgram indicates a program failed validation before the run.
	ErrCodeInvalidProgram RuntimeErrorCode = "INVALID_PROGRAM"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Line > 0 {
		msg += fmt.Sprintf(" (line %d)", e.Line)
	}
	if e.Worker >= 0 {
		msg += fmt.Sprintf(" (worker %d)", e.Worker)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewCounterFault creates a RuntimeError for a failed counter mutation.
func NewCounterFault(worker, line int, cause error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeCounterFault,
		Message: "counter mutation failed",
		Line:    line,
		Worker:  worker,
		Err:     cause,
	}
}

// NewQueueClosedError creates a RuntimeError for a rejected push.
func NewQueueClosedError(line int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeQueueClosed,
		Message: "job submitted after queue was closed",
		Line:    line,
		Worker:  -1,
	}
}
