package compiler

import (
	"errors"
	"fmt"
)

// Parse error codes.
const (
	ErrCodeUnknownCommand    = "unknown_command"
	ErrCodeUnknownAction     = "unknown_action"
	ErrCodeMissingOperand    = "missing_operand"
	ErrCodeInvalidOperand    = "invalid_operand"
	ErrCodeExtraOperand      = "extra_operand"
	ErrCodeNegativeOperand   = "negative_operand"
	ErrCodeCounterOutOfRange = "counter_out_of_range"
)

// ParseError reports a fatal problem on one line of a command file.
// Any ParseError aborts the whole run before a single job executes.
type ParseError struct {
	Line    int    // 1-based line number
	Text    string // trimmed line content
	Code    string // one of the ErrCode constants
	Message string
}

func (e *ParseError) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("line %d: %s: %s (in %q)", e.Line, e.Code, e.Message, e.Text)
	}
	return fmt.Sprintf("line %d: %s: %s", e.Line, e.Code, e.Message)
}

// IsParseError returns true if err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
