// Package compiler turns command file text into an ir.Program.
//
// Grammar (keywords are lowercase and case-sensitive):
//
//	line    := "dispatcher_wait"
//	         | "dispatcher_msleep" <ms>
//	         | "worker" action (";" action)*
//	action  := "increment" <id> | "decrement" <id> | "msleep" <ms> | "repeat" <n>
//
// Blank lines and empty ";" segments are ignored. "repeat n" applies to every
// action after it on the same line, so a later repeat nests inside it.
// Compilation is fail-fast: the first error aborts the whole file.
package compiler

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/roach88/tally/internal/ir"
)

// Command and action keywords.
const (
	KeywordWorker           = "worker"
	KeywordDispatcherWait   = "dispatcher_wait"
	KeywordDispatcherMsleep = "dispatcher_msleep"
)

// CompileFile opens path and compiles it. I/O failures are returned
// wrapped; grammar failures are *ParseError.
func CompileFile(path string, numCounters int) (*ir.Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open command file: %w", err)
	}
	defer f.Close()
	return Compile(f, numCounters)
}

// Compile reads r line by line and compiles every non-blank line.
// Lines may be arbitrarily long.
func Compile(r io.Reader, numCounters int) (*ir.Program, error) {
	br := bufio.NewReader(r)
	prog := &ir.Program{}

	lineNo := 0
	for {
		line, readErr := br.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("read command file: %w", readErr)
		}
		if len(line) > 0 {
			lineNo++
			cmd, ok, err := CompileLine(lineNo, line, numCounters)
			if err != nil {
				return nil, err
			}
			if ok {
				prog.Commands = append(prog.Commands, cmd)
			}
		}
		if readErr != nil {
			break
		}
	}
	return prog, nil
}

// CompileLine compiles a single line. ok is false for blank lines.
func CompileLine(lineNo int, line string, numCounters int) (cmd ir.Command, ok bool, err error) {
	text := strings.TrimSpace(line)
	if text == "" {
		return ir.Command{}, false, nil
	}

	keyword, rest := splitKeyword(text)
	fail := func(code, format string, args ...any) (ir.Command, bool, error) {
		return ir.Command{}, false, &ParseError{
			Line:    lineNo,
			Text:    text,
			Code:    code,
			Message: fmt.Sprintf(format, args...),
		}
	}

	switch keyword {
	case KeywordDispatcherWait:
		if strings.TrimSpace(rest) != "" {
			return fail(ErrCodeExtraOperand, "%s takes no operands", keyword)
		}
		return ir.Command{Kind: ir.CommandWait, Line: lineNo, Text: text}, true, nil

	case KeywordDispatcherMsleep:
		ms, perr := singleOperand(keyword, strings.Fields(rest))
		if perr != nil {
			return fail(perr.code, "%s", perr.msg)
		}
		if ms < 0 {
			return fail(ErrCodeNegativeOperand, "%s duration must be >= 0, got %d", keyword, ms)
		}
		return ir.Command{Kind: ir.CommandSleep, Line: lineNo, Text: text, Millis: ms}, true, nil

	case KeywordWorker:
		actions, perr := compileActions(rest, numCounters)
		if perr != nil {
			return fail(perr.code, "%s", perr.msg)
		}
		job := &ir.Job{Line: lineNo, Text: text, Actions: actions}
		return ir.Command{Kind: ir.CommandJob, Line: lineNo, Text: text, Job: job}, true, nil

	default:
		return fail(ErrCodeUnknownCommand, "unknown command %q", keyword)
	}
}

// splitKeyword separates the leading keyword from the rest of the line.
// The keyword ends at the first whitespace or ';'.
func splitKeyword(text string) (string, string) {
	end := strings.IndexFunc(text, func(r rune) bool {
		return r == ';' || r == ' ' || r == '\t'
	})
	if end < 0 {
		return text, ""
	}
	return text[:end], text[end:]
}

type lineError struct {
	code string
	msg  string
}

// compileActions parses the ";"-separated action list of a worker line.
func compileActions(list string, numCounters int) ([]ir.Action, *lineError) {
	var actions []ir.Action
	target := &actions

	for _, seg := range strings.Split(list, ";") {
		fields := strings.Fields(seg)
		if len(fields) == 0 {
			continue
		}
		keyword := fields[0]

		switch ir.ActionKind(keyword) {
		case ir.ActionIncrement, ir.ActionDecrement:
			id, err := singleOperand(keyword, fields[1:])
			if err != nil {
				return nil, err
			}
			if id < 0 || id >= int64(numCounters) {
				return nil, &lineError{ErrCodeCounterOutOfRange,
					fmt.Sprintf("%s: counter %d outside [0, %d)", keyword, id, numCounters)}
			}
			*target = append(*target, ir.Action{Kind: ir.ActionKind(keyword), Counter: int(id)})

		case ir.ActionSleep:
			ms, err := singleOperand(keyword, fields[1:])
			if err != nil {
				return nil, err
			}
			if ms < 0 {
				return nil, &lineError{ErrCodeNegativeOperand,
					fmt.Sprintf("%s duration must be >= 0, got %d", keyword, ms)}
			}
			*target = append(*target, ir.Sleep(ms))

		case ir.ActionRepeat:
			n, err := singleOperand(keyword, fields[1:])
			if err != nil {
				return nil, err
			}
			if n < 0 {
				return nil, &lineError{ErrCodeNegativeOperand,
					fmt.Sprintf("%s count must be >= 0, got %d", keyword, n)}
			}
			// Everything after this point on the line belongs to the repeat body.
			// The enclosing slice is never appended to again, so the pointer stays valid.
			*target = append(*target, ir.Repeat(int(n)))
			rep := &(*target)[len(*target)-1]
			target = &rep.Body

		default:
			return nil, &lineError{ErrCodeUnknownAction, fmt.Sprintf("unknown action %q", keyword)}
		}
	}
	return actions, nil
}

// singleOperand requires exactly one integer operand.
func singleOperand(keyword string, operands []string) (int64, *lineError) {
	switch {
	case len(operands) == 0:
		return 0, &lineError{ErrCodeMissingOperand, fmt.Sprintf("%s requires an operand", keyword)}
	case len(operands) > 1:
		return 0, &lineError{ErrCodeExtraOperand,
			fmt.Sprintf("%s takes one operand, got %d", keyword, len(operands))}
	}
	v, err := strconv.ParseInt(operands[0], 10, 64)
	if err != nil {
		return 0, &lineError{ErrCodeInvalidOperand,
			fmt.Sprintf("%s operand %q is not an integer", keyword, operands[0])}
	}
	return v, nil
}
