package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Sentinel errors shared by the agent, the host adapter and the front ends.
// Wrap them with Wrapf and test for them with Is.
var (
	// Resolution failures. The query is rejected before anything is appended
	// to the conversation.
	ErrUnknownCommand  = stderrors.New("unknown command")
	ErrUnknownResource = stderrors.New("unknown resource")

	// Tool host failures.
	ErrResourceNotFound = stderrors.New("resource not found")
	ErrPromptNotFound   = stderrors.New("prompt not found")
	ErrToolExecution    = stderrors.New("tool execution failed")

	// Loop terminations. The session survives all of them.
	ErrToolLoopExceeded  = stderrors.New("tool loop exceeded maximum rounds")
	ErrCompletionService = stderrors.New("completion service failed")
	ErrCancelled         = stderrors.New("cancelled")
)

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	return fmt.Errorf("[%s:%d] %s", file, line, fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	return fmt.Errorf("[%s:%d] %s: %w", file, line, fmt.Sprintf(format, a...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}
