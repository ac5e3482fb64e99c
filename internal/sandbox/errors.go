package sandbox

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a tool failure. Codes are part of the wire protocol
// and are shown to both the model and the panel.
type ErrorCode string

const (
	CodeReadError            ErrorCode = "READ_ERROR"
	CodeWriteError           ErrorCode = "WRITE_ERROR"
	CodeDeleteError          ErrorCode = "DELETE_ERROR"
	CodeInvalidMaxDepth      ErrorCode = "INVALID_MAX_DEPTH"
	CodeInvalidIncludeOpts   ErrorCode = "INVALID_INCLUDE_OPTIONS"
	CodeFileDoesNotExist     ErrorCode = "FILE_DOES_NOT_EXIST"
	CodeNotADirectory        ErrorCode = "FILE_IS_NOT_A_DIRECTORY"
	CodeListError            ErrorCode = "LIST_ERROR"
	CodeMissingPattern       ErrorCode = "MISSING_PATTERN"
	CodeGlobError            ErrorCode = "GLOB_ERROR"
	CodeMissingQuery         ErrorCode = "MISSING_QUERY"
	CodeMissingExplanation   ErrorCode = "MISSING_EXPLANATION"
	CodeInvalidQuery         ErrorCode = "INVALID_QUERY"
	CodeSearchError          ErrorCode = "SEARCH_ERROR"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeNotUnique            ErrorCode = "NOT_UNIQUE"
	CodeNoChange             ErrorCode = "NO_CHANGE"
	CodeMissingPath          ErrorCode = "MISSING_PATH"
	CodeInvalidLineRange     ErrorCode = "INVALID_LINE_RANGE"
	CodePathOutsideWorkspace ErrorCode = "PATH_OUTSIDE_WORKSPACE"
	CodeUnknownTool          ErrorCode = "UNKNOWN_TOOL"
	CodeInvalidArguments     ErrorCode = "INVALID_ARGUMENTS"
	CodeCancelled            ErrorCode = "CANCELLED"
)

// ToolError is a recoverable tool failure. It is reported back to the
// caller as data; the turn that triggered it carries on.
type ToolError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Err }

func toolErr(code ErrorCode, format string, args ...any) *ToolError {
	return &ToolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// wrapErr keeps the underlying cause in the message so the model sees why
// the filesystem call failed.
func wrapErr(code ErrorCode, err error, format string, args ...any) *ToolError {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	return &ToolError{Code: code, Message: msg, Err: err}
}

// CodeOf returns the ErrorCode carried by err, or "" if err is not a
// ToolError.
func CodeOf(err error) ErrorCode {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// AsToolError converts any error into a ToolError, using fallback when err
// does not already carry a code.
func AsToolError(err error, fallback ErrorCode) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{Code: fallback, Message: err.Error(), Err: err}
}
