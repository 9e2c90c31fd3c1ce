// Package errors provides the structured error type used across sitebuild.
//
// Producer failures, filesystem faults, configuration problems and task graph
// structural faults all surface as *SiteError values so callers can classify
// them with errors.As and decide whether a failure is fatal.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// ErrorType classifies a SiteError.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeBuild      ErrorType = "build"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeStructure  ErrorType = "structure"
	ErrorTypeInternal   ErrorType = "internal"
)

// Recoverable reports whether errors of this type clear up on their own
// once the user edits the offending source.
func (t ErrorType) Recoverable() bool {
	return t == ErrorTypeBuild || t == ErrorTypeValidation
}

// SiteError is a structured error type with context.
type SiteError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Task        string
	Producer    string
	FilePath    string
	Line        int
	Recoverable bool
}

// Error renders "[CODE] producer:name file:line message: cause", omitting
// the parts that are unset.
func (e *SiteError) Error() string {
	var b strings.Builder
	sep := func() {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
	}

	if e.Code != "" {
		fmt.Fprintf(&b, "[%s]", e.Code)
	}
	if e.Producer != "" {
		sep()
		b.WriteString("producer:" + e.Producer)
	}
	if e.FilePath != "" {
		sep()
		b.WriteString(e.FilePath)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d", e.Line)
		}
	}
	sep()
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *SiteError) Unwrap() error {
	return e.Cause
}

// Is matches another *SiteError with the same type and code.
func (e *SiteError) Is(target error) bool {
	var t *SiteError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}
	return false
}

// WithContext attaches a key/value pair.
func (e *SiteError) WithContext(key string, value interface{}) *SiteError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithLocation points the error at a source file. A line of 0 means the
// whole file.
func (e *SiteError) WithLocation(filePath string, line int) *SiteError {
	e.FilePath = filePath
	e.Line = line
	return e
}

// WithProducer records the producer and task the error originated from.
func (e *SiteError) WithProducer(task, producer string) *SiteError {
	e.Task = task
	e.Producer = producer
	return e
}

func newError(t ErrorType, code, message string, cause error) *SiteError {
	return &SiteError{
		Type:        t,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: t.Recoverable(),
	}
}

func NewValidationError(code, message string) *SiteError {
	return newError(ErrorTypeValidation, code, message, nil)
}

// NewBuildError reports a failed transform: a compiler, bundler, optimizer
// or generator rejected its input.
func NewBuildError(code, message string, cause error) *SiteError {
	return newError(ErrorTypeBuild, code, message, cause)
}

// NewIOError reports a filesystem fault.
func NewIOError(code, message string, cause error) *SiteError {
	return newError(ErrorTypeIO, code, message, cause)
}

func NewConfigError(code, message string) *SiteError {
	return newError(ErrorTypeConfig, code, message, nil)
}

// NewStructureError reports a task graph fault found at construction:
// duplicate names, unknown references, cycles.
func NewStructureError(code, message string) *SiteError {
	return newError(ErrorTypeStructure, code, message, nil)
}

func NewInternalError(code, message string, cause error) *SiteError {
	return newError(ErrorTypeInternal, code, message, cause)
}

// outermost returns the first *SiteError in err's chain.
func outermost(err error) (*SiteError, bool) {
	var se *SiteError
	ok := errors.As(err, &se)
	return se, ok
}

func IsRecoverable(err error) bool {
	se, ok := outermost(err)
	return ok && se.Recoverable
}

// IsBuildError reports a failed transform.
func IsBuildError(err error) bool {
	return HasErrorType(err, ErrorTypeBuild)
}

// IsStructureError reports a task graph fault.
func IsStructureError(err error) bool {
	return HasErrorType(err, ErrorTypeStructure)
}

// HasErrorType reports whether the outermost *SiteError in the chain has
// the given type.
func HasErrorType(err error, errType ErrorType) bool {
	se, ok := outermost(err)
	return ok && se.Type == errType
}

// HasErrorCode reports whether the outermost *SiteError in the chain has
// the given code.
func HasErrorCode(err error, code string) bool {
	se, ok := outermost(err)
	return ok && se.Code == code
}

// IsFilesystemFault reports whether err comes from the filesystem rather than
// from a transform: permission problems, missing paths, or an IO SiteError.
func IsFilesystemFault(err error) bool {
	if err == nil {
		return false
	}
	if HasErrorType(err, ErrorTypeIO) {
		return true
	}
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
		return true
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return true
	}
	var linkErr *os.LinkError
	return errors.As(err, &linkErr)
}

// IsInterrupted reports whether err is the result of context cancellation.
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Wrap classifies err. It returns nil for a nil err.
func Wrap(err error, errType ErrorType, code, message string) *SiteError {
	if err == nil {
		return nil
	}
	return newError(errType, code, message, err)
}

// Common error codes
const (
	ErrCodeUnknownTask       = "ERR_UNKNOWN_TASK"
	ErrCodeCycle             = "ERR_TASK_CYCLE"
	ErrCodeDuplicate         = "ERR_DUPLICATE_NAME"
	ErrCodeTransformFailed   = "ERR_TRANSFORM_FAILED"
	ErrCodeFilesystem        = "ERR_FILESYSTEM"
	ErrCodeTimeout           = "ERR_PRODUCER_TIMEOUT"
	ErrCodePanic             = "ERR_PRODUCER_PANIC"
	ErrCodeInvalidConfig     = "ERR_INVALID_CONFIG"
	ErrCodeInvalidPath       = "ERR_INVALID_PATH"
	ErrCodeInvalidCommand    = "ERR_INVALID_COMMAND"
	ErrCodeMissingInput      = "ERR_MISSING_INPUT"
	ErrCodeLintFailed        = "ERR_LINT_FAILED"
	ErrCodeReloadUnavailable = "ERR_RELOAD_UNAVAILABLE"
)
