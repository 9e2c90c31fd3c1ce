package errors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSiteErrorError(t *testing.T) {
	err := NewBuildError(ErrCodeTransformFailed, "sass failed", errors.New("undefined variable"))
	err.WithProducer("build", "sass").WithLocation("stylesheets/application.sass", 12)

	msg := err.Error()
	assert.Contains(t, msg, "[ERR_TRANSFORM_FAILED]")
	assert.Contains(t, msg, "producer:sass")
	assert.Contains(t, msg, "stylesheets/application.sass:12")
	assert.Contains(t, msg, "undefined variable")
	assert.Equal(t, "build", err.Task)
}

func TestSiteErrorIs(t *testing.T) {
	a := NewStructureError(ErrCodeUnknownTask, "unknown task \"x\"")
	b := NewStructureError(ErrCodeUnknownTask, "unknown task \"y\"")
	c := NewStructureError(ErrCodeCycle, "cycle")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))

	wrapped := fmt.Errorf("loading graph: %w", a)
	assert.True(t, IsStructureError(wrapped))
	assert.True(t, HasErrorCode(wrapped, ErrCodeUnknownTask))
}

func TestRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(NewBuildError("x", "y", nil)))
	assert.False(t, IsRecoverable(NewIOError("x", "y", nil)))
	assert.False(t, IsRecoverable(errors.New("plain")))
}

func TestIsFilesystemFault(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"permission", fs.ErrPermission, true},
		{"not exist wrapped", fmt.Errorf("open: %w", fs.ErrNotExist), true},
		{"path error", &fs.PathError{Op: "open", Path: "x", Err: errors.New("boom")}, true},
		{"link error", &os.LinkError{Op: "rename", Old: "a", New: "b", Err: errors.New("boom")}, true},
		{"io site error", NewIOError(ErrCodeFilesystem, "copy failed", nil), true},
		{"build error", NewBuildError(ErrCodeTransformFailed, "bad sass", nil), false},
		{"plain", errors.New("syntax error"), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsFilesystemFault(tc.err))
		})
	}
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeBuild, "x", "y"))

	cause := errors.New("root")
	err := Wrap(cause, ErrorTypeBuild, ErrCodeTransformFailed, "bundle failed")
	require.NotNil(t, err)
	assert.ErrorIs(t, err, cause)
	assert.True(t, err.Recoverable)
	assert.True(t, IsBuildError(err))
}

func TestIsInterrupted(t *testing.T) {
	assert.True(t, IsInterrupted(fmt.Errorf("stage 2: %w", context.Canceled)))
	assert.False(t, IsInterrupted(context.DeadlineExceeded))
}

func TestWithContext(t *testing.T) {
	err := NewValidationError(ErrCodeInvalidPath, "bad path").
		WithContext("path", "../etc").
		WithContext("field", "paths.dist")

	assert.Equal(t, "../etc", err.Context["path"])
	assert.Equal(t, "paths.dist", err.Context["field"])
}
