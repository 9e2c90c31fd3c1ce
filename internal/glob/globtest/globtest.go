// Package globtest builds glob patterns for tests.
package globtest

import (
	"testing"

	"github.com/villasimius/sitebuild/internal/glob"
)

// New compiles globs or fails the test.
func New(t testing.TB, globs ...string) *glob.Pattern {
	t.Helper()
	p, err := glob.New(globs...)
	if err != nil {
		t.Fatalf("glob %v: %v", globs, err)
	}
	return p
}
