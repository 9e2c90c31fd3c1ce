// Package producers holds the file-level build steps of the asset pipeline:
// cleaning, copying, image optimization, stylesheet compilation, script
// linting and precompression.
package producers

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	errs "github.com/villasimius/sitebuild/internal/errors"
	"github.com/villasimius/sitebuild/internal/glob"
	"github.com/villasimius/sitebuild/internal/logging"
	"github.com/villasimius/sitebuild/internal/pipeline"
)

// Clean removes the distribution and scratch directories.
type Clean struct {
	dirs   []string
	logger logging.Logger
}

// NewClean creates the clean producer. Every dir must be a non-root path.
func NewClean(logger logging.Logger, dirs ...string) (*Clean, error) {
	for _, d := range dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return nil, errs.NewIOError(errs.ErrCodeInvalidPath, "resolve clean directory", err)
		}
		if d == "" || abs == filepath.VolumeName(abs)+string(filepath.Separator) {
			return nil, errs.NewConfigError(errs.ErrCodeInvalidPath, fmt.Sprintf("refusing to clean %q", d))
		}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Clean{dirs: dirs, logger: logger.WithComponent("clean")}, nil
}

func (c *Clean) Name() string      { return "clean" }
func (c *Clean) Outputs() []string { return c.dirs }

func (c *Clean) Produce(ctx context.Context, _ pipeline.BuildContext) error {
	for _, d := range c.dirs {
		if err := os.RemoveAll(d); err != nil {
			return errs.NewIOError(errs.ErrCodeFilesystem, "remove "+d, err)
		}
		c.logger.Debug(ctx, "removed", "dir", d)
	}
	return nil
}

// SkipFunc reports whether the copy producer should leave the destination
// file rel alone during the run described by bc.
type SkipFunc func(bc pipeline.BuildContext, rel string) bool

// Copy copies the files matched by a pattern into an output directory,
// keeping their paths relative to the pattern's base.
type Copy struct {
	name    string
	srcDir  string
	pattern *glob.Pattern
	destDir string
	skip    SkipFunc
	logger  logging.Logger
}

// CopyOption configures a Copy producer.
type CopyOption func(*Copy)

// WithSkip sets the skip predicate.
func WithSkip(fn SkipFunc) CopyOption {
	return func(c *Copy) { c.skip = fn }
}

// NewCopy creates a copy producer called name. pattern is relative to srcDir.
func NewCopy(name, srcDir string, pattern *glob.Pattern, destDir string, logger logging.Logger, opts ...CopyOption) *Copy {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	c := &Copy{name: name, srcDir: srcDir, pattern: pattern, destDir: destDir, logger: logger.WithComponent(name)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Copy) Name() string      { return c.name }
func (c *Copy) Outputs() []string { return []string{c.destDir} }

func (c *Copy) Produce(ctx context.Context, bc pipeline.BuildContext) error {
	files, err := c.pattern.Expand(c.srcDir)
	if err != nil {
		return errs.NewIOError(errs.ErrCodeFilesystem, "expand "+c.pattern.String(), err)
	}
	copied, skipped := 0, 0
	for _, f := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel := c.pattern.Rel(f)
		if c.skip != nil && c.skip(bc, rel) {
			skipped++
			continue
		}
		if err := copyFile(filepath.Join(c.srcDir, filepath.FromSlash(f)), filepath.Join(c.destDir, filepath.FromSlash(rel))); err != nil {
			return err
		}
		copied++
	}
	c.logger.Debug(ctx, "copied", "files", copied, "skipped", skipped, "dest", c.destDir)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errs.NewIOError(errs.ErrCodeFilesystem, "open source", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errs.NewIOError(errs.ErrCodeFilesystem, "create output directory", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return errs.NewIOError(errs.ErrCodeFilesystem, "create output", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errs.NewIOError(errs.ErrCodeFilesystem, "copy "+src, err)
	}
	if err := out.Close(); err != nil {
		return errs.NewIOError(errs.ErrCodeFilesystem, "close output", err)
	}
	return nil
}

func writeFile(file string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return errs.NewIOError(errs.ErrCodeFilesystem, "create output directory", err)
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return errs.NewIOError(errs.ErrCodeFilesystem, "write output", err)
	}
	return nil
}

// outputLedger records the files a producer wrote, per graph run.
type outputLedger struct {
	mu    sync.Mutex
	run   string
	files map[string]bool
}

func (l *outputLedger) reset(run string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run = run
	l.files = make(map[string]bool)
}

func (l *outputLedger) add(run, rel string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.run != run {
		l.run = run
		l.files = make(map[string]bool)
	}
	l.files[rel] = true
}

func (l *outputLedger) has(run, rel string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.run == run && l.files[rel]
}
