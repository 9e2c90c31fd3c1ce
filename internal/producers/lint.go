package producers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	errs "github.com/villasimius/sitebuild/internal/errors"
	"github.com/villasimius/sitebuild/internal/glob"
	"github.com/villasimius/sitebuild/internal/logging"
	"github.com/villasimius/sitebuild/internal/pipeline"
)

// Checker parses one script. The bundler satisfies it.
type Checker interface {
	Check(filename string, source []byte) error
}

// Lint checks the syntax of every matched script.
type Lint struct {
	srcDir   string
	patterns []*glob.Pattern
	checker  Checker
	logger   logging.Logger
}

func NewLint(srcDir string, patterns []*glob.Pattern, checker Checker, logger logging.Logger) *Lint {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Lint{srcDir: srcDir, patterns: patterns, checker: checker, logger: logger.WithComponent("lint")}
}

func (l *Lint) Name() string      { return "lint:js" }
func (l *Lint) Outputs() []string { return nil }

func (l *Lint) Produce(ctx context.Context, _ pipeline.BuildContext) error {
	files, err := l.files()
	if err != nil {
		return err
	}

	var (
		failures []error
		first    *errs.SiteError
	)
	for _, f := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		src, err := os.ReadFile(filepath.Join(l.srcDir, filepath.FromSlash(f)))
		if err != nil {
			return errs.NewIOError(errs.ErrCodeFilesystem, "read script", err)
		}
		if err := l.checker.Check(f, src); err != nil {
			failures = append(failures, err)
			var se *errs.SiteError
			if first == nil && errors.As(err, &se) {
				first = se
			}
		}
	}

	l.logger.Debug(ctx, "scripts linted", "files", len(files), "failures", len(failures))
	if len(failures) == 0 {
		return nil
	}
	lerr := errs.NewBuildError(errs.ErrCodeLintFailed, fmt.Sprintf("%d of %d scripts failed to parse", len(failures), len(files)), errors.Join(failures...))
	if first != nil {
		lerr = lerr.WithLocation(first.FilePath, first.Line)
	}
	return lerr
}

func (l *Lint) files() ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, p := range l.patterns {
		matches, err := p.Expand(l.srcDir)
		if err != nil {
			return nil, errs.NewIOError(errs.ErrCodeFilesystem, "expand "+p.String(), err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
