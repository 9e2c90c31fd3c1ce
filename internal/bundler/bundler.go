// Package bundler bundles the site's JavaScript with esbuild. In resident
// mode it keeps an incremental build context so rebuilds only re-read the
// files that changed.
package bundler

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/tidwall/gjson"

	errs "github.com/villasimius/sitebuild/internal/errors"
	"github.com/villasimius/sitebuild/internal/logging"
	"github.com/villasimius/sitebuild/internal/pipeline"
)

var targets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// loaders maps extensions esbuild does not know by default.
var loaders = map[string]api.Loader{
	".es6": api.LoaderJS,
}

// ParseTarget resolves a language target name such as "es2015".
func ParseTarget(name string) (api.Target, error) {
	t, ok := targets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, errs.NewConfigError(errs.ErrCodeInvalidConfig, fmt.Sprintf("unknown script target %q", name))
	}
	return t, nil
}

type Config struct {
	// Dir is the directory Entry is relative to.
	Dir     string
	Entry   string
	Outfile string
	Target  string
}

// Bundler is the "browserify" producer.
type Bundler struct {
	cfg    Config
	target api.Target
	logger logging.Logger

	mu          sync.Mutex
	incremental api.BuildContext
	production  bool
	inputs      []string
	builds      int
}

func New(cfg Config, logger logging.Logger) (*Bundler, error) {
	if cfg.Target == "" {
		cfg.Target = "es2015"
	}
	target, err := ParseTarget(cfg.Target)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	abs, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, errs.NewIOError(errs.ErrCodeInvalidPath, "resolve script directory", err)
	}
	cfg.Dir = abs
	return &Bundler{cfg: cfg, target: target, logger: logger.WithComponent("bundler")}, nil
}

func (b *Bundler) Name() string      { return "browserify" }
func (b *Bundler) Outputs() []string { return []string{b.cfg.Outfile} }

func (b *Bundler) options(production bool) api.BuildOptions {
	opts := api.BuildOptions{
		EntryPoints:   []string{b.cfg.Entry},
		AbsWorkingDir: b.cfg.Dir,
		Outfile:       b.cfg.Outfile,
		Bundle:        true,
		Write:         true,
		Metafile:      true,
		Platform:      api.PlatformBrowser,
		Target:        b.target,
		Loader:        loaders,
		LogLevel:      api.LogLevelSilent,
		Sourcemap:     api.SourceMapInline,
	}
	if production {
		opts.MinifyWhitespace = true
		opts.MinifyIdentifiers = true
		opts.MinifySyntax = true
		opts.Sourcemap = api.SourceMapNone
	}
	return opts
}

// Produce bundles the entry point. Resident builds reuse one incremental
// context; a change of production mode starts a fresh one.
func (b *Bundler) Produce(ctx context.Context, bc pipeline.BuildContext) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result api.BuildResult
	if bc.Resident() {
		if b.incremental != nil && b.production != bc.Production() {
			b.incremental.Dispose()
			b.incremental = nil
		}
		if b.incremental == nil {
			ictx, cerr := api.Context(b.options(bc.Production()))
			if cerr != nil {
				return errs.NewBuildError(errs.ErrCodeTransformFailed, "create bundle context", toError(cerr.Errors))
			}
			b.incremental = ictx
			b.production = bc.Production()
			b.logger.Debug(ctx, "incremental bundle context created", "entry", b.cfg.Entry)
		}
		stop := context.AfterFunc(ctx, b.incremental.Cancel)
		result = b.incremental.Rebuild()
		stop()
	} else {
		result = api.Build(b.options(bc.Production()))
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if len(result.Errors) > 0 {
		return bundleError(result.Errors)
	}
	for _, w := range result.Warnings {
		b.logger.Warn(ctx, nil, "bundle warning", "message", formatMessage(w))
	}

	b.inputs = metafileInputs(result.Metafile)
	b.builds++
	b.logger.Info(ctx, "bundle written", "output", b.cfg.Outfile, "inputs", len(b.inputs), "production", bc.Production())
	return nil
}

// Inputs returns the files, relative to the script directory, that the last
// bundle was built from.
func (b *Bundler) Inputs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.inputs...)
}

// Builds counts completed bundles.
func (b *Bundler) Builds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.builds
}

// Close releases the incremental context.
func (b *Bundler) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.incremental != nil {
		b.incremental.Dispose()
		b.incremental = nil
	}
}

// Check parses source as JavaScript for the configured target. filename is
// used in error locations.
func (b *Bundler) Check(filename string, source []byte) error {
	result := api.Transform(string(source), api.TransformOptions{
		Loader:     api.LoaderJS,
		Target:     b.target,
		Sourcefile: filename,
		LogLevel:   api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return bundleError(result.Errors)
	}
	return nil
}

// Validate reports whether code, typically bundle output, parses.
func (b *Bundler) Validate(code []byte) error {
	return b.Check("<bundle>", code)
}

func metafileInputs(meta string) []string {
	if meta == "" {
		return nil
	}
	var out []string
	gjson.Get(meta, "inputs").ForEach(func(key, _ gjson.Result) bool {
		out = append(out, key.String())
		return true
	})
	sort.Strings(out)
	return out
}

func formatMessage(m api.Message) string {
	if m.Location == nil {
		return m.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text)
}

type messagesError []api.Message

func (e messagesError) Error() string {
	lines := make([]string, len(e))
	for i, m := range e {
		lines[i] = formatMessage(m)
	}
	return strings.Join(lines, "\n")
}

func toError(msgs []api.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return messagesError(msgs)
}

func bundleError(msgs []api.Message) error {
	err := errs.NewBuildError(errs.ErrCodeTransformFailed, "javascript bundle failed", toError(msgs))
	if loc := msgs[0].Location; loc != nil {
		err = err.WithLocation(loc.File, loc.Line)
	}
	return err
}
