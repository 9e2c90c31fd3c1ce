package producers

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	errs "github.com/villasimius/sitebuild/internal/errors"
	"github.com/villasimius/sitebuild/internal/logging"
	"github.com/villasimius/sitebuild/internal/pipeline"
	"github.com/villasimius/sitebuild/internal/validation"
)

// CompileRequest describes one stylesheet compilation. Paths are slash
// separated and relative to Dir.
type CompileRequest struct {
	Dir        string
	Input      string
	Output     string
	LoadPaths  []string
	Production bool
}

// Compiler compiles a stylesheet entry into a CSS file.
type Compiler interface {
	Compile(ctx context.Context, req CompileRequest) error
}

// CommandRunner runs name with args in dir and returns its combined output.
type CommandRunner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// CLICompiler drives the dart-sass command line.
type CLICompiler struct {
	Command string
	run     CommandRunner
}

// NewCLICompiler creates a compiler invoking command. A nil runner executes
// the command for real.
func NewCLICompiler(command string, run CommandRunner) *CLICompiler {
	if command == "" {
		command = "sass"
	}
	if run == nil {
		run = execCommand
	}
	return &CLICompiler{Command: command, run: run}
}

// Args returns the command line arguments for req.
func (c *CLICompiler) Args(req CompileRequest) []string {
	args := []string{"--no-error-css"}
	if req.Production {
		args = append(args, "--style=compressed", "--no-source-map")
	} else {
		args = append(args, "--style=expanded", "--embed-source-map")
	}
	for _, lp := range req.LoadPaths {
		args = append(args, "--load-path="+lp)
	}
	return append(args, req.Input, req.Output)
}

func (c *CLICompiler) Compile(ctx context.Context, req CompileRequest) error {
	if err := validation.ValidateCommand(c.Command, validation.ToolCommands); err != nil {
		return errs.Wrap(err, errs.ErrorTypeConfig, errs.ErrCodeInvalidCommand, "stylesheet compiler")
	}
	args := c.Args(req)
	for _, arg := range args {
		if err := validation.ValidateArgument(arg); err != nil {
			return errs.Wrap(err, errs.ErrorTypeConfig, errs.ErrCodeInvalidCommand, "stylesheet compiler argument")
		}
	}

	out, err := c.run(ctx, req.Dir, c.Command, args...)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		serr := errs.NewBuildError(errs.ErrCodeTransformFailed, "stylesheet compilation failed", fmt.Errorf("%w\n%s", err, out))
		if file, line, ok := sassLocation(out); ok {
			serr = serr.WithLocation(file, line)
		}
		return serr
	}
	return nil
}

// Matches the trailer dart-sass prints under an error: "  app.sass 3:9  root stylesheet".
var sassLocationRe = regexp.MustCompile(`(?m)^\s*(\S+\.(?:sass|scss|css)) (\d+):\d+`)

func sassLocation(out []byte) (string, int, bool) {
	m := sassLocationRe.FindSubmatch(out)
	if m == nil {
		return "", 0, false
	}
	line, err := strconv.Atoi(string(m[2]))
	if err != nil {
		return "", 0, false
	}
	return string(m[1]), line, true
}

func execCommand(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// SassConfig places the stylesheet producer. Entry, Output and LoadPaths are
// relative to Root.
type SassConfig struct {
	Root      string
	Entry     string
	Output    string
	LoadPaths []string
	// PostProcess runs in the output directory with "{file}" replaced by the
	// CSS file name, or the name appended when the placeholder is absent.
	PostProcess string
}

// Sass is the stylesheet producer.
type Sass struct {
	cfg      SassConfig
	compiler Compiler
	run      CommandRunner
	logger   logging.Logger
}

// NewSass creates the "sass" producer. run executes the post-processor; nil
// means the real command.
func NewSass(cfg SassConfig, compiler Compiler, run CommandRunner, logger logging.Logger) *Sass {
	if run == nil {
		run = execCommand
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Sass{cfg: cfg, compiler: compiler, run: run, logger: logger.WithComponent("sass")}
}

func (s *Sass) Name() string      { return "sass" }
func (s *Sass) Outputs() []string { return []string{filepath.Join(s.cfg.Root, filepath.FromSlash(s.cfg.Output))} }

func (s *Sass) Produce(ctx context.Context, bc pipeline.BuildContext) error {
	output := filepath.Join(s.cfg.Root, filepath.FromSlash(s.cfg.Output))
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return errs.NewIOError(errs.ErrCodeFilesystem, "create stylesheet directory", err)
	}

	req := CompileRequest{
		Dir:        s.cfg.Root,
		Input:      s.cfg.Entry,
		Output:     s.cfg.Output,
		LoadPaths:  s.cfg.LoadPaths,
		Production: bc.Production(),
	}
	if err := s.compiler.Compile(ctx, req); err != nil {
		return err
	}
	if err := s.postProcess(ctx); err != nil {
		return err
	}
	s.logger.Info(ctx, "stylesheet compiled", "entry", s.cfg.Entry, "output", s.cfg.Output, "mode", bc.Mode())
	return nil
}

func (s *Sass) postProcess(ctx context.Context) error {
	fields := strings.Fields(s.cfg.PostProcess)
	if len(fields) == 0 {
		return nil
	}
	file := path.Base(s.cfg.Output)
	placed := false
	for i, f := range fields {
		if strings.Contains(f, "{file}") {
			fields[i] = strings.ReplaceAll(f, "{file}", file)
			placed = true
		}
	}
	if !placed {
		fields = append(fields, file)
	}

	if err := validation.ValidateCommand(fields[0], validation.ToolCommands); err != nil {
		return errs.Wrap(err, errs.ErrorTypeConfig, errs.ErrCodeInvalidCommand, "stylesheet post-processor")
	}
	for _, arg := range fields[1:] {
		if err := validation.ValidateArgument(arg); err != nil {
			return errs.Wrap(err, errs.ErrorTypeConfig, errs.ErrCodeInvalidCommand, "stylesheet post-processor argument")
		}
	}

	dir := filepath.Dir(filepath.Join(s.cfg.Root, filepath.FromSlash(s.cfg.Output)))
	out, err := s.run(ctx, dir, fields[0], fields[1:]...)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.NewBuildError(errs.ErrCodeTransformFailed, "stylesheet post-processing failed", fmt.Errorf("%w\n%s", err, out))
	}
	return nil
}
