// Package site assembles the asset pipeline of a project from its
// configuration: the producers, the named tasks composed from them, and the
// watch rules that map source changes back to tasks.
package site

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/villasimius/sitebuild/internal/bundler"
	"github.com/villasimius/sitebuild/internal/config"
	"github.com/villasimius/sitebuild/internal/dispatch"
	errs "github.com/villasimius/sitebuild/internal/errors"
	"github.com/villasimius/sitebuild/internal/glob"
	"github.com/villasimius/sitebuild/internal/iconfont"
	"github.com/villasimius/sitebuild/internal/logging"
	"github.com/villasimius/sitebuild/internal/pipeline"
	"github.com/villasimius/sitebuild/internal/producers"
	"github.com/villasimius/sitebuild/internal/sprite"
)

// Task names.
const (
	TaskBuild     = "build"
	TaskWatchInit = "watch:init"
	TaskRefresh   = "images:refresh"
	TaskRelease   = "release"
)

// Options carries the collaborators a Site is built with.
type Options struct {
	Logger   logging.Logger
	Console  *logging.Console
	Notifier pipeline.Notifier
	// Compiler overrides the stylesheet compiler; nil runs the configured
	// binary.
	Compiler producers.Compiler
	// Runner executes external post-processing commands; nil runs them.
	Runner producers.CommandRunner
}

// Site is a configured pipeline.
type Site struct {
	Config  *config.Config
	Graph   *pipeline.Graph
	Rules   dispatch.Rules
	Bundler *bundler.Bundler
	Sprites *sprite.Producer
	Icons   *iconfont.Producer
}

// New builds the producers, tasks and watch rules described by cfg. The
// project root is resolved to an absolute path.
func New(cfg *config.Config, opts Options) (*Site, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	root, err := filepath.Abs(cfg.Paths.Root)
	if err != nil {
		return nil, errs.NewIOError(errs.ErrCodeInvalidPath, "resolve project root", err)
	}
	resolved := *cfg
	resolved.Paths.Root = root
	cfg = &resolved

	s := &Site{Config: cfg}
	prods, err := s.producers(opts)
	if err != nil {
		return nil, err
	}

	gopts := []pipeline.Option{
		pipeline.WithLogger(opts.Logger),
		pipeline.WithConsole(opts.Console),
		pipeline.WithMaxParallel(cfg.Pipeline.MaxParallel),
		pipeline.WithProducerTimeout(cfg.Pipeline.ProducerTimeout),
	}
	if opts.Notifier != nil {
		gopts = append(gopts, pipeline.WithNotifier(opts.Notifier))
	}
	s.Graph, err = pipeline.NewGraph(prods, Tasks(), gopts...)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Rules, err = Rules(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the resident bundler state.
func (s *Site) Close() {
	if s.Bundler != nil {
		s.Bundler.Close()
	}
}

func pattern(field string, globs ...string) (*glob.Pattern, error) {
	p, err := glob.New(globs...)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeConfig, errs.ErrCodeInvalidConfig, field)
	}
	return p, nil
}

func (s *Site) producers(opts Options) ([]pipeline.Producer, error) {
	cfg := s.Config
	log := opts.Logger
	src := cfg.SourcePath("")

	clean, err := producers.NewClean(log, cfg.DistPath(""), cfg.TempPath(""))
	if err != nil {
		return nil, err
	}

	optimizeGlob, err := pattern("images.optimize", cfg.Images.Optimize)
	if err != nil {
		return nil, err
	}
	optimizer := producers.NewOptimizer(src, optimizeGlob, cfg.DistPath(cfg.Images.Output), log)

	imagesGlob, err := pattern("images.source", cfg.Images.Source...)
	if err != nil {
		return nil, err
	}
	images := producers.NewCopy("images", src, imagesGlob, cfg.DistPath(cfg.Images.Output), log,
		producers.WithSkip(optimizer.Optimized))

	fontsGlob, err := pattern("fonts.source", cfg.Fonts.Source...)
	if err != nil {
		return nil, err
	}
	fonts := producers.NewCopy("fonts", src, fontsGlob, cfg.DistPath(cfg.Fonts.Output), log)

	spriteGlob, err := pattern("sprites.source", cfg.Sprites.Source)
	if err != nil {
		return nil, err
	}
	s.Sprites = sprite.New(sprite.Config{
		SourceDir:   src,
		Pattern:     spriteGlob,
		RetinaImage: cfg.Sprites.RetinaImage,
		Image:       cfg.Sprites.Image,
		Partial:     cfg.Sprites.Partial,
		TempDir:     cfg.TempPath("sprites"),
		Template:    cfg.RootPath(cfg.Sprites.Template),
		Padding:     cfg.Sprites.Padding,
	}, log)

	iconGlob, err := pattern("iconfont.source", cfg.IconFont.Source)
	if err != nil {
		return nil, err
	}
	s.Icons = iconfont.New(iconfont.Config{
		SourceDir:      src,
		Pattern:        iconGlob,
		FontName:       cfg.IconFont.FontName,
		OutputDir:      cfg.DistPath(cfg.IconFont.Output),
		Partial:        cfg.SourcePath(cfg.IconFont.Partial),
		Template:       cfg.RootPath(cfg.IconFont.Template),
		StartCodepoint: cfg.IconFont.StartCodepoint,
		Normalize:      cfg.IconFont.Normalize,
		Convert:        cfg.IconFont.Convert,
	}, log)

	compiler := opts.Compiler
	if compiler == nil {
		compiler = producers.NewCLICompiler(cfg.Stylesheets.Compiler, opts.Runner)
	}
	sass := producers.NewSass(SassConfig(cfg), compiler, opts.Runner, log)

	s.Bundler, err = bundler.New(bundler.Config{
		Dir:     src,
		Entry:   cfg.Scripts.Entry,
		Outfile: cfg.DistPath(cfg.Scripts.Output),
		Target:  cfg.Scripts.Target,
	}, log)
	if err != nil {
		return nil, err
	}

	lintGlobs := make([]*glob.Pattern, 0, len(cfg.Scripts.Lint))
	for _, g := range cfg.Scripts.Lint {
		p, err := pattern("scripts.lint", g)
		if err != nil {
			return nil, err
		}
		lintGlobs = append(lintGlobs, p)
	}
	lint := producers.NewLint(src, lintGlobs, s.Bundler, log)

	compress := producers.NewCompress(cfg.DistPath(""), cfg.Compress.Extensions, cfg.Compress.Brotli, cfg.Pipeline.MaxParallel, log)

	return []pipeline.Producer{
		clean, optimizer, s.Sprites, s.Icons, fonts, images, sass, s.Bundler, lint, compress,
	}, nil
}

// SassConfig derives the stylesheet producer paths, all relative to the
// project root, from cfg.
func SassConfig(cfg *config.Config) producers.SassConfig {
	source := filepath.ToSlash(cfg.Paths.Source)
	entry := path.Join(source, cfg.Stylesheets.Entry)
	name := strings.TrimSuffix(path.Base(entry), path.Ext(entry)) + ".css"

	loadPaths := make([]string, len(cfg.Stylesheets.LoadPaths))
	for i, lp := range cfg.Stylesheets.LoadPaths {
		loadPaths[i] = path.Join(source, lp)
	}
	return producers.SassConfig{
		Root:        cfg.Paths.Root,
		Entry:       entry,
		Output:      path.Join(filepath.ToSlash(cfg.Paths.Dist), cfg.Stylesheets.Output, name),
		LoadPaths:   loadPaths,
		PostProcess: cfg.Stylesheets.PostProcess,
	}
}

// Tasks returns the composite tasks. Every producer is also addressable as
// a single-stage task under its own name.
func Tasks() []pipeline.Task {
	return []pipeline.Task{
		{
			Name:        TaskBuild,
			Description: "full production-ready build",
			Stages: []pipeline.Stage{
				pipeline.Step("clean"),
				pipeline.Step("optimize"),
				pipeline.Parallel("sprites", "iconfont"),
				pipeline.Parallel("fonts", "images"),
				pipeline.Step("sass"),
				pipeline.Step("browserify"),
			},
		},
		{
			Name:        TaskWatchInit,
			Description: "initial build before watching",
			Stages: []pipeline.Stage{
				pipeline.Step("clean"),
				pipeline.Parallel("sprites", "iconfont"),
				pipeline.Parallel("fonts", "images"),
				pipeline.Parallel("sass", "browserify"),
			},
		},
		{
			Name:        TaskRefresh,
			Description: "re-optimize and copy images",
			Stages: []pipeline.Stage{
				pipeline.Step("optimize"),
				pipeline.Step("images"),
			},
		},
		{
			Name:        TaskRelease,
			Description: "build and precompress",
			Stages: []pipeline.Stage{
				pipeline.Step(TaskBuild),
				pipeline.Step("compress"),
			},
		},
	}
}

// Rules returns the watch rule table. Asset globs are relative to the
// source directory and come back prefixed with it, so they match paths
// relative to the project root; template globs are project relative.
func Rules(cfg *config.Config) (dispatch.Rules, error) {
	source := filepath.ToSlash(cfg.Paths.Source)

	iconDir := glob.Base(cfg.IconFont.Source)
	spriteDir := glob.Base(cfg.Sprites.Source)

	images := append(append([]string(nil), cfg.Images.Source...), "!"+spriteDir+"/**")
	fonts := append(append([]string(nil), cfg.Fonts.Source...), "!"+iconDir+"/**")

	table := []struct {
		name   string
		globs  []string
		prefix bool
		tasks  []string
	}{
		{"stylesheets", []string{cfg.Stylesheets.Watch}, true, []string{"sass"}},
		{"javascripts", []string{cfg.Scripts.Watch}, true, []string{"lint:js", "browserify"}},
		{"fonts", fonts, true, []string{"fonts"}},
		{"icons", []string{iconDir + "/**/*"}, true, []string{"iconfont"}},
		{"images", images, true, []string{TaskRefresh}},
		{"sprites", []string{spriteDir + "/*"}, true, []string{"sprites"}},
		{"templates", cfg.Watch.Templates, false, nil},
	}

	rules := make(dispatch.Rules, 0, len(table))
	for _, r := range table {
		p, err := pattern("watch rule "+r.name, r.globs...)
		if err != nil {
			return nil, err
		}
		if r.prefix {
			p = p.Prefix(source)
		}
		rules = append(rules, dispatch.Rule{Name: r.name, Pattern: p, Tasks: r.tasks, Reload: true})
	}
	if err := rules.Validate(); err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeStructure, errs.ErrCodeInvalidConfig, "watch rules")
	}
	return rules, nil
}
