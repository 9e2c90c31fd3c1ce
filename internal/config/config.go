// Package config provides configuration management for sitebuild using Viper
// for loading from .sitebuild.yml, SITEBUILD_ prefixed environment variables
// and command-line flags.
//
// The configuration describes where sources and build artifacts live, how each
// producer is parameterized (style compiler binary, bundle entry, sprite and
// icon-font templates), the live-reload proxy, and watch debouncing. Defaults
// reproduce the layout of a Middleman project with an external asset pipeline:
// sources under source/assets, artifacts under source/dist.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Paths       PathsConfig       `mapstructure:"paths" yaml:"paths"`
	Stylesheets StylesheetsConfig `mapstructure:"stylesheets" yaml:"stylesheets"`
	Scripts     ScriptsConfig     `mapstructure:"scripts" yaml:"scripts"`
	Images      ImagesConfig      `mapstructure:"images" yaml:"images"`
	Fonts       FontsConfig       `mapstructure:"fonts" yaml:"fonts"`
	Sprites     SpritesConfig     `mapstructure:"sprites" yaml:"sprites"`
	IconFont    IconFontConfig    `mapstructure:"iconfont" yaml:"iconfont"`
	Compress    CompressConfig    `mapstructure:"compress" yaml:"compress"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline" yaml:"pipeline"`
	Watch       WatchConfig       `mapstructure:"watch" yaml:"watch"`
	Reload      ReloadConfig      `mapstructure:"reload" yaml:"reload"`
	Notify      NotifyConfig      `mapstructure:"notify" yaml:"notify"`
}

// PathsConfig locates the project. Source, Dist and Temp are relative to Root.
type PathsConfig struct {
	Root   string `mapstructure:"root" yaml:"root"`
	Source string `mapstructure:"source" yaml:"source"`
	Dist   string `mapstructure:"dist" yaml:"dist"`
	Temp   string `mapstructure:"temp" yaml:"temp"`
}

type StylesheetsConfig struct {
	Entry     string   `mapstructure:"entry" yaml:"entry"`
	Output    string   `mapstructure:"output" yaml:"output"`
	Compiler  string   `mapstructure:"compiler" yaml:"compiler"`
	LoadPaths []string `mapstructure:"load_paths" yaml:"load_paths"`
	// PostProcess is an optional command run on the compiled CSS file, for
	// example "postcss --use autoprefixer --replace".
	PostProcess string `mapstructure:"post_process" yaml:"post_process"`
	Watch       string `mapstructure:"watch" yaml:"watch"`
}

type ScriptsConfig struct {
	Entry  string   `mapstructure:"entry" yaml:"entry"`
	Output string   `mapstructure:"output" yaml:"output"`
	Target string   `mapstructure:"target" yaml:"target"`
	Lint   []string `mapstructure:"lint" yaml:"lint"`
	Watch  string   `mapstructure:"watch" yaml:"watch"`
}

type ImagesConfig struct {
	Source   []string `mapstructure:"source" yaml:"source"`
	Optimize string   `mapstructure:"optimize" yaml:"optimize"`
	Output   string   `mapstructure:"output" yaml:"output"`
}

type FontsConfig struct {
	Source []string `mapstructure:"source" yaml:"source"`
	Output string   `mapstructure:"output" yaml:"output"`
}

type SpritesConfig struct {
	Source      string `mapstructure:"source" yaml:"source"`
	RetinaImage string `mapstructure:"retina_image" yaml:"retina_image"`
	Image       string `mapstructure:"image" yaml:"image"`
	Partial     string `mapstructure:"partial" yaml:"partial"`
	Template    string `mapstructure:"template" yaml:"template"`
	Padding     int    `mapstructure:"padding" yaml:"padding"`
}

type IconFontConfig struct {
	Source         string `mapstructure:"source" yaml:"source"`
	FontName       string `mapstructure:"font_name" yaml:"font_name"`
	Output         string `mapstructure:"output" yaml:"output"`
	Partial        string `mapstructure:"partial" yaml:"partial"`
	Template       string `mapstructure:"template" yaml:"template"`
	StartCodepoint int    `mapstructure:"start_codepoint" yaml:"start_codepoint"`
	Normalize      bool   `mapstructure:"normalize" yaml:"normalize"`
	// Convert is an optional command that turns the generated SVG font into
	// other formats. "{font}" is replaced with the SVG font path.
	Convert string `mapstructure:"convert" yaml:"convert"`
}

type CompressConfig struct {
	Extensions []string `mapstructure:"extensions" yaml:"extensions"`
	Brotli     bool     `mapstructure:"brotli" yaml:"brotli"`
}

type PipelineConfig struct {
	MaxParallel     int           `mapstructure:"max_parallel" yaml:"max_parallel"`
	ProducerTimeout time.Duration `mapstructure:"producer_timeout" yaml:"producer_timeout"`
}

type WatchConfig struct {
	Debounce  time.Duration `mapstructure:"debounce" yaml:"debounce"`
	Templates []string      `mapstructure:"templates" yaml:"templates"`
	Ignore    []string      `mapstructure:"ignore" yaml:"ignore"`
}

type ReloadConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Host    string        `mapstructure:"host" yaml:"host"`
	Port    int           `mapstructure:"port" yaml:"port"`
	Proxy   string        `mapstructure:"proxy" yaml:"proxy"`
	Delay   time.Duration `mapstructure:"delay" yaml:"delay"`
}

type NotifyConfig struct {
	Desktop bool `mapstructure:"desktop" yaml:"desktop"`
}

// SetDefaults registers every default with v so that unmarshalling, env
// overrides and IsSet checks see one consistent view.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("paths.root", ".")
	v.SetDefault("paths.source", "source/assets")
	v.SetDefault("paths.dist", "source/dist")
	v.SetDefault("paths.temp", "temp")

	v.SetDefault("stylesheets.entry", "stylesheets/application.sass")
	v.SetDefault("stylesheets.output", "stylesheets")
	v.SetDefault("stylesheets.compiler", "sass")
	v.SetDefault("stylesheets.load_paths", []string{"stylesheets"})
	v.SetDefault("stylesheets.post_process", "")
	v.SetDefault("stylesheets.watch", "stylesheets/**/*.{sass,scss}")

	v.SetDefault("scripts.entry", "javascripts/application.js.es6")
	v.SetDefault("scripts.output", "javascripts/application.js")
	v.SetDefault("scripts.target", "es2015")
	v.SetDefault("scripts.lint", []string{"javascripts/**/*.js", "javascripts/**/*.es6"})
	v.SetDefault("scripts.watch", "javascripts/**/*.{js,es6}")

	v.SetDefault("images.source", []string{"images/**/*"})
	v.SetDefault("images.optimize", "images/**/*.{gif,jpg,jpeg,png,svg}")
	v.SetDefault("images.output", "images")

	v.SetDefault("fonts.source", []string{"fonts/**/*", "!fonts/svg/**"})
	v.SetDefault("fonts.output", "fonts")

	v.SetDefault("sprites.source", "images/sprites/*.png")
	v.SetDefault("sprites.retina_image", "images/sprites-2x.png")
	v.SetDefault("sprites.image", "images/sprites-1x.png")
	v.SetDefault("sprites.partial", "stylesheets/variables/_sprites.scss")
	v.SetDefault("sprites.template", ".sprites-template")
	v.SetDefault("sprites.padding", 2)

	v.SetDefault("iconfont.source", "fonts/svg/*.svg")
	v.SetDefault("iconfont.font_name", "icons")
	v.SetDefault("iconfont.output", "fonts")
	v.SetDefault("iconfont.partial", "stylesheets/variables/_icon-glyphs.scss")
	v.SetDefault("iconfont.template", ".icon-glyphs-template")
	v.SetDefault("iconfont.start_codepoint", 0xEA01)
	v.SetDefault("iconfont.normalize", true)
	v.SetDefault("iconfont.convert", "")

	v.SetDefault("compress.extensions", []string{".css", ".js", ".svg", ".html"})
	v.SetDefault("compress.brotli", true)

	v.SetDefault("pipeline.max_parallel", 0)
	v.SetDefault("pipeline.producer_timeout", time.Duration(0))

	v.SetDefault("watch.debounce", 300*time.Millisecond)
	v.SetDefault("watch.templates", []string{"source/**/*.{html,slim}", "**/*.{html,slim,rb,yml}"})
	v.SetDefault("watch.ignore", []string{".git", "node_modules", "source/dist", "temp", "build"})

	v.SetDefault("reload.enabled", true)
	v.SetDefault("reload.host", "localhost")
	v.SetDefault("reload.port", 3000)
	v.SetDefault("reload.proxy", "localhost:4567")
	v.SetDefault("reload.delay", 3500*time.Millisecond)

	v.SetDefault("notify.desktop", true)
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	// Viper returns comma-joined strings for slices set through env vars.
	config.Images.Source = splitList(config.Images.Source)
	config.Fonts.Source = splitList(config.Fonts.Source)
	config.Scripts.Lint = splitList(config.Scripts.Lint)
	config.Stylesheets.LoadPaths = splitList(config.Stylesheets.LoadPaths)
	config.Watch.Templates = splitList(config.Watch.Templates)
	config.Watch.Ignore = splitList(config.Watch.Ignore)
	config.Compress.Extensions = splitList(config.Compress.Extensions)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func splitList(in []string) []string {
	if len(in) != 1 || !strings.Contains(in[0], ",") || strings.Contains(in[0], "{") {
		return in
	}
	parts := strings.Split(in[0], ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RootPath joins rel onto the project root.
func (c *Config) RootPath(rel string) string {
	return filepath.Join(c.Paths.Root, filepath.FromSlash(rel))
}

// SourcePath joins rel onto the asset source directory.
func (c *Config) SourcePath(rel string) string {
	return filepath.Join(c.Paths.Root, c.Paths.Source, filepath.FromSlash(rel))
}

// DistPath joins rel onto the distribution directory.
func (c *Config) DistPath(rel string) string {
	return filepath.Join(c.Paths.Root, c.Paths.Dist, filepath.FromSlash(rel))
}

// TempPath joins rel onto the scratch directory.
func (c *Config) TempPath(rel string) string {
	return filepath.Join(c.Paths.Root, c.Paths.Temp, filepath.FromSlash(rel))
}

// ReloadAddress is the listen address of the live-reload server.
func (c *Config) ReloadAddress() string {
	return fmt.Sprintf("%s:%d", c.Reload.Host, c.Reload.Port)
}
