package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "source/assets", cfg.Paths.Source)
	assert.Equal(t, "source/dist", cfg.Paths.Dist)
	assert.Equal(t, "temp", cfg.Paths.Temp)
	assert.Equal(t, "sass", cfg.Stylesheets.Compiler)
	assert.Equal(t, 0xEA01, cfg.IconFont.StartCodepoint)
	assert.Equal(t, 300*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, 3500*time.Millisecond, cfg.Reload.Delay)
	assert.Equal(t, "localhost:4567", cfg.Reload.Proxy)
	assert.Equal(t, []string{"fonts/**/*", "!fonts/svg/**"}, cfg.Fonts.Source)
	assert.Equal(t, "localhost:3000", cfg.ReloadAddress())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".sitebuild.yml")
	content := `
paths:
  root: ` + dir + `
  dist: public
stylesheets:
  compiler: dart-sass
pipeline:
  max_parallel: 2
  producer_timeout: 30s
reload:
  port: 8080
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0644))

	v := viper.New()
	v.SetConfigFile(file)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, "public", cfg.Paths.Dist)
	assert.Equal(t, "dart-sass", cfg.Stylesheets.Compiler)
	assert.Equal(t, 2, cfg.Pipeline.MaxParallel)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.ProducerTimeout)
	assert.Equal(t, 8080, cfg.Reload.Port)
	assert.Equal(t, filepath.Join(dir, "public", "stylesheets"), cfg.DistPath("stylesheets"))
	assert.Equal(t, filepath.Join(dir, "source/assets", "images"), cfg.SourcePath("images"))
	assert.Equal(t, filepath.Join(dir, "temp", "sprites"), cfg.TempPath("sprites"))
}

func TestLoadSplitsEnvLists(t *testing.T) {
	v := viper.New()
	v.Set("watch.ignore", []string{".git,node_modules"})
	v.Set("stylesheets.watch", "stylesheets/**/*.{sass,scss}")

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, []string{".git", "node_modules"}, cfg.Watch.Ignore)
}

func TestSplitListKeepsBraceGlobs(t *testing.T) {
	in := []string{"**/*.{html,slim}"}
	assert.Equal(t, in, splitList(in))
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value interface{}
		field string
	}{
		{"dist equals source", "paths.dist", "source/assets", "paths.dist"},
		{"dist contains source", "paths.dist", "source", "paths.dist"},
		{"dist is root", "paths.dist", ".", "paths.dist"},
		{"dist escapes root", "paths.dist", "../elsewhere", "paths.dist"},
		{"absolute temp", "paths.temp", "/tmp/x", "paths.temp"},
		{"compiler injection", "stylesheets.compiler", "sass; rm -rf /", "stylesheets.compiler"},
		{"codepoint outside PUA", "iconfont.start_codepoint", 0x41, "iconfont.start_codepoint"},
		{"negative padding", "sprites.padding", -1, "sprites.padding"},
		{"negative parallel", "pipeline.max_parallel", -2, "pipeline.max_parallel"},
		{"negative debounce", "watch.debounce", -time.Second, "watch.debounce"},
		{"port range", "reload.port", 70000, "reload.port"},
		{"bad proxy", "reload.proxy", "ftp://host", "reload.proxy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tt.key, tt.value)

			_, err := LoadFrom(v)
			require.Error(t, err)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}
