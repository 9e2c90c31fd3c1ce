package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/villasimius/sitebuild/internal/errors"
	"github.com/villasimius/sitebuild/internal/pipeline"
)

// execute runs the root command against a scratch project and returns its
// standard output.
func execute(t *testing.T, root string, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	viper.Set("paths.root", root)
	viper.Set("notify.desktop", false)
	t.Cleanup(func() {
		viper.Reset()
		buildStrict = false
		tasksOutput = "table"
		versionOutput = "table"
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append(args, "--config", filepath.Join(root, "missing.yml")))
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, file, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0o755))
	require.NoError(t, os.WriteFile(file, []byte(body), 0o644))
}

func TestOutputFormatFlag(t *testing.T) {
	var f outputFormat
	assert.NoError(t, f.Set("JSON"))
	assert.Equal(t, "json", f.String())
	assert.Error(t, f.Set("csv"))
	assert.Equal(t, "format", f.Type())
}

func TestTasksJSON(t *testing.T) {
	out, err := execute(t, t.TempDir(), "tasks", "-o", "json")
	require.NoError(t, err)

	var plans []pipeline.Plan
	require.NoError(t, json.Unmarshal([]byte(out), &plans))
	names := make([]string, len(plans))
	for i, p := range plans {
		names[i] = p.Task
	}
	assert.Equal(t, []string{"build", "watch:init", "images:refresh", "release"}, names[:4])
	assert.Contains(t, names, "lint:js")
	assert.Contains(t, names, "browserify")
}

func TestTasksTable(t *testing.T) {
	out, err := execute(t, t.TempDir(), "tasks")
	require.NoError(t, err)
	assert.Contains(t, out, "TASK")
	assert.Contains(t, out, "clean -> optimize -> [sprites, iconfont] -> [fonts, images] -> sass -> browserify")
}

func TestRunUnknownTask(t *testing.T) {
	_, err := execute(t, t.TempDir(), "run", "deploy")
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrUnknownTask))
}

func TestRunCopiesFonts(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "source", "assets", "fonts", "brand.woff"), "woff")

	_, err := execute(t, root, "run", "fonts")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "source", "dist", "fonts", "brand.woff"))
}

func TestStrictBuildFailsOnProducerError(t *testing.T) {
	// No script entry exists, so the bundle step fails.
	root := t.TempDir()

	_, err := execute(t, root, "run", "browserify")
	assert.NoError(t, err)

	_, err = execute(t, root, "run", "browserify", "--strict")
	require.Error(t, err)
	assert.True(t, errs.IsBuildError(err))
}

func TestVersion(t *testing.T) {
	out, err := execute(t, t.TempDir(), "version", "-o", "json")
	require.NoError(t, err)

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")
}
