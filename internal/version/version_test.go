package version

import (
	"runtime/debug"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func stubBuildInfo(t *testing.T, info *debug.BuildInfo) {
	t.Helper()
	orig := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return info, info != nil }
	t.Cleanup(func() { readBuildInfo = orig })
}

func stubVars(t *testing.T, v, commit, built string) {
	t.Helper()
	ov, oc, ob := Version, GitCommit, BuildTime
	Version, GitCommit, BuildTime = v, commit, built
	t.Cleanup(func() { Version, GitCommit, BuildTime = ov, oc, ob })
}

func TestStampedRelease(t *testing.T) {
	stubVars(t, "v1.4.0", "0123456789abcdef", "2026-03-01T10:00:00Z")
	stubBuildInfo(t, nil)

	info := Get()
	assert.True(t, info.IsRelease())
	assert.Equal(t, "v1.4.0 (0123456)", info.Short())
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), info.BuildTime)
	assert.Contains(t, info.Detailed(), "Commit: 0123456789abcdef")
	assert.NotContains(t, info.Detailed(), "dirty")
}

func TestDevelopmentFallsBackToVCS(t *testing.T) {
	stubVars(t, "dev", "unknown", "unknown")
	stubBuildInfo(t, &debug.BuildInfo{
		Main: debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "fedcba9876543210"},
			{Key: "vcs.time", Value: "2026-02-02T08:30:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})

	info := Get()
	assert.False(t, info.IsRelease())
	assert.Equal(t, "dev-fedcba9", info.Version)
	assert.Equal(t, "dev-fedcba9", info.Short())
	assert.True(t, info.Dirty)
	assert.Equal(t, 2026, info.BuildTime.Year())
	assert.Contains(t, info.Detailed(), "Working directory: dirty")
}

func TestModuleVersion(t *testing.T) {
	stubVars(t, "dev", "unknown", "unknown")
	stubBuildInfo(t, &debug.BuildInfo{Main: debug.Module{Version: "v0.3.1"}})
	assert.Equal(t, "v0.3.1", Get().Version)
}

func TestParseTime(t *testing.T) {
	assert.True(t, parseTime("").IsZero())
	assert.True(t, parseTime("yesterday").IsZero())
	assert.False(t, parseTime("2026-01-01 12:00:00").IsZero())
}
