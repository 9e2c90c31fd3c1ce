package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/villasimius/sitebuild/internal/errors"
	"github.com/villasimius/sitebuild/internal/glob/globtest"
	"github.com/villasimius/sitebuild/internal/pipeline"
	"github.com/villasimius/sitebuild/internal/watcher"
)

type fakeRunner struct {
	mu    sync.Mutex
	tasks map[string]bool
	calls []string
	delay time.Duration
}

func newFakeRunner(tasks ...string) *fakeRunner {
	r := &fakeRunner{tasks: map[string]bool{}}
	for _, t := range tasks {
		r.tasks[t] = true
	}
	return r
}

func (r *fakeRunner) Has(name string) bool { return r.tasks[name] }

func (r *fakeRunner) Run(ctx context.Context, bc pipeline.BuildContext, name string) (*pipeline.Report, error) {
	if !r.tasks[name] {
		return nil, pipeline.ErrUnknownTask
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.mu.Unlock()
	return &pipeline.Report{Task: name}, nil
}

func (r *fakeRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeReloader struct {
	mu     sync.Mutex
	count  int
	runner *fakeRunner
	seen   [][]string
}

func (f *fakeReloader) NotifyClientsReload(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	if f.runner != nil {
		f.seen = append(f.seen, f.runner.Calls())
	}
}

func (f *fakeReloader) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func siteRules(t testing.TB) Rules {
	t.Helper()
	return Rules{
		{Name: "stylesheets", Pattern: globtest.New(t, "source/stylesheets/**/*.scss"), Tasks: []string{"sass"}, Reload: true},
		{Name: "javascripts", Pattern: globtest.New(t, "source/javascripts/**/*.{js,es6}"), Tasks: []string{"lint:js", "browserify"}, Reload: true},
		{Name: "images", Pattern: globtest.New(t, "source/images/**/*", "!source/images/sprites/**"), Tasks: []string{"images:refresh"}, Reload: true},
		{Name: "sprites", Pattern: globtest.New(t, "source/images/sprites/*"), Tasks: []string{"sprites"}, Reload: true},
		{Name: "templates", Pattern: globtest.New(t, "source/**/*.{html,slim}"), Reload: true},
	}
}

func allTasks() *fakeRunner {
	return newFakeRunner("build", "sass", "lint:js", "browserify", "images:refresh", "sprites")
}

type reactions struct {
	mu  sync.Mutex
	all []Reaction
}

func (r *reactions) add(x Reaction) {
	r.mu.Lock()
	r.all = append(r.all, x)
	r.mu.Unlock()
}

func (r *reactions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.all)
}

func (r *reactions) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, x := range r.all {
		out = append(out, x.Rule.Name)
	}
	return out
}

func startDispatcher(t *testing.T, runner *fakeRunner, reloader Reloader, rec *reactions) (*Dispatcher, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	d := New(runner, siteRules(t), reloader, WithReactionHook(rec.add))
	require.NoError(t, d.Start(ctx, pipeline.NewBuildContext(false, true), []string{"build"}))
	t.Cleanup(func() {
		cancel()
		_ = d.Wait()
	})
	return d, cancel
}

func changes(paths ...string) []watcher.ChangeEvent {
	out := make([]watcher.ChangeEvent, len(paths))
	for i, p := range paths {
		out[i] = watcher.ChangeEvent{Path: p, Type: watcher.EventTypeModified}
	}
	return out
}

func TestRulesMatch(t *testing.T) {
	rules := siteRules(t)

	tests := []struct {
		path string
		want []string
	}{
		{"source/stylesheets/site.css.scss", []string{"stylesheets"}},
		{"source/stylesheets/partials/_grid.scss", []string{"stylesheets"}},
		{"source/javascripts/app.es6", []string{"javascripts"}},
		{"source/images/logo.png", []string{"images"}},
		{"source/images/sprites/arrow.png", []string{"sprites"}},
		{"source/index.html.slim", []string{"templates"}},
		{"README.md", nil},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var got []string
			for _, r := range rules.Match(tt.path) {
				got = append(got, r.Name)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRulesValidate(t *testing.T) {
	assert.NoError(t, siteRules(t).Validate())

	tests := []struct {
		name  string
		rules Rules
	}{
		{"no name", Rules{{Pattern: globtest.New(t, "*"), Reload: true}}},
		{"duplicate", Rules{
			{Name: "a", Pattern: globtest.New(t, "*"), Reload: true},
			{Name: "a", Pattern: globtest.New(t, "*"), Reload: true},
		}},
		{"no pattern", Rules{{Name: "a", Reload: true}}},
		{"no effect", Rules{{Name: "a", Pattern: globtest.New(t, "*")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.rules.Validate())
		})
	}
}

func TestStylesheetChangeRunsOnlySass(t *testing.T) {
	runner := allTasks()
	reloader := &fakeReloader{runner: runner}
	rec := &reactions{}
	d, _ := startDispatcher(t, runner, reloader, rec)

	d.HandleChanges(changes("source/stylesheets/site.css.scss"))

	require.Eventually(t, func() bool { return reloader.Count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"build", "sass"}, runner.Calls())
	assert.Equal(t, []string{"stylesheets"}, rec.Names())

	// The reload was requested after the rule's task finished.
	reloader.mu.Lock()
	assert.Equal(t, []string{"build", "sass"}, reloader.seen[0])
	reloader.mu.Unlock()
}

func TestImageChangeDoesNotRunSass(t *testing.T) {
	runner := allTasks()
	reloader := &fakeReloader{}
	rec := &reactions{}
	d, _ := startDispatcher(t, runner, reloader, rec)

	d.HandleChanges(changes("source/images/hero.jpg"))
	require.Eventually(t, func() bool { return rec.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"build", "images:refresh"}, runner.Calls())
	assert.NotContains(t, runner.Calls(), "sass")
}

func TestTemplateChangeOnlyReloads(t *testing.T) {
	runner := allTasks()
	reloader := &fakeReloader{}
	rec := &reactions{}
	d, _ := startDispatcher(t, runner, reloader, rec)

	d.HandleChanges(changes("source/about.html.slim"))
	require.Eventually(t, func() bool { return reloader.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"build"}, runner.Calls())
}

func TestUnmatchedChangeIsIgnored(t *testing.T) {
	runner := allTasks()
	reloader := &fakeReloader{}
	rec := &reactions{}
	d, _ := startDispatcher(t, runner, reloader, rec)

	d.HandleChanges(changes("notes.txt", "Gemfile"))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, rec.Len())
	assert.Equal(t, 0, reloader.Count())
	assert.Equal(t, StateWatching, d.State())
}

func TestConcurrentChangesCoalesce(t *testing.T) {
	runner := allTasks()
	runner.delay = 20 * time.Millisecond
	reloader := &fakeReloader{}
	rec := &reactions{}
	d, _ := startDispatcher(t, runner, reloader, rec)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.HandleChanges(changes("source/stylesheets/site.css.scss"))
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return rec.Len() >= 1 && d.State() == StateWatching
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	sass := 0
	for _, c := range runner.Calls() {
		if c == "sass" {
			sass++
		}
	}
	assert.GreaterOrEqual(t, sass, 1)
	assert.LessOrEqual(t, sass, 2, "twenty notifications should collapse into at most two runs")
	assert.Equal(t, sass, reloader.Count())
}

func TestSharedTaskRunsOncePerBatch(t *testing.T) {
	runner := newFakeRunner("sass")
	reloader := &fakeReloader{}
	rec := &reactions{}
	rules := Rules{
		{Name: "a", Pattern: globtest.New(t, "a/*"), Tasks: []string{"sass"}, Reload: true},
		{Name: "b", Pattern: globtest.New(t, "b/*"), Tasks: []string{"sass"}, Reload: true},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := New(runner, rules, reloader, WithReactionHook(rec.add))
	require.NoError(t, d.Start(ctx, pipeline.NewBuildContext(false, true), nil))

	d.mu.Lock()
	d.pending[0] = []string{"a/x"}
	d.pending[1] = []string{"b/y"}
	d.mu.Unlock()
	d.HandleChanges(changes("a/z"))

	require.Eventually(t, func() bool { return rec.Len() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"sass"}, runner.Calls())
	assert.Equal(t, []string{"a", "b"}, rec.Names())
}

func TestStateTransitions(t *testing.T) {
	runner := allTasks()
	d := New(runner, siteRules(t), nil)
	assert.Equal(t, StateIdle, d.State())

	// Changes before Start are dropped.
	d.HandleChanges(changes("source/stylesheets/site.css.scss"))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx, pipeline.NewBuildContext(false, true), []string{"build"}))
	assert.Equal(t, StateWatching, d.State())
	assert.Equal(t, []string{"build"}, runner.Calls())

	cancel()
	assert.ErrorIs(t, d.Wait(), context.Canceled)
	assert.Equal(t, StateIdle, d.State())
}

func TestStartRejectsUnknownRuleTask(t *testing.T) {
	runner := newFakeRunner("build")
	d := New(runner, siteRules(t), nil)

	err := d.Start(context.Background(), pipeline.NewBuildContext(false, true), []string{"build"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrUnknownTask))
	assert.True(t, errs.IsStructureError(err))
	assert.Empty(t, runner.Calls(), "nothing runs when the rule table is broken")
}

func TestStartRejectsUnknownInitialTask(t *testing.T) {
	runner := allTasks()
	d := New(runner, siteRules(t), nil)

	err := d.Start(context.Background(), pipeline.NewBuildContext(false, true), []string{"serve"})
	assert.ErrorIs(t, err, pipeline.ErrUnknownTask)
}

func TestStartTwice(t *testing.T) {
	runner := allTasks()
	rec := &reactions{}
	d, _ := startDispatcher(t, runner, nil, rec)
	assert.Error(t, d.Start(context.Background(), pipeline.NewBuildContext(false, true), nil))
}

func TestWatchRootDeliversFileChanges(t *testing.T) {
	root := t.TempDir()
	styles := filepath.Join(root, "source", "stylesheets")
	require.NoError(t, os.MkdirAll(styles, 0o755))

	runner := allTasks()
	reloader := &fakeReloader{}
	rec := &reactions{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := New(runner, siteRules(t), reloader,
		WithReactionHook(rec.add),
		WithWatchRoot(root, 20*time.Millisecond, "build"))
	require.NoError(t, d.Start(ctx, pipeline.NewBuildContext(false, true), []string{"build"}))

	require.NoError(t, os.WriteFile(filepath.Join(styles, "site.css.scss"), []byte("body{}"), 0o644))

	require.Eventually(t, func() bool { return reloader.Count() >= 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, runner.Calls(), "sass")

	cancel()
	assert.ErrorIs(t, d.Wait(), context.Canceled)
}
