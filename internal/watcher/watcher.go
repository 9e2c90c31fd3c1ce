// Package watcher watches a project tree with fsnotify and delivers
// debounced batches of changes, keyed by path relative to the watched root.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/villasimius/sitebuild/internal/logging"
)

// DefaultDebounce is the window in which repeated events for a path coalesce.
const DefaultDebounce = 300 * time.Millisecond

// FileWatcher reports debounced batches of changes under root. Editors'
// chmod-only events and directory events are not reported.
type FileWatcher struct {
	root      string
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	filters   []FileFilter
	handlers  []ChangeHandler
	ignore    map[string]bool
	logger    logging.Logger
	mutex     sync.RWMutex
	stopOnce  sync.Once
}

// ChangeEvent represents a file change event. Path is slash-separated and
// relative to the watched root.
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileFilter reports whether a root-relative path should be delivered.
type FileFilter func(path string) bool

// ChangeHandler receives each debounced batch.
type ChangeHandler func(events []ChangeEvent) error

// Option configures a FileWatcher.
type Option func(*FileWatcher)

// WithIgnore skips directories whose root-relative path or base name is in
// dirs. Ignored directories are neither watched nor reported.
func WithIgnore(dirs ...string) Option {
	return func(fw *FileWatcher) {
		for _, d := range dirs {
			d = strings.Trim(filepath.ToSlash(d), "/")
			if d != "" {
				fw.ignore[d] = true
			}
		}
	}
}

// WithLogger sets the logger for watch errors.
func WithLogger(l logging.Logger) Option {
	return func(fw *FileWatcher) { fw.logger = l }
}

// NewFileWatcher creates a watcher for the tree under root.
func NewFileWatcher(root string, debounceDelay time.Duration, opts ...Option) (*FileWatcher, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", root)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	if debounceDelay <= 0 {
		debounceDelay = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &FileWatcher{
		root:      absRoot,
		watcher:   watcher,
		debouncer: NewDebouncer(debounceDelay),
		ignore:    make(map[string]bool),
		logger:    logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(fw)
	}
	fw.logger = fw.logger.WithComponent("watcher")

	return fw, nil
}

// Root returns the absolute watched root.
func (fw *FileWatcher) Root() string { return fw.root }

// AddFilter adds a file filter
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// AddRecursive watches dir and all of its subdirectories that are not ignored.
func (fw *FileWatcher) AddRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != fw.root && fw.ignored(path) {
			return filepath.SkipDir
		}
		return fw.watcher.Add(path)
	})
}

// relative converts an absolute event path into a root-relative slash path.
func (fw *FileWatcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(fw.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (fw *FileWatcher) ignored(path string) bool {
	rel, ok := fw.relative(path)
	if !ok {
		return true
	}
	if fw.ignore[rel] {
		return true
	}
	for _, part := range strings.Split(rel, "/") {
		if fw.ignore[part] {
			return true
		}
	}
	for dir := range fw.ignore {
		if strings.HasPrefix(rel, dir+"/") {
			return true
		}
	}
	return false
}

// Start watches the root and begins delivering batches. It returns once the
// initial directory walk completes.
func (fw *FileWatcher) Start(ctx context.Context) error {
	if err := fw.AddRecursive(fw.root); err != nil {
		return fmt.Errorf("watching %s: %w", fw.root, err)
	}

	go fw.debouncer.start(ctx)
	go fw.processEvents(ctx)
	go fw.watchLoop(ctx)

	return nil
}

// Stop closes the fsnotify watcher. It is safe to call more than once.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		fw.debouncer.stop()
		err = fw.watcher.Close()
	})
	return err
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(ctx, event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "file watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	if fw.ignored(event.Name) {
		return
	}
	rel, ok := fw.relative(event.Name)
	if !ok {
		return
	}

	info, statErr := os.Stat(event.Name)
	if statErr == nil && info.IsDir() {
		// New directories are watched so files created inside them later
		// are seen too.
		if event.Op&fsnotify.Create == fsnotify.Create {
			if err := fw.AddRecursive(event.Name); err != nil {
				fw.logger.Warn(ctx, err, "watching new directory", "path", rel)
			}
		}
		return
	}

	fw.mutex.RLock()
	filters := fw.filters
	fw.mutex.RUnlock()

	for _, filter := range filters {
		if !filter(rel) {
			return
		}
	}

	change := ChangeEvent{Type: classify(event.Op), Path: rel}
	if statErr == nil {
		change.ModTime = info.ModTime()
		change.Size = info.Size()
	}
	fw.debouncer.Add(change)
}

// classify maps an fsnotify op onto an EventType. Create wins over Write
// when an editor's atomic save reports both.
func classify(op fsnotify.Op) EventType {
	switch {
	case op.Has(fsnotify.Create):
		return EventTypeCreated
	case op.Has(fsnotify.Remove):
		return EventTypeDeleted
	case op.Has(fsnotify.Rename):
		return EventTypeRenamed
	}
	return EventTypeModified
}

func (fw *FileWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events := <-fw.debouncer.Output():
			fw.mutex.RLock()
			handlers := fw.handlers
			fw.mutex.RUnlock()

			for _, handler := range handlers {
				if err := handler(events); err != nil {
					fw.logger.Error(ctx, err, "file watcher handler error", "events", len(events))
				}
			}
		}
	}
}

// Debouncer groups rapid file changes together. Events for the same path
// within the window collapse into the latest one.
type Debouncer struct {
	delay   time.Duration
	events  chan ChangeEvent
	output  chan []ChangeEvent
	done    chan struct{}
	timer   *time.Timer
	pending map[string]ChangeEvent
	mutex   sync.Mutex
	once    sync.Once
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:   delay,
		events:  make(chan ChangeEvent, 256),
		output:  make(chan []ChangeEvent, 1),
		done:    make(chan struct{}),
		pending: make(map[string]ChangeEvent),
	}
}

// Add queues an event. It never blocks the caller for long: when the queue
// is full the event is merged directly into the pending set.
func (d *Debouncer) Add(event ChangeEvent) {
	select {
	case d.events <- event:
	default:
		d.addEvent(event)
	}
}

// Output delivers debounced batches sorted by path.
func (d *Debouncer) Output() <-chan []ChangeEvent { return d.output }

func (d *Debouncer) start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.stop()
			return
		case <-d.done:
			return
		case event := <-d.events:
			d.addEvent(event)
		}
	}
}

func (d *Debouncer) stop() {
	d.once.Do(func() {
		close(d.done)
		d.mutex.Lock()
		if d.timer != nil {
			d.timer.Stop()
		}
		d.mutex.Unlock()
	})
}

func (d *Debouncer) addEvent(event ChangeEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.pending[event.Path] = event

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

func (d *Debouncer) flush() {
	d.mutex.Lock()
	if len(d.pending) == 0 {
		d.mutex.Unlock()
		return
	}
	events := make([]ChangeEvent, 0, len(d.pending))
	for _, event := range d.pending {
		events = append(events, event)
	}
	d.pending = make(map[string]ChangeEvent)
	d.mutex.Unlock()

	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })

	// A batch is never dropped; the send waits for the consumer.
	select {
	case d.output <- events:
	case <-d.done:
	}
}

// NoEditorTempFilter rejects the swap and backup files editors write
// next to the file being saved.
func NoEditorTempFilter(path string) bool {
	base := filepath.Base(path)
	switch {
	case strings.HasPrefix(base, ".#"), strings.HasSuffix(base, "~"):
		return false
	case strings.HasSuffix(base, ".swp"), strings.HasSuffix(base, ".swx"), base == "4913":
		return false
	}
	return true
}
