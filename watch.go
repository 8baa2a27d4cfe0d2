// FILE: lixenwraith/cornflakes/watch.go
package cornflakes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const DefaultMaxWatchers = 100 // Prevent resource exhaustion

// Watch events carried by Update.Event besides a normal reload.
const (
	EventReload             = "reload"
	EventFileDeleted        = "file_deleted"
	EventPermissionsChanged = "permissions_changed"
	EventReloadError        = "reload_error"
	EventReloadTimeout      = "reload_timeout"
)

// ErrWatcherStopped is returned by operations on a stopped watcher.
var ErrWatcherStopped = errors.New("config watcher stopped")

// WatchOptions configures file watching behavior
type WatchOptions struct {
	// PollInterval for file stat checks (minimum 100ms)
	PollInterval time.Duration

	// Debounce duration to avoid rapid reloads
	Debounce time.Duration

	// ReloadRate caps reloads per second; bursts beyond it are delayed, not dropped
	ReloadRate rate.Limit

	// MaxWatchers limits concurrent subscriber channels
	MaxWatchers int

	// ReloadTimeout for a single resolution
	ReloadTimeout time.Duration

	// VerifyPermissions checks file hasn't been replaced with different permissions
	VerifyPermissions bool
}

// DefaultWatchOptions returns sensible defaults for file watching
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		PollInterval:      DefaultPollInterval,
		Debounce:          DefaultDebounce,
		ReloadRate:        rate.Every(DefaultReloadInterval),
		MaxWatchers:       DefaultMaxWatchers,
		ReloadTimeout:     DefaultReloadTimeout,
		VerifyPermissions: true,
	}
}

// Update is delivered to subscribers after each reload attempt.
type Update struct {
	Event string
	// Path is the file that triggered the event, if any
	Path string
	// Result holds the newly resolved records on EventReload
	Result Result
	// Changed lists the keys whose values differ, as "section.key" for multi schemas
	Changed []string
	Err     error
}

type fileState struct {
	modTime time.Time
	size    int64
	mode    os.FileMode
	exists  bool
}

// Watcher polls the files of a request and re-resolves the schema when they
// change, fanning the new result out to subscribers.
type Watcher struct {
	resolver *Resolver
	schema   *Schema
	req      Request
	files    []string
	opts     WatchOptions
	limiter  *rate.Limiter
	logger   *zap.Logger

	mu               sync.RWMutex
	ctx              context.Context
	cancel           context.CancelFunc
	states           map[string]fileState
	current          Result
	watchers         map[int64]chan Update // subscriber channels
	watcherID        atomic.Int64
	watching         atomic.Bool
	reloadInProgress atomic.Bool
	debounceTimer    *time.Timer
	done             chan struct{}
}

// NewWatcher resolves schema once and prepares a watcher over the effective
// files of req. A nil resolver uses the default one.
func NewWatcher(resolver *Resolver, schema *Schema, req Request, opts WatchOptions) (*Watcher, error) {
	if resolver == nil {
		resolver = defaultResolver
	}

	// Validate options
	if opts.PollInterval < MinPollInterval {
		opts.PollInterval = MinPollInterval
	}
	if opts.MaxWatchers <= 0 {
		opts.MaxWatchers = DefaultMaxWatchers
	}
	if opts.ReloadTimeout <= 0 {
		opts.ReloadTimeout = DefaultReloadTimeout
	}
	if opts.ReloadRate <= 0 {
		opts.ReloadRate = rate.Every(DefaultReloadInterval)
	}

	files := locatorList(req.sources(schema))
	if len(files) == 0 {
		return nil, fmt.Errorf("no config files to watch for schema %s", schema.Name)
	}

	res, err := resolver.Resolve(schema, req)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		resolver: resolver,
		schema:   schema,
		req:      req.clone(),
		files:    files,
		opts:     opts,
		limiter:  rate.NewLimiter(opts.ReloadRate, 1),
		logger:   resolver.logger,
		states:   make(map[string]fileState, len(files)),
		current:  res,
		watchers: make(map[int64]chan Update),
	}
	for _, path := range w.files {
		w.states[path] = statFile(path)
	}
	return w, nil
}

// Watch creates a watcher and starts it under ctx.
func Watch(ctx context.Context, resolver *Resolver, schema *Schema, req Request, opts WatchOptions) (*Watcher, error) {
	w, err := NewWatcher(resolver, schema, req, opts)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// Start launches the polling loop. It stops when ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ctx != nil {
		if w.ctx.Err() != nil {
			return ErrWatcherStopped
		}
		return nil // Already watching
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.watching.Store(true)
	go w.watchLoop(w.ctx, w.done)
	return nil
}

// Current returns the last successfully resolved result.
func (w *Watcher) Current() Result {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// IsWatching returns true while the polling loop runs
func (w *Watcher) IsWatching() bool {
	return w.watching.Load()
}

// WatcherCount returns the number of active subscriber channels
func (w *Watcher) WatcherCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.watchers)
}

// Subscribe returns a channel receiving every update until the watcher stops.
// Slow subscribers miss updates rather than block the watcher.
func (w *Watcher) Subscribe() <-chan Update {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Check watcher limit, and refuse after stop
	if len(w.watchers) >= w.opts.MaxWatchers || (w.ctx != nil && w.ctx.Err() != nil) {
		ch := make(chan Update)
		close(ch)
		return ch
	}

	// Create buffered channel to prevent blocking
	ch := make(chan Update, 10)
	id := w.watcherID.Add(1)
	w.watchers[id] = ch
	return ch
}

// Reload re-resolves immediately, bypassing polling, debounce and throttling.
func (w *Watcher) Reload() error {
	upd := w.reload("")
	return upd.Err
}

// Stop terminates the watcher and closes every subscriber channel
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	// Wait for watch loop to exit with timeout
	select {
	case <-done:
	case <-time.After(ShutdownTimeout):
	}
}

// watchLoop is the main file watching loop
func (w *Watcher) watchLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer w.closeWatchers()
	defer w.watching.Store(false)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkFiles()
		}
	}
}

func statFile(path string) fileState {
	info, err := os.Stat(path)
	if err != nil {
		return fileState{}
	}
	return fileState{modTime: info.ModTime(), size: info.Size(), mode: info.Mode(), exists: true}
}

// checkFiles compares every file with its last state and schedules a reload
func (w *Watcher) checkFiles() {
	var changedPath string

	for _, path := range w.files {
		w.mu.RLock()
		last := w.states[path]
		w.mu.RUnlock()

		state := statFile(path)
		switch {
		case !state.exists && last.exists:
			w.mu.Lock()
			w.states[path] = state
			w.mu.Unlock()
			w.notifyWatchers(Update{Event: EventFileDeleted, Path: path})
			changedPath = path
			continue
		case !state.exists:
			continue
		}

		// SECURITY: Verify permissions haven't changed suspiciously
		if w.opts.VerifyPermissions && last.exists && state.mode != last.mode &&
			(state.mode&0077) != (last.mode&0077) {
			w.mu.Lock()
			w.states[path] = state
			w.mu.Unlock()
			w.notifyWatchers(Update{Event: EventPermissionsChanged, Path: path})
			// Don't reload on permission change for security
			continue
		}

		if !last.exists || !state.modTime.Equal(last.modTime) || state.size != last.size {
			w.mu.Lock()
			w.states[path] = state
			w.mu.Unlock()
			changedPath = path
		}
	}

	if changedPath == "" {
		return
	}

	// Debounce rapid changes
	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.opts.Debounce, func() {
		w.throttledReload(changedPath)
	})
	w.mu.Unlock()
}

// throttledReload delays the reload until the rate limiter grants it
func (w *Watcher) throttledReload(path string) {
	if delay := w.limiter.Reserve().Delay(); delay > 0 {
		w.mu.Lock()
		w.debounceTimer = time.AfterFunc(delay, func() {
			w.performReload(path)
		})
		w.mu.Unlock()
		return
	}
	w.performReload(path)
}

// performReload resolves the schema again with a timeout
func (w *Watcher) performReload(path string) {
	// Prevent concurrent reloads
	if !w.reloadInProgress.CompareAndSwap(false, true) {
		return
	}
	defer w.reloadInProgress.Store(false)

	w.mu.RLock()
	parent := w.ctx
	w.mu.RUnlock()
	if parent == nil || parent.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(parent, w.opts.ReloadTimeout)
	defer cancel()

	done := make(chan Update, 1)
	go func() {
		done <- w.reload(path)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if parent.Err() == nil {
			w.notifyWatchers(Update{Event: EventReloadTimeout, Path: path, Err: ctx.Err()})
		}
	}
}

// reload resolves, swaps the current result on success and notifies subscribers
func (w *Watcher) reload(path string) Update {
	res, err := w.resolver.Resolve(w.schema, w.req)
	if err != nil {
		w.logger.Debug("config reload failed",
			zap.String("schema", w.schema.Name),
			zap.Error(err),
		)
		upd := Update{Event: EventReloadError, Path: path, Err: err}
		w.notifyWatchers(upd)
		return upd
	}

	w.mu.Lock()
	old := w.current
	w.current = res
	w.mu.Unlock()

	upd := Update{Event: EventReload, Path: path, Result: res, Changed: changedKeys(w.schema, old, res)}
	w.logger.Debug("config reloaded",
		zap.String("schema", w.schema.Name),
		zap.Strings("changed", upd.Changed),
	)
	w.notifyWatchers(upd)
	return upd
}

// notifyWatchers sends an update to all subscribers
func (w *Watcher) notifyWatchers(upd Update) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, ch := range w.watchers {
		select {
		case ch <- upd:
		default:
			// Channel full, skip
		}
	}
}

func (w *Watcher) closeWatchers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, ch := range w.watchers {
		close(ch)
		delete(w.watchers, id)
	}
}

// changedKeys lists keys whose values differ between two results. Records are
// matched by position; keys of multi schemas are prefixed with the section.
func changedKeys(schema *Schema, old, cur Result) []string {
	flat := func(res Result) map[string]any {
		out := make(map[string]any)
		for i, rec := range res.Records {
			prefix := ""
			if schema.Multi {
				prefix = rec.Section
				if prefix == "" {
					prefix = fmt.Sprintf("%d", i)
				}
				prefix += "."
			}
			for k, v := range rec.Values {
				out[prefix+k] = v
			}
		}
		return out
	}

	before, after := flat(old), flat(cur)
	var changed []string
	for k, v := range after {
		if prev, existed := before[k]; !existed || !reflect.DeepEqual(prev, v) {
			changed = append(changed, k)
		}
	}
	for k := range before {
		if _, exists := after[k]; !exists {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}
