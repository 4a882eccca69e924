package lawtable

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gopkg.in/fsnotify.v1"
)

const defaultDebounce = 100 * time.Millisecond

// Registry holds the current law table for one path. Readers take a
// snapshot with Current; reloads build a complete new context and swap it
// in, so a computation never sees a mix of old and new values.
type Registry struct {
	path     string
	current  atomic.Pointer[LawContext]
	logger   *zap.Logger
	debounce time.Duration

	reloadMu sync.Mutex

	mu       sync.Mutex
	onChange []func(*LawContext)
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	done     chan struct{}
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDebounce sets how long Watch waits after the last file event before
// reloading.
func WithDebounce(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.debounce = d
		}
	}
}

// NewRegistry loads the table at path. A table that fails to load is an
// error; an unconfigured table is not.
func NewRegistry(path string, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		path:     path,
		logger:   zap.NewNop(),
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		opt(r)
	}

	ctx, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	r.current.Store(ctx)
	r.logLoaded("law table loaded", ctx)
	return r, nil
}

// Path returns the watched table path.
func (r *Registry) Path() string { return r.path }

// Current returns the current table snapshot.
func (r *Registry) Current() *LawContext {
	return r.current.Load()
}

// OnChange registers fn to run after every successful swap.
func (r *Registry) OnChange(fn func(*LawContext)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, fn)
}

// Reload re-reads the table. On failure the previous snapshot stays
// current. changed is false when the new table equals the current one.
func (r *Registry) Reload() (changed bool, err error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	next, err := LoadFile(r.path)
	if err != nil {
		r.logger.Error("law table reload failed; keeping previous table",
			zap.String("path", r.path),
			zap.Error(err))
		return false, err
	}

	if next.Equal(r.current.Load()) {
		r.logger.Debug("law table unchanged", zap.String("path", r.path))
		return false, nil
	}

	r.current.Store(next)
	r.logLoaded("law table reloaded", next)

	r.mu.Lock()
	callbacks := append([]func(*LawContext){}, r.onChange...)
	r.mu.Unlock()
	for _, fn := range callbacks {
		fn(next)
	}
	return true, nil
}

// Watch reloads the table whenever its file is written or replaced. It
// watches the parent directory so that publishers who rename a new file
// into place are seen. Watching stops when ctx is done or Close is called.
func (r *Registry) Watch(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.watcher != nil {
		return fmt.Errorf("already watching %s", r.path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching directory %s: %w", dir, err)
	}

	r.watcher = watcher
	r.stopChan = make(chan struct{})
	r.done = make(chan struct{})
	go r.watchLoop(ctx, watcher, r.stopChan, r.done)

	r.logger.Info("watching law table", zap.String("path", r.path))
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	target := filepath.Clean(r.path)
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			r.release(watcher)
			return

		case <-stop:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}

			switch {
			case event.Op&fsnotify.Create == fsnotify.Create, event.Op&fsnotify.Write == fsnotify.Write:
				pending = time.After(r.debounce)
			case event.Op&fsnotify.Remove == fsnotify.Remove, event.Op&fsnotify.Rename == fsnotify.Rename:
				r.logger.Warn("law table moved away; keeping current table until it is replaced",
					zap.String("path", r.path),
					zap.String("op", event.Op.String()))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("law table watcher error", zap.String("path", r.path), zap.Error(err))

		case <-pending:
			pending = nil
			_, _ = r.Reload()
		}
	}
}

// Close stops watching. It is safe to call more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	watcher, stop, done := r.watcher, r.stopChan, r.done
	r.watcher, r.stopChan, r.done = nil, nil, nil
	r.mu.Unlock()

	if watcher == nil {
		return
	}
	close(stop)
	<-done
	watcher.Close()
	r.logger.Info("stopped watching law table", zap.String("path", r.path))
}

// release clears the watch state when the loop exits on its own, unless
// Close has already taken it.
func (r *Registry) release(watcher *fsnotify.Watcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher != watcher {
		return
	}
	r.watcher, r.stopChan, r.done = nil, nil, nil
	watcher.Close()
	r.logger.Info("stopped watching law table", zap.String("path", r.path))
}

func (r *Registry) logLoaded(msg string, ctx *LawContext) {
	fields := []zap.Field{
		zap.String("path", r.path),
		zap.String("version", ctx.Version()),
		zap.Bool("configured", ctx.Configured()),
	}
	if !ctx.Configured() {
		fields = append(fields, zap.Strings("gaps", ctx.Gaps()))
	}
	r.logger.Info(msg, fields...)
}
