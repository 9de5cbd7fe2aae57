package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ReloadFunc receives a reloaded config together with what changed. It
// runs on the watcher's goroutine.
type ReloadFunc func(old, new *Config, diff ConfigDiff)

// Watcher polls a config file between batches. An edit that parses,
// validates and differs in effect from the current config is passed to the
// reload callback; invalid edits are logged and the last valid config stays
// current.
type Watcher struct {
	path      string
	interval  time.Duration
	normalize func(*Config)
	onReload  ReloadFunc

	mu       sync.Mutex
	current  *Config
	lastHash [sha256.Size]byte

	stop     context.CancelFunc
	finished chan struct{}
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithNormalize applies fn to every loaded config before it is compared,
// e.g. to re-apply command-line overrides.
func WithNormalize(fn func(*Config)) WatcherOption {
	return func(w *Watcher) { w.normalize = fn }
}

// NewWatcher loads the config at path and polls it until ctx is done or
// [Watcher.Stop] is called.
func NewWatcher(ctx context.Context, path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onReload: onReload,
		finished: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.lastHash = cfg, hash

	ctx, w.stop = context.WithCancel(ctx)
	go w.poll(ctx)
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops polling and waits for an in-flight reload callback to return.
// It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stop()
	<-w.finished
}

func (w *Watcher) poll(ctx context.Context) {
	defer close(w.finished)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	cfg, hash, err := w.load()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.lastHash = cfg, hash
	w.mu.Unlock()

	d := Diff(old, cfg)
	if d.Empty() {
		slog.Debug("config watcher: file changed without effect", "path", w.path)
		return
	}
	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onReload != nil {
		w.onReload(old, cfg, d)
	}
}

func (w *Watcher) load() (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	if w.normalize != nil {
		w.normalize(cfg)
	}
	return cfg, sha256.Sum256(data), nil
}
