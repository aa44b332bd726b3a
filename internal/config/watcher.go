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

// DefaultWatchInterval is how often a [Watcher] looks at its file.
const DefaultWatchInterval = 5 * time.Second

// Watcher reloads a config file when its content changes. Edits that fail to
// parse or validate are logged and otherwise ignored, so a typo never takes
// down a running session.
type Watcher struct {
	path     string
	interval time.Duration

	mu      sync.Mutex
	current *Config
	modTime time.Time
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path. Polling starts with [Watcher.Run].
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval}
	for _, opt := range opts {
		opt(w)
	}
	cfg, sum, mod, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.sum, w.modTime = cfg, sum, mod
	return w, nil
}

// Current returns the last config that loaded cleanly.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done and hands every effective change to apply.
func (w *Watcher) Run(ctx context.Context, apply func(ConfigDiff)) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		diff, changed, err := w.Check()
		switch {
		case err != nil:
			slog.Warn("config: keeping previous configuration", "path", w.path, "err", err)
		case changed:
			slog.Info("config: reloaded", "path", w.path, "restart_required", diff.RestartRequired)
			if apply != nil {
				apply(diff)
			}
		}
	}
}

// Check looks at the file once. It reports changed only when the content
// differs and the new config is valid; a touched but identical file is not a
// change.
func (w *Watcher) Check() (diff ConfigDiff, changed bool, err error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return ConfigDiff{}, false, err
	}
	w.mu.Lock()
	same := info.ModTime().Equal(w.modTime)
	w.mu.Unlock()
	if same {
		return ConfigDiff{}, false, nil
	}

	cfg, sum, mod, err := w.read()
	if err != nil {
		return ConfigDiff{}, false, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.modTime = mod
	if sum == w.sum {
		return ConfigDiff{}, false, nil
	}
	old := w.current
	w.current, w.sum = cfg, sum
	return Diff(old, cfg), true, nil
}

func (w *Watcher) read() (*Config, [sha256.Size]byte, time.Time, error) {
	var sum [sha256.Size]byte
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, sum, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, sum, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, sum, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
