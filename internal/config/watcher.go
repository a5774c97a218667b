package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// fileState identifies one version of the watched file.
type fileState struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// Watcher keeps a config file's latest valid content. It polls the file and
// can be asked to reload at once (the CLI does so on SIGHUP). Whenever the
// content changes to another valid config the callback receives the old and
// the new config; invalid edits are logged and the last valid config stays
// current.
type Watcher struct {
	path     string
	interval time.Duration
	environ  func() []string
	onChange func(old, new *Config)

	reload   chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	current *Config
	state   fileState
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithEnviron sets the environment overrides are read from. The default is
// [os.Environ].
func WithEnviron(fn func() []string) WatcherOption {
	return func(w *Watcher) { w.environ = fn }
}

// NewWatcher loads path and starts watching it. The initial load must
// succeed; onChange is not called for it.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		environ:  os.Environ,
		onChange: onChange,
		reload:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.state = cfg, st

	go w.loop()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload asks the watcher to re-read the file now, even if its modification
// time did not move. It does not wait for the reload.
func (w *Watcher) Reload() {
	select {
	case w.reload <- struct{}{}:
	default:
	}
}

// Stop ends watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.refresh(false)
		case <-w.reload:
			w.refresh(true)
		}
	}
}

// refresh re-reads the file when its mtime moved or force is set, and
// publishes the result when the content differs from the current config.
func (w *Watcher) refresh(force bool) {
	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			slog.Warn("config: watcher cannot stat file", "path", w.path, "err", err)
			return
		}
		w.mu.Lock()
		unchanged := info.ModTime().Equal(w.state.mtime)
		w.mu.Unlock()
		if unchanged {
			return
		}
	}

	cfg, st, err := w.read()
	if err != nil {
		slog.Warn("config: watcher kept previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	same := st.sum == w.state.sum
	old := w.current
	w.state = st
	if !same {
		w.current = cfg
	}
	w.mu.Unlock()

	if same {
		return
	}
	slog.Info("config: reloaded", "path", w.path, "forced", force)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// read parses, overrides and validates the file and reports the state it
// was read in.
func (w *Watcher) read() (*Config, fileState, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	if cfg, err = finish(cfg, w.environ()); err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
