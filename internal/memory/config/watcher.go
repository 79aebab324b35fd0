package config

import (
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/kart-io/logger"
)

func envReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}

// ChangeHandler is invoked with the freshly reloaded Config whenever the
// watched file changes, modeled on sentinel-x/pkg/infra/config.Watcher's
// ChangeHandler.
type ChangeHandler func(Config)

// Watcher reloads Config on file-mtime change and fans the new value out
// to every subscribed handler. Handles already bound by earlier reads
// (open ports, open log files) are not re-opened on change — per spec.md
// §4.10, only the Config value itself is refreshed.
type Watcher struct {
	path string

	mu       sync.RWMutex
	handlers map[string]ChangeHandler
	watching bool
}

// NewWatcher returns a Watcher bound to path. Call Start to begin watching.
func NewWatcher(path string) *Watcher {
	return &Watcher{path: path, handlers: make(map[string]ChangeHandler)}
}

// Subscribe registers handler under name, replacing any existing
// registration with the same name.
func (w *Watcher) Subscribe(name string, handler ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[name] = handler
}

// Unsubscribe removes a registered handler.
func (w *Watcher) Unsubscribe(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.handlers, name)
}

// HandlerCount reports how many handlers are currently subscribed.
func (w *Watcher) HandlerCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.handlers)
}

// IsWatching reports whether Start has been called successfully.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// Start begins watching the config file for changes, reloading and
// notifying every subscriber on each fsnotify event.
func (w *Watcher) Start() error {
	v := newViper()
	v.SetConfigFile(w.path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Load(w.path)
		if err != nil {
			logger.Warnf("config: reload after change to %s failed: %v", w.path, err)
			return
		}
		w.mu.RLock()
		defer w.mu.RUnlock()
		for name, h := range w.handlers {
			logger.Infof("config: notifying subscriber %s of change to %s", name, w.path)
			h(cfg)
		}
	})
	v.WatchConfig()

	w.mu.Lock()
	w.watching = true
	w.mu.Unlock()
	return nil
}

// Stop marks the watcher as no longer active. viper does not expose an
// unwatch call; Stop is a bookkeeping no-op kept for interface symmetry
// with sentinel-x's Watcher.Stop.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watching = false
}

// ReloadableSubscriber adapts a single target field to the Subscribe
// contract, modeled on sentinel-x's ReloadableSubscriber.
type ReloadableSubscriber struct {
	Name   string
	Target func(Config)
}

// Handler returns the ChangeHandler Subscribe expects.
func (r ReloadableSubscriber) Handler() ChangeHandler {
	return func(c Config) { r.Target(c) }
}
