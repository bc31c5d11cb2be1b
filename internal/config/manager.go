package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Manager holds the live configuration and hot-reloads it when the file
// changes. Only the sweep and import tunables are applied at runtime; changes
// to listen address, storage or master key need a restart.
type Manager struct {
	mu       sync.RWMutex
	cfg      *Config
	path     string
	onChange []func(*Config)
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
}

// NewManager loads the initial configuration and starts watching the file if
// one was given.
func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{cfg: cfg, path: path, stopCh: make(chan struct{})}
	if path != "" {
		m.startWatcher()
	}
	return m, nil
}

// Current returns the live configuration snapshot.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// OnChange registers a callback invoked with each successfully reloaded
// configuration.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Stop shuts the watcher down.
func (m *Manager) Stop() {
	close(m.stopCh)
	if m.watcher != nil {
		m.watcher.Close()
	}
}

func (m *Manager) startWatcher() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("failed to create config watcher, hot reload disabled")
		return
	}
	m.watcher = watcher

	if err := watcher.Add(m.path); err != nil {
		log.WithError(err).WithField("path", m.path).Warn("failed to watch config file, hot reload disabled")
		watcher.Close()
		m.watcher = nil
		return
	}
	// Watch the directory too so atomic rename-over writes are caught.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		log.WithError(err).Warn("failed to watch config directory")
	}

	log.WithField("path", m.path).Info("config watcher started")

	go func() {
		var debounce *time.Timer
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != m.path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(100*time.Millisecond, m.reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config watcher error")
			case <-m.stopCh:
				return
			}
		}
	}()
}

func (m *Manager) reload() {
	cfg, err := Load(m.path)
	if err != nil {
		log.WithError(err).Warn("config reload failed, keeping previous configuration")
		return
	}

	m.mu.Lock()
	m.cfg = cfg
	callbacks := make([]func(*Config), len(m.onChange))
	copy(callbacks, m.onChange)
	m.mu.Unlock()

	log.Info("configuration reloaded")
	for _, fn := range callbacks {
		fn(cfg)
	}
}
