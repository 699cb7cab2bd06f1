package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Store holds the current configuration snapshot and reloads it when the
// backing file changes. Readers get an immutable *Config; a reload swaps the
// whole snapshot atomically, so the reactor never sees a half-updated config.
type Store struct {
	path    string
	current atomic.Pointer[Config]
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool

	// OnReload, if set, is called after a successful reload.
	OnReload func(*Config)
}

// NewStore loads path and returns a store primed with the result.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		path:   path,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	s.current.Store(cfg)
	return s, nil
}

// Current returns the active configuration snapshot.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Watch begins watching the config file for changes. A change event reloads
// the file; a reload that fails validation keeps the previous snapshot.
// Watch is a no-op when the store was created without a file path.
func (s *Store) Watch() error {
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("config store already watching")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace files on save,
	// which would drop a watch on the file itself.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %q: %w", s.path, err)
	}

	s.watcher = watcher
	s.started = true
	go s.run()
	return nil
}

func (s *Store) run() {
	defer close(s.doneCh)

	// Debounce: editors emit bursts of write events per save.
	var timer *time.Timer
	var timerCh <-chan time.Time

	base := filepath.Base(s.path)
	for {
		select {
		case <-s.stopCh:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(100 * time.Millisecond)
				timerCh = timer.C
			} else {
				timer.Reset(100 * time.Millisecond)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("config watcher error", "error", err)
		case <-timerCh:
			s.reload()
		}
	}
}

func (s *Store) reload() {
	cfg, err := Load(s.path)
	if err != nil {
		s.logger.Error("config reload failed, keeping previous snapshot",
			"path", s.path, "error", err)
		return
	}
	s.current.Store(cfg)
	s.logger.Info("configuration reloaded", "path", s.path)
	if s.OnReload != nil {
		s.OnReload(cfg)
	}
}

// Close stops the watcher goroutine.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	close(s.stopCh)
	err := s.watcher.Close()
	<-s.doneCh
	s.started = false
	return err
}
