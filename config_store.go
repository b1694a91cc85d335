package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/Shimmur/streamgen/config"
	"github.com/Shimmur/streamgen/metrics"
	"github.com/fsnotify/fsnotify"
	director "github.com/relistan/go-director"
	log "github.com/sirupsen/logrus"
)

// A Loader produces a validated snapshot from wherever the config lives
type Loader interface {
	Load() (*config.Snapshot, error)
}

// FileLoader reads the config document from disk on every call
type FileLoader struct {
	Path string
}

func (l *FileLoader) Load() (*config.Snapshot, error) {
	return config.Load(l.Path)
}

// StaticLoader always hands back the same snapshot
type StaticLoader struct {
	Snapshot *config.Snapshot
}

func (l *StaticLoader) Load() (*config.Snapshot, error) {
	return l.Snapshot, nil
}

// ReloadRecorder is told the outcome of every reload
type ReloadRecorder interface {
	Reloaded(result string)
}

// A ConfigStore holds the current snapshot and keeps it fresh, on a time loop
// controlled by the looper. Readers never lock: they load a pointer to an
// immutable snapshot, and a reload swaps the pointer.
type ConfigStore struct {
	current  atomic.Pointer[config.Snapshot]
	loader   Loader
	looper   director.Looper
	strict   bool
	recorder ReloadRecorder

	reloadLock sync.Mutex
}

// NewConfigStore does the initial load. Failing it is fatal to the caller:
// there is no last-good snapshot to fall back on yet.
func NewConfigStore(loader Loader, looper director.Looper, strict bool,
	recorder ReloadRecorder) (*ConfigStore, error) {

	initial, err := loader.Load()
	if err != nil {
		return nil, err
	}

	store := &ConfigStore{
		loader:   loader,
		looper:   looper,
		strict:   strict,
		recorder: recorder,
	}
	store.current.Store(initial)

	return store, nil
}

// Current returns the latest published snapshot
func (s *ConfigStore) Current() *config.Snapshot {
	return s.current.Load()
}

// Reload loads the document again and publishes it if it validated and
// differs from the current one. On failure the current snapshot stays.
func (s *ConfigStore) Reload() error {
	s.reloadLock.Lock()
	defer s.reloadLock.Unlock()

	snap, err := s.loader.Load()
	if err != nil {
		s.recorder.Reloaded(metrics.ReloadFailed)
		return err
	}

	previous := s.Current()
	if snap.Equal(previous) {
		s.recorder.Reloaded(metrics.ReloadUnchanged)
		return nil
	}

	if snap.Port != previous.Port {
		log.Warnf("Config changes port from %d to %d, which only takes effect after restart",
			previous.Port, snap.Port)
	}

	s.current.Store(snap)
	s.recorder.Reloaded(metrics.ReloadChanged)
	log.Infof("Published new config: %s distribution, size %d, max_rate %v, seed policy %s",
		snap.Distribution, snap.Size, snap.MaxRate, snap.Policy())

	return nil
}

// Run polls the loader until the looper is stopped or ctx is cancelled.
// Reload failures are logged and the loop carries on, unless the store is
// strict, in which case the loop exits with the error.
func (s *ConfigStore) Run(ctx context.Context) {
	s.looper.Loop(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.Reload()
		if err == nil {
			return nil
		}

		if s.strict {
			log.Errorf("Config reload failed, shutting down: %s", err)
			return err
		}

		log.Warnf("Config reload failed, keeping last good config: %s", err)
		return nil
	})
}

// Watch reloads as soon as the file at path changes, rather than waiting on
// the next poll. The directory is watched because editors tend to replace
// files rather than write them in place.
func (s *ConfigStore) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", target, err)
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				log.Debugf("Config file event: %s", event)
				if err := s.Reload(); err != nil {
					log.Warnf("Config reload failed, keeping last good config: %s", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("Config watcher error: %s", err)
			}
		}
	}()

	return nil
}
