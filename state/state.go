package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/Shimmur/streamgen/rng"
)

// A Checkpoint records where a shared generator stands: its state words and
// how many substreams have already been handed out from it.
type Checkpoint struct {
	State      rng.State `json:"state"`
	Substreams uint64    `json:"substreams"`
}

// A Store is a JSON-persisted map of generator checkpoints. It lets the
// jump-derived seeding policy continue where it stopped after a restart
// instead of handing out substreams that were already used.
type Store struct {
	lock      sync.RWMutex
	store     map[string]*Checkpoint
	storePath string
}

// NewStore returns a properly configured store with the initial size provided
// and a fully-qualified path for file storage.
func NewStore(size int, storePath string) *Store {
	return &Store{
		store:     make(map[string]*Checkpoint, size),
		storePath: storePath,
	}
}

func (s *Store) Add(key string, checkpoint *Checkpoint) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.store[key] = checkpoint
}

func (s *Store) Get(key string) *Checkpoint {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.store[key]
}

func (s *Store) Del(key string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.store, key)
}

// Path returns where the store is persisted
func (s *Store) Path() string {
	return s.storePath
}

// Load reads the store from the file back into memory
func (s *Store) Load() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	data, err := os.ReadFile(s.storePath)
	if err != nil {
		return fmt.Errorf("failed to load state from %s: %w", s.storePath, err)
	}

	err = json.Unmarshal(data, &s.store)
	if err != nil {
		return fmt.Errorf("failed to unmarshal state from %s: %w", s.storePath, err)
	}

	return nil
}

// Persist writes the store out to a file. It writes a sibling temp file and
// renames it so a crash never leaves a truncated store behind.
func (s *Store) Persist() error {
	s.lock.RLock()
	defer s.lock.RUnlock()

	data, err := json.Marshal(s.store)
	if err != nil {
		return fmt.Errorf("failed to marshal state for %s: %w", s.storePath, err)
	}

	tmpPath := s.storePath + ".tmp"
	err = os.WriteFile(tmpPath, data, 0644)
	if err != nil {
		return fmt.Errorf("failed to persist to %s: %w", s.storePath, err)
	}

	err = os.Rename(tmpPath, s.storePath)
	if err != nil {
		return fmt.Errorf("failed to persist to %s: %w", s.storePath, err)
	}

	return nil
}
