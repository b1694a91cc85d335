package main

import (
	"bytes"
	"errors"
	"os"
	"sync"

	"github.com/Shimmur/streamgen/config"
	log "github.com/sirupsen/logrus"
)

// LogCapture logs for async testing where there's no direct handle on the output
func LogCapture(fn func()) string {
	capture := &bytes.Buffer{}
	log.SetOutput(capture)
	fn()
	log.SetOutput(os.Stdout)

	return capture.String()
}

// mockLoader is a mock that implements the Loader interface, for testing
type mockLoader struct {
	ShouldError bool
	Snapshot    *config.Snapshot

	lock  sync.Mutex
	loads int
}

func newMockLoader(snap *config.Snapshot) *mockLoader {
	return &mockLoader{Snapshot: snap}
}

func (l *mockLoader) Load() (*config.Snapshot, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.loads++
	if l.ShouldError {
		return nil, errors.New("intentional test error")
	}

	// Hand out a copy, the way a fresh parse would
	snap := *l.Snapshot
	return &snap, nil
}

func (l *mockLoader) Set(snap *config.Snapshot, shouldError bool) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.Snapshot = snap
	l.ShouldError = shouldError
}

func (l *mockLoader) Loads() int {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.loads
}

// mockRecorder implements ReloadRecorder
type mockRecorder struct {
	lock    sync.Mutex
	Results []string
}

func (r *mockRecorder) Reloaded(result string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.Results = append(r.Results, result)
}

func testSnapshot() *config.Snapshot {
	snap := config.NewSnapshot()
	snap.Size = 10
	snap.MaxRate = 1000
	snap.Proportions = []config.Proportion{{Count: 2, Probability: 0.5}}
	snap.SeedPolicy = config.SeedFixed
	snap.DefaultSeed = 7
	return snap
}
