// Package seeding decides where each connection's private generator comes
// from.
package seeding

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/Shimmur/streamgen/config"
	"github.com/Shimmur/streamgen/rng"
	"github.com/Shimmur/streamgen/state"
)

// A ClientSeed supplies the raw seed line under the ask policy. It is only
// consulted when the policy asks for it.
type ClientSeed interface {
	SeedLine() (string, error)
}

// Derived is the outcome of seeding one connection. Source is owned by that
// connection alone.
type Derived struct {
	Policy config.SeedPolicy
	Seed   uint64
	// Substream is the jump index under the jump policy
	Substream uint64
	// Fallback is set when a malformed seed line was replaced by the default
	Fallback bool
	Source   *rng.Xoshiro256
}

// A Deriver hands out generators. The only state it shares between
// connections is the jump policy's process-wide generator.
type Deriver struct {
	processSeed uint64
	entropy     io.Reader

	lock       sync.Mutex
	shared     *rng.Xoshiro256
	substreams uint64

	reserve     ReserveFunc
	block       uint64
	reservedEnd uint64
}

// A ReserveFunc durably records a checkpoint. The Deriver hands out nothing
// past a checkpoint's Substreams until the next reservation succeeds.
type ReserveFunc func(*state.Checkpoint) error

// NewDeriver returns a Deriver whose jump substreams descend from
// processSeed.
func NewDeriver(processSeed uint64) *Deriver {
	return &Deriver{
		processSeed: processSeed,
		entropy:     rand.Reader,
		shared:      rng.New(processSeed),
	}
}

// NewDeriverFromCheckpoint resumes the jump sequence from a checkpoint, so
// substreams handed out before a restart are not handed out again.
func NewDeriverFromCheckpoint(processSeed uint64, checkpoint *state.Checkpoint) (*Deriver, error) {
	shared, err := rng.FromState(checkpoint.State)
	if err != nil {
		return nil, fmt.Errorf("invalid generator checkpoint: %w", err)
	}

	d := NewDeriver(processSeed)
	d.shared = shared
	d.substreams = checkpoint.Substreams
	return d, nil
}

// ReserveBlocks makes the jump policy reserve substreams block at a time.
// Before the first substream of each block is handed out, the checkpoint at
// the end of the block goes to reserve. A process resumed from the last
// reserved checkpoint therefore never repeats a substream, even after a
// crash.
func (d *Deriver) ReserveBlocks(block uint64, reserve ReserveFunc) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if block == 0 {
		block = 1
	}
	d.block = block
	d.reserve = reserve
	d.reservedEnd = d.substreams
}

// Derive seeds a generator for one connection according to the snapshot's
// policy.
func (d *Deriver) Derive(snap *config.Snapshot, client ClientSeed) (*Derived, error) {
	policy := snap.Policy()

	switch policy {
	case config.SeedAsk:
		return d.ask(snap, client)
	case config.SeedRandom:
		var seed uint64
		if err := binary.Read(d.entropy, binary.LittleEndian, &seed); err != nil {
			return nil, fmt.Errorf("failed to draw a random seed: %w", err)
		}
		return &Derived{Policy: policy, Seed: seed, Source: rng.New(seed)}, nil
	case config.SeedFixed:
		return &Derived{Policy: policy, Seed: snap.DefaultSeed, Source: rng.New(snap.DefaultSeed)}, nil
	case config.SeedJump:
		source, index, err := d.jump()
		if err != nil {
			return nil, err
		}
		return &Derived{Policy: policy, Seed: d.processSeed, Substream: index, Source: source}, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownSeedPolicy, policy)
	}
}

func (d *Deriver) ask(snap *config.Snapshot, client ClientSeed) (*Derived, error) {
	derived := &Derived{Policy: config.SeedAsk}

	var line string
	if client != nil {
		var err error
		line, err = client.SeedLine()
		// A client that closes its side before sending a line is treated
		// like one that sent garbage.
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read seed: %w", err)
		}
	}

	seed, err := ParseSeed(line)
	if err != nil {
		seed = snap.DefaultSeed
		derived.Fallback = true
	}

	derived.Seed = seed
	derived.Source = rng.New(seed)
	return derived, nil
}

// jump clones the shared generator for the caller and moves the shared one
// past the clone's substream. Reservations are the only other work done
// under the lock.
func (d *Deriver) jump() (*rng.Xoshiro256, uint64, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.reserve != nil && d.substreams >= d.reservedEnd {
		if err := d.reserveNext(); err != nil {
			return nil, 0, err
		}
	}

	source := d.shared.Clone()
	d.shared.Jump()
	index := d.substreams
	d.substreams++

	return source, index, nil
}

// reserveNext records the checkpoint one block ahead. Callers hold the lock.
func (d *Deriver) reserveNext() error {
	end := d.shared.Clone()
	for i := uint64(0); i < d.block; i++ {
		end.Jump()
	}

	checkpoint := &state.Checkpoint{State: end.State(), Substreams: d.substreams + d.block}
	if err := d.reserve(checkpoint); err != nil {
		return fmt.Errorf("failed to reserve jump substreams: %w", err)
	}

	d.reservedEnd = checkpoint.Substreams
	return nil
}

// Checkpoint captures the jump generator's position for persistence
func (d *Deriver) Checkpoint() *state.Checkpoint {
	d.lock.Lock()
	defer d.lock.Unlock()

	return &state.Checkpoint{State: d.shared.State(), Substreams: d.substreams}
}

// ProcessSeed returns the seed the jump sequence descends from
func (d *Deriver) ProcessSeed() uint64 {
	return d.processSeed
}

// ParseSeed parses a base-10 signed integer, surrounding whitespace allowed.
// Negative seeds map onto the upper half of the unsigned range.
func ParseSeed(line string) (uint64, error) {
	seed, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid seed %q: %w", line, err)
	}

	return uint64(seed), nil
}
