// Package stream runs the per-connection pipeline: a profile is resolved once
// when a connection is accepted, then an Emitter samples, rate-gates and
// writes values until the client goes away.
package stream

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/Shimmur/streamgen/config"
	"github.com/Shimmur/streamgen/distribution"
	"github.com/Shimmur/streamgen/seeding"
	"github.com/google/uuid"
)

// A Profile is everything one connection needs to produce its stream. It is
// built from the snapshot current at accept time and never changes after,
// so later reloads don't reach connections already being served.
type Profile struct {
	ID        string
	Remote    string
	Policy    config.SeedPolicy
	Seed      uint64
	Substream uint64
	Fallback  bool
	Model     config.Model
	MaxRate   float64
	Started   time.Time

	Sampler distribution.Sampler
	rand    *rand.Rand
}

// A Builder resolves profiles for new connections
type Builder struct {
	deriver *seeding.Deriver
	factory *distribution.Factory
}

func NewBuilder(deriver *seeding.Deriver, factory *distribution.Factory) *Builder {
	return &Builder{deriver: deriver, factory: factory}
}

// Build seeds a private generator for the connection, then builds its
// sampler from that generator.
func (b *Builder) Build(snap *config.Snapshot, remote string, client seeding.ClientSeed) (*Profile, error) {
	derived, err := b.deriver.Derive(snap, client)
	if err != nil {
		return nil, err
	}

	return NewProfile(snap, derived, b.factory, remote)
}

// NewProfile builds a profile from an already derived generator
func NewProfile(snap *config.Snapshot, derived *seeding.Derived, factory *distribution.Factory,
	remote string) (*Profile, error) {

	sampler, err := factory.Build(snap, derived.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s distribution: %w", snap.Distribution, err)
	}

	return &Profile{
		ID:        uuid.New().String(),
		Remote:    remote,
		Policy:    derived.Policy,
		Seed:      derived.Seed,
		Substream: derived.Substream,
		Fallback:  derived.Fallback,
		Model:     snap.Distribution,
		MaxRate:   snap.MaxRate,
		Sampler:   sampler,
		rand:      rand.New(derived.Source),
	}, nil
}

// Next draws the next value of this connection's stream
func (p *Profile) Next() uint64 {
	return p.Sampler.Sample(p.rand)
}

// Describe is a short, human-readable summary of the sampler
func (p *Profile) Describe() string {
	if s, ok := p.Sampler.(fmt.Stringer); ok {
		return s.String()
	}
	return string(p.Model)
}
