// Package distribution builds the per-connection sampling models. Every model
// satisfies Sampler, so the emitter never needs to know which family it is
// drawing from.
package distribution

import (
	"fmt"
	"math/rand/v2"

	"github.com/Shimmur/streamgen/config"
	"github.com/Shimmur/streamgen/rng"
)

// A Sampler draws one value from its distribution using the caller's
// generator. Samplers hold no generator of their own.
type Sampler interface {
	Sample(r *rand.Rand) uint64
}

// A Factory turns a snapshot plus a connection's private generator into a
// Sampler. Any per-connection parameters are drawn from that generator at
// build time, so building is part of the reproducible stream.
type Factory struct {
	templates *Templates
}

// NewFactory returns a Factory. templates may be nil, in which case every
// weighted universe is built from scratch.
func NewFactory(templates *Templates) *Factory {
	return &Factory{templates: templates}
}

// Build constructs the Sampler selected by snap.Distribution. src is advanced
// exactly as far as construction requires.
func (f *Factory) Build(snap *config.Snapshot, src *rng.Xoshiro256) (Sampler, error) {
	switch snap.Distribution {
	case config.ModelWeighted:
		return f.buildWeighted(snap, src)
	case config.ModelMixture:
		return NewMixture(snap, rand.New(src))
	case config.ModelGeometric:
		return NewGeometric(snap.GeometricProbability)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownDistribution, snap.Distribution)
	}
}

func (f *Factory) buildWeighted(snap *config.Snapshot, src *rng.Xoshiro256) (Sampler, error) {
	if f.templates == nil {
		return NewCategorical(snap.Size, snap.Proportions, rand.New(src))
	}

	key := newTemplateKey(src.State(), snap.Size, snap.Proportions)
	if tmpl, ok := f.templates.get(key); ok {
		src.Restore(tmpl.after)
		return tmpl.categorical, nil
	}

	c, err := NewCategorical(snap.Size, snap.Proportions, rand.New(src))
	if err != nil {
		return nil, err
	}

	f.templates.set(key, &template{categorical: c, after: src.State()})
	return c, nil
}
