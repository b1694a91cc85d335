package distribution

import (
	"fmt"
	"math/rand/v2"

	"github.com/Shimmur/streamgen/config"
)

// A Mixture flips a biased coin for every value: heads draws uniformly from
// the background range [0, uniformMax), tails draws a Zipf rank shifted by a
// per-connection offset. The exponent and the offset are drawn once, when
// the Mixture is built.
type Mixture struct {
	background float64
	uniformMax uint64
	zipf       *Zipf

	Alpha  float64
	Offset uint64
}

// NewMixture draws alpha uniformly from [alpha_min, alpha_max], then the
// offset uniformly from [0, max_zipf_offset), in that order, from r.
func NewMixture(snap *config.Snapshot, r *rand.Rand) (*Mixture, error) {
	if snap.BackgroundProbability < 0 || snap.BackgroundProbability > 1 {
		return nil, fmt.Errorf("%w: background_probability = %v",
			config.ErrInvalidProbability, snap.BackgroundProbability)
	}
	if snap.BackgroundProbability > 0 && snap.UniformMax < 1 {
		return nil, config.ErrInvalidUniformMax
	}
	if snap.AlphaMin > snap.AlphaMax {
		return nil, fmt.Errorf("%w: [%v, %v]", config.ErrAlphaRange, snap.AlphaMin, snap.AlphaMax)
	}

	alpha := snap.AlphaMin + r.Float64()*(snap.AlphaMax-snap.AlphaMin)

	var offset uint64
	if snap.MaxZipfOffset > 0 {
		offset = r.Uint64N(snap.MaxZipfOffset)
	}

	zipf, err := NewZipf(snap.ZipfUpper, alpha)
	if err != nil {
		return nil, err
	}

	return &Mixture{
		background: snap.BackgroundProbability,
		uniformMax: snap.UniformMax,
		zipf:       zipf,
		Alpha:      alpha,
		Offset:     offset,
	}, nil
}

func (m *Mixture) Sample(r *rand.Rand) uint64 {
	v, _ := m.draw(r)
	return v
}

// draw also reports whether the value came from the background
func (m *Mixture) draw(r *rand.Rand) (uint64, bool) {
	if r.Float64() < m.background {
		return r.Uint64N(m.uniformMax), true
	}

	return m.zipf.Rank(r) + m.Offset, false
}

func (m *Mixture) String() string {
	return fmt.Sprintf("mixture(background=%v, alpha=%.4f, offset=%d)", m.background, m.Alpha, m.Offset)
}
