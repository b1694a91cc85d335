package distribution

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/Shimmur/streamgen/config"
)

const weightEpsilon = 1e-9

// Categorical samples from a fixed universe of random 32-bit values, each
// with its own weight. It is read-only after construction and may be shared.
type Categorical struct {
	universe   []uint32
	weights    []float64
	cumulative []float64
	last       int // last index carrying weight
}

// NewCategorical draws a universe of size values from r and weights it per
// the proportion list (see Weights).
func NewCategorical(size int, proportions []config.Proportion, r *rand.Rand) (*Categorical, error) {
	weights, err := Weights(size, proportions)
	if err != nil {
		return nil, err
	}

	universe := make([]uint32, size)
	for i := range universe {
		universe[i] = r.Uint32()
	}

	cumulative := make([]float64, size)
	total := 0.0
	last := 0
	for i, w := range weights {
		total += w
		cumulative[i] = total
		if w > 0 {
			last = i
		}
	}

	return &Categorical{
		universe:   universe,
		weights:    weights,
		cumulative: cumulative,
		last:       last,
	}, nil
}

// Weights lays the proportion list over a universe of size slots. Each
// [n, p] pair gives its n slots a combined weight of p, in order from slot 0.
// The slots left over share 1 - Σp evenly.
func Weights(size int, proportions []config.Proportion) ([]float64, error) {
	if size < 1 {
		return nil, config.ErrEmptyUniverse
	}

	weights := make([]float64, size)
	i := 0
	attributed := 0.0
	for _, p := range proportions {
		if p.Count < 0 {
			return nil, fmt.Errorf("%w: %d", config.ErrNegativeCount, p.Count)
		}
		if !(p.Probability >= 0 && p.Probability <= 1) {
			return nil, fmt.Errorf("%w: proportion %v", config.ErrInvalidProbability, p.Probability)
		}
		if p.Count == 0 {
			if p.Probability > 0 {
				return nil, fmt.Errorf("%w: [0, %v]", config.ErrEmptyProportion, p.Probability)
			}
			continue
		}
		if i+p.Count > size {
			return nil, fmt.Errorf("%w: %d > %d", config.ErrCountOverflow, i+p.Count, size)
		}

		each := p.Probability / float64(p.Count)
		for end := i + p.Count; i < end; i++ {
			weights[i] = each
		}
		attributed += p.Probability
	}

	residual := 1.0 - attributed
	if residual < -weightEpsilon {
		return nil, fmt.Errorf("%w: %v", config.ErrProportionOverflow, attributed)
	}

	remaining := size - i
	if remaining == 0 {
		if residual > weightEpsilon {
			return nil, fmt.Errorf("%w: %v", config.ErrResidualWeight, residual)
		}
		return weights, nil
	}

	if residual < 0 {
		residual = 0
	}
	each := residual / float64(remaining)
	for ; i < size; i++ {
		weights[i] = each
	}

	return weights, nil
}

func (c *Categorical) Sample(r *rand.Rand) uint64 {
	return uint64(c.universe[c.index(r.Float64())])
}

// index maps u in [0, 1) onto the slot whose cumulative weight first exceeds
// u scaled by the total.
func (c *Categorical) index(u float64) int {
	target := u * c.cumulative[len(c.cumulative)-1]
	i := sort.Search(len(c.cumulative), func(i int) bool {
		return c.cumulative[i] > target
	})
	if i > c.last {
		// Rounding at the very top of the range
		i = c.last
	}
	return i
}

// Len returns the universe size
func (c *Categorical) Len() int {
	return len(c.universe)
}

// Universe returns a copy of the universe values
func (c *Categorical) Universe() []uint32 {
	return append([]uint32(nil), c.universe...)
}

// Weights returns a copy of the per-slot weights
func (c *Categorical) Weights() []float64 {
	return append([]float64(nil), c.weights...)
}

func (c *Categorical) String() string {
	return fmt.Sprintf("weighted(size=%d)", len(c.universe))
}
