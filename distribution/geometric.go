package distribution

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/Shimmur/streamgen/config"
)

// Geometric counts the failures before the first success of a Bernoulli(p)
// trial, by inversion.
type Geometric struct {
	p    float64
	logQ float64
}

func NewGeometric(p float64) (*Geometric, error) {
	if !(p > 0) || p > 1 {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidGeometric, p)
	}

	return &Geometric{p: p, logQ: math.Log1p(-p)}, nil
}

func (g *Geometric) Sample(r *rand.Rand) uint64 {
	if g.p == 1 {
		return 0
	}

	// 1 - Float64() is in (0, 1], so the log is finite
	k := math.Floor(math.Log(1-r.Float64()) / g.logQ)
	if k >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(k)
}

func (g *Geometric) String() string {
	return fmt.Sprintf("geometric(p=%v)", g.p)
}
