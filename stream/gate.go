package stream

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Shimmur/streamgen/config"
	"golang.org/x/time/rate"
)

// A Gate spaces emissions at least 1/maxRate apart. Each connection owns its
// own Gate, so waiting never holds up anybody else. The burst of one means
// a slow write can't bank tokens for a later spurt.
type Gate struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// NewGate refuses maxRate <= 0 rather than guessing at "unlimited"
func NewGate(maxRate float64) (*Gate, error) {
	if !(maxRate > 0) || math.IsInf(maxRate, 0) {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidRate, maxRate)
	}

	return &Gate{
		limiter:  rate.NewLimiter(rate.Limit(maxRate), 1),
		interval: time.Duration(float64(time.Second) / maxRate),
	}, nil
}

// Wait blocks until the next emission is allowed or ctx is done
func (g *Gate) Wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}

// Interval is the minimum spacing between emissions
func (g *Gate) Interval() time.Duration {
	return g.interval
}
