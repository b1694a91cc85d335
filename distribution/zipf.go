package distribution

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/Shimmur/streamgen/config"
)

// Zipf samples ranks in [1, n] with P(k) proportional to k^-s. It uses
// rejection-inversion (Hörmann & Derflinger, 1996), which works for any
// s > 0, unlike math/rand.Zipf which needs s > 1.
type Zipf struct {
	n       float64
	s       float64
	hX1     float64
	hN      float64
	squeeze float64
}

func NewZipf(n uint64, s float64) (*Zipf, error) {
	if n < 1 {
		return nil, config.ErrInvalidZipfUpper
	}
	if !(s > 0) || math.IsInf(s, 0) {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidAlpha, s)
	}

	z := &Zipf{n: float64(n), s: s}
	z.hX1 = z.hIntegral(1.5) - 1
	z.hN = z.hIntegral(z.n + 0.5)
	z.squeeze = 2 - z.hIntegralInverse(z.hIntegral(2.5)-z.h(2))

	return z, nil
}

// Rank draws one rank in [1, n]
func (z *Zipf) Rank(r *rand.Rand) uint64 {
	for {
		u := z.hN + r.Float64()*(z.hX1-z.hN)
		x := z.hIntegralInverse(u)

		k := math.Floor(x + 0.5)
		if k < 1 {
			k = 1
		} else if k > z.n {
			k = z.n
		}

		if k-x <= z.squeeze || u >= z.hIntegral(k+0.5)-z.h(k) {
			return uint64(k)
		}
	}
}

func (z *Zipf) Sample(r *rand.Rand) uint64 {
	return z.Rank(r)
}

func (z *Zipf) h(x float64) float64 {
	return math.Exp(-z.s * math.Log(x))
}

func (z *Zipf) hIntegral(x float64) float64 {
	logX := math.Log(x)
	return helper2((1-z.s)*logX) * logX
}

func (z *Zipf) hIntegralInverse(x float64) float64 {
	t := x * (1 - z.s)
	if t < -1 {
		t = -1
	}
	return math.Exp(helper1(t) * x)
}

// helper1 is log1p(x)/x, stable around 0
func helper1(x float64) float64 {
	if math.Abs(x) > 1e-8 {
		return math.Log1p(x) / x
	}
	return 1 - x*(0.5-x*(1.0/3.0-0.25*x))
}

// helper2 is expm1(x)/x, stable around 0
func helper2(x float64) float64 {
	if math.Abs(x) > 1e-8 {
		return math.Expm1(x) / x
	}
	return 1 + x*0.5*(1+x/3.0*(1+0.25*x))
}
