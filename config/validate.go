package config

import (
	"errors"
	"fmt"
	"math"
)

// Weights are summed in floating point, so comparisons against 1.0 and 0.0
// allow for accumulated rounding.
const weightEpsilon = 1e-9

var (
	ErrInvalidPort         = errors.New("port must be between 0 and 65535")
	ErrInvalidRate         = errors.New("max_rate must be a positive, finite number")
	ErrInvalidSize         = errors.New("size must not be negative")
	ErrNegativeCount       = errors.New("proportion counts must not be negative")
	ErrInvalidProbability  = errors.New("probabilities must lie in [0, 1]")
	ErrProportionOverflow  = errors.New("proportions sum to more than 1")
	ErrCountOverflow       = errors.New("proportion counts sum to more than size")
	ErrResidualWeight      = errors.New("residual weight is left but no slots remain to carry it")
	ErrEmptyProportion     = errors.New("a proportion with weight must cover at least one slot")
	ErrEmptyUniverse       = errors.New("the weighted distribution needs size >= 1")
	ErrAlphaRange          = errors.New("alpha_min must not exceed alpha_max")
	ErrInvalidAlpha        = errors.New("zipf exponents must be positive")
	ErrInvalidZipfUpper    = errors.New("zipf_upper must be at least 1")
	ErrInvalidUniformMax   = errors.New("uniform_max must be at least 1 when the background is used")
	ErrInvalidGeometric    = errors.New("geometric_probability must lie in (0, 1]")
	ErrUnknownSeedPolicy   = errors.New("unknown seed_policy")
	ErrUnknownDistribution = errors.New("unknown distribution")
)

// Validate checks the document-wide invariants and then the ones belonging
// to the selected distribution. Only a snapshot that passes is ever
// published.
func (s *Snapshot) Validate() error {
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, s.Port)
	}

	if !(s.MaxRate > 0) || math.IsInf(s.MaxRate, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidRate, s.MaxRate)
	}

	if s.Size < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSize, s.Size)
	}

	if err := s.validateProportions(); err != nil {
		return err
	}

	// Written so NaN on either side fails
	if !(s.AlphaMin <= s.AlphaMax) {
		return fmt.Errorf("%w: [%v, %v]", ErrAlphaRange, s.AlphaMin, s.AlphaMax)
	}

	for name, p := range map[string]float64{
		"background_probability": s.BackgroundProbability,
		"geometric_probability":  s.GeometricProbability,
	} {
		if !inUnitInterval(p) {
			return fmt.Errorf("%w: %s = %v", ErrInvalidProbability, name, p)
		}
	}

	switch s.Policy() {
	case SeedAsk, SeedRandom, SeedFixed, SeedJump:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSeedPolicy, s.SeedPolicy)
	}

	switch s.Distribution {
	case ModelWeighted:
		return s.validateWeighted()
	case ModelMixture:
		return s.validateMixture()
	case ModelGeometric:
		if s.GeometricProbability <= 0 {
			return fmt.Errorf("%w: %v", ErrInvalidGeometric, s.GeometricProbability)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDistribution, s.Distribution)
	}
}

func (s *Snapshot) validateProportions() error {
	for _, p := range s.Proportions {
		if p.Count < 0 {
			return fmt.Errorf("%w: %d", ErrNegativeCount, p.Count)
		}
		if !inUnitInterval(p.Probability) {
			return fmt.Errorf("%w: proportion %v", ErrInvalidProbability, p.Probability)
		}
	}

	slots, weight := s.Residual()
	if weight < -weightEpsilon {
		return fmt.Errorf("%w: %v", ErrProportionOverflow, 1.0-weight)
	}
	if slots < 0 {
		return fmt.Errorf("%w: %d > %d", ErrCountOverflow, s.Size-slots, s.Size)
	}

	return nil
}

func (s *Snapshot) validateWeighted() error {
	if s.Size < 1 {
		return ErrEmptyUniverse
	}

	for _, p := range s.Proportions {
		if p.Count == 0 && p.Probability > 0 {
			return fmt.Errorf("%w: [0, %v]", ErrEmptyProportion, p.Probability)
		}
	}

	slots, weight := s.Residual()
	if slots == 0 && weight > weightEpsilon {
		return fmt.Errorf("%w: %v", ErrResidualWeight, weight)
	}

	return nil
}

func (s *Snapshot) validateMixture() error {
	if s.ZipfUpper < 1 {
		return ErrInvalidZipfUpper
	}
	if !(s.AlphaMin > 0) || math.IsInf(s.AlphaMax, 0) {
		return fmt.Errorf("%w: [%v, %v]", ErrInvalidAlpha, s.AlphaMin, s.AlphaMax)
	}
	if s.BackgroundProbability > 0 && s.UniformMax < 1 {
		return ErrInvalidUniformMax
	}

	return nil
}

func inUnitInterval(p float64) bool {
	return p >= 0 && p <= 1
}
