// Package config defines the configuration document a streamgen instance is
// driven by, how it is read from disk, and the rules a document has to pass
// before it may be published to running connections.
package config

import (
	"encoding/json"
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort = 8888
	DefaultSeed = 1234
)

// SeedPolicy selects how each connection's generator is seeded.
type SeedPolicy string

const (
	// SeedAsk reads one line from the client and parses it as the seed
	SeedAsk SeedPolicy = "ask"
	// SeedRandom draws a fresh seed from the OS entropy source
	SeedRandom SeedPolicy = "random"
	// SeedFixed uses DefaultSeed for every connection
	SeedFixed SeedPolicy = "fixed"
	// SeedJump hands out jump-ahead substreams of one process-wide generator
	SeedJump SeedPolicy = "jump"
)

// Model selects the distribution family a connection samples from.
type Model string

const (
	ModelWeighted  Model = "weighted"
	ModelMixture   Model = "mixture"
	ModelGeometric Model = "geometric"
)

// A Proportion says that Count universe slots together carry Probability of
// the total weight. It is written as a two element list, e.g. [2, 0.5].
type Proportion struct {
	Count       int
	Probability float64
}

// UnmarshalTOML decodes the [count, probability] form. TOML hands integers
// over as int64 and floats as float64, so both are accepted in either slot.
func (p *Proportion) UnmarshalTOML(data interface{}) error {
	pair, ok := data.([]interface{})
	if !ok || len(pair) != 2 {
		return fmt.Errorf("proportion must be a [count, probability] pair, got %v", data)
	}

	count, err := toFloat(pair[0])
	if err != nil {
		return fmt.Errorf("invalid proportion count: %w", err)
	}
	if count != float64(int(count)) {
		return fmt.Errorf("proportion count must be an integer, got %v", pair[0])
	}

	prob, err := toFloat(pair[1])
	if err != nil {
		return fmt.Errorf("invalid proportion probability: %w", err)
	}

	p.Count = int(count)
	p.Probability = prob
	return nil
}

// UnmarshalYAML decodes the [count, probability] form from YAML
func (p *Proportion) UnmarshalYAML(node *yaml.Node) error {
	var pair []float64
	if err := node.Decode(&pair); err != nil {
		return fmt.Errorf("proportion must be a [count, probability] pair: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("proportion must be a [count, probability] pair, got %d values", len(pair))
	}
	if pair[0] != float64(int(pair[0])) {
		return fmt.Errorf("proportion count must be an integer, got %v", pair[0])
	}

	p.Count = int(pair[0])
	p.Probability = pair[1]
	return nil
}

func (p Proportion) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{p.Count, p.Probability})
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

// A Snapshot is one complete, validated configuration document. Published
// snapshots are never mutated; a reload replaces the whole value.
type Snapshot struct {
	Port        int          `toml:"port" yaml:"port" json:"port"`
	Size        int          `toml:"size" yaml:"size" json:"size"`
	MaxRate     float64      `toml:"max_rate" yaml:"max_rate" json:"max_rate"`
	Proportions []Proportion `toml:"proportions" yaml:"proportions" json:"proportions"`

	Distribution Model `toml:"distribution" yaml:"distribution" json:"distribution"`

	SeedPolicy  SeedPolicy `toml:"seed_policy" yaml:"seed_policy" json:"seed_policy,omitempty"`
	AskSeed     bool       `toml:"ask_seed" yaml:"ask_seed" json:"ask_seed"`
	RandomSeed  bool       `toml:"random_seed" yaml:"random_seed" json:"random_seed"`
	DefaultSeed uint64     `toml:"default_seed" yaml:"default_seed" json:"default_seed"`

	// Mixture parameters
	ZipfUpper             uint64  `toml:"zipf_upper" yaml:"zipf_upper" json:"zipf_upper,omitempty"`
	AlphaMin              float64 `toml:"alpha_min" yaml:"alpha_min" json:"alpha_min,omitempty"`
	AlphaMax              float64 `toml:"alpha_max" yaml:"alpha_max" json:"alpha_max,omitempty"`
	UniformMax            uint64  `toml:"uniform_max" yaml:"uniform_max" json:"uniform_max,omitempty"`
	BackgroundProbability float64 `toml:"background_probability" yaml:"background_probability" json:"background_probability,omitempty"`
	MaxZipfOffset         uint64  `toml:"max_zipf_offset" yaml:"max_zipf_offset" json:"max_zipf_offset,omitempty"`

	GeometricProbability float64 `toml:"geometric_probability" yaml:"geometric_probability" json:"geometric_probability,omitempty"`
}

// NewSnapshot returns a Snapshot holding the documented defaults. Decoders
// write over it, so keys missing from a document keep these values.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Port:         DefaultPort,
		Distribution: ModelWeighted,
		DefaultSeed:  DefaultSeed,
	}
}

// Geometric builds the snapshot served by the single-argument fixed-rate
// mode: a geometric stream with random per-connection seeds.
func Geometric(probability, maxRate float64, port int) (*Snapshot, error) {
	snap := NewSnapshot()
	snap.Port = port
	snap.MaxRate = maxRate
	snap.Distribution = ModelGeometric
	snap.GeometricProbability = probability
	snap.SeedPolicy = SeedRandom

	if err := snap.Validate(); err != nil {
		return nil, err
	}

	return snap, nil
}

// Policy resolves the seeding policy. An explicit seed_policy wins; otherwise
// the legacy flags are consulted, ask_seed before random_seed.
func (s *Snapshot) Policy() SeedPolicy {
	if s.SeedPolicy != "" {
		return s.SeedPolicy
	}

	switch {
	case s.AskSeed:
		return SeedAsk
	case s.RandomSeed:
		return SeedRandom
	default:
		return SeedFixed
	}
}

// Equal reports structural equality, which is what decides whether a reload
// is published.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	return reflect.DeepEqual(s, other)
}

// Residual returns how many universe slots and how much weight are left over
// once the proportion list has been consumed.
func (s *Snapshot) Residual() (slots int, weight float64) {
	assigned := 0
	attributed := 0.0
	for _, p := range s.Proportions {
		assigned += p.Count
		attributed += p.Probability
	}

	return s.Size - assigned, 1.0 - attributed
}
