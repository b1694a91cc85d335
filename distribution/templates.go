package distribution

import (
	"encoding/binary"
	"math"

	"github.com/Shimmur/streamgen/config"
	"github.com/Shimmur/streamgen/rng"
	"github.com/maypok86/otter"
	"github.com/zeebo/xxh3"
)

// templateKey identifies a weighted universe: the generator state it was
// drawn from plus a fingerprint of the parameters that shaped it.
type templateKey struct {
	state  rng.State
	params uint64
}

func newTemplateKey(state rng.State, size int, proportions []config.Proportion) templateKey {
	buf := make([]byte, 0, 8+16*len(proportions))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(size))
	for _, p := range proportions {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Count))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.Probability))
	}

	return templateKey{state: state, params: xxh3.Hash(buf)}
}

// A template is a built universe together with the generator state that
// followed its construction.
type template struct {
	categorical *Categorical
	after       rng.State
}

// Templates caches weighted universes so that connections seeded alike (the
// fixed policy, or clients sending the same seed) skip the O(size) build.
// Restoring the post-build state keeps the output identical to a fresh
// build.
type Templates struct {
	cache otter.Cache[templateKey, *template]
}

// NewTemplates returns a cache bounded to roughly capacity universe slots
func NewTemplates(capacity int) (*Templates, error) {
	builder, err := otter.NewBuilder[templateKey, *template](capacity)
	if err != nil {
		return nil, err
	}

	cache, err := builder.
		CollectStats().
		Cost(func(key templateKey, value *template) uint32 {
			n := uint64(value.categorical.Len())
			if n > math.MaxUint32 {
				return math.MaxUint32
			}
			return uint32(n)
		}).
		Build()
	if err != nil {
		return nil, err
	}

	return &Templates{cache: cache}, nil
}

func (t *Templates) get(key templateKey) (*template, bool) {
	return t.cache.Get(key)
}

func (t *Templates) set(key templateKey, value *template) {
	t.cache.Set(key, value)
}

// Stats exposes hit and miss counters for the metrics collector
func (t *Templates) Stats() otter.Stats {
	return t.cache.Stats()
}

// Close stops the cache's background goroutines
func (t *Templates) Close() {
	t.cache.Close()
}
