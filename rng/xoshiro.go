// Package rng holds the generator every stream draws from. It is a
// Xoshiro256** with an explicit jump-ahead, so one process-wide generator can
// be carved into non-overlapping substreams.
package rng

import (
	"errors"
	"math/bits"
)

// ErrZeroState is returned when restoring a generator from an all-zero state,
// which Xoshiro can never leave.
var ErrZeroState = errors.New("xoshiro state must not be all zero")

// Each Jump() is equivalent to 2^128 calls to Uint64()
var jumpPoly = [4]uint64{
	0x180ec6d33cfd0aba, 0xd5a61266f0c9392c, 0xa9582618e03fc9aa, 0x39abdc4529b1661c,
}

// State is the full internal state of a Xoshiro256. It is a plain value so it
// can be compared, cached and persisted.
type State [4]uint64

// A Xoshiro256 is a Xoshiro256** generator. It satisfies math/rand/v2.Source.
// It is not safe for concurrent use.
type Xoshiro256 struct {
	s State
}

// New seeds a generator from a single 64-bit seed by expanding it with
// SplitMix64.
func New(seed uint64) *Xoshiro256 {
	sm := seed
	var s State
	for i := range s {
		s[i] = splitMix64(&sm)
	}

	return &Xoshiro256{s: s}
}

// FromState restores a generator from a previously captured State.
func FromState(s State) (*Xoshiro256, error) {
	if s == (State{}) {
		return nil, ErrZeroState
	}

	return &Xoshiro256{s: s}, nil
}

// State returns a copy of the current state.
func (x *Xoshiro256) State() State {
	return x.s
}

// Restore overwrites the generator state in place.
func (x *Xoshiro256) Restore(s State) {
	x.s = s
}

// Clone returns an independent generator positioned at the same point.
func (x *Xoshiro256) Clone() *Xoshiro256 {
	return &Xoshiro256{s: x.s}
}

func (x *Xoshiro256) Uint64() uint64 {
	s := &x.s
	result := bits.RotateLeft64(s[1]*5, 7) * 9

	t := s[1] << 17
	s[2] ^= s[0]
	s[3] ^= s[1]
	s[1] ^= s[2]
	s[0] ^= s[3]
	s[2] ^= t
	s[3] = bits.RotateLeft64(s[3], 45)

	return result
}

// Jump advances the generator by 2^128 steps. Calling it between clones
// yields 2^128 non-overlapping substreams.
func (x *Xoshiro256) Jump() {
	var next State
	for _, word := range jumpPoly {
		for b := 0; b < 64; b++ {
			if word&(uint64(1)<<uint(b)) != 0 {
				next[0] ^= x.s[0]
				next[1] ^= x.s[1]
				next[2] ^= x.s[2]
				next[3] ^= x.s[3]
			}
			x.Uint64()
		}
	}
	x.s = next
}

func splitMix64(state *uint64) uint64 {
	*state += 0x9e3779b97f4a7c15
	z := *state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
