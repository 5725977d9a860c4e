// Package xoshiro256 implements the xoshiro256** RNG and a
// math/rand.Source64 adapter so each event producer can own an
// independent, seedable random stream.
package xoshiro256

import "math/bits"

// Hash mixes a single uint64 through the MurmurHash3 64-bit finalizer
// (fmix64); used to expand a 64-bit producer seed into four
// well-distributed state words.
func Hash(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

// State is the 256-bit xoshiro256** generator state.
type State struct {
	s [4]uint64
}

// NewState seeds a generator from a single 64-bit seed via splitmix-style
// expansion (Hash applied to successive golden-ratio counters). The mixer
// is fmix64 rather than SplitMix64's own, so the state words differ from
// the reference xoshiro256** seeding recipe's.
func NewState(seed uint64) *State {
	st := &State{}
	x := seed
	for i := range st.s {
		x += 0x9e3779b97f4a7c15
		st.s[i] = Hash(x)
	}
	return st
}

func rotl(x uint64, k uint) uint64 { return bits.RotateLeft64(x, int(k)) }

// Next returns the next 64-bit output and advances the state.
func (st *State) Next() uint64 {
	s := &st.s
	result := rotl(s[1]*5, 7) * 9

	t := s[1] << 17

	s[2] ^= s[0]
	s[3] ^= s[1]
	s[1] ^= s[2]
	s[0] ^= s[3]

	s[2] ^= t

	s[3] = rotl(s[3], 45)

	return result
}

// Source adapts State to math/rand.Source64 so producers can drive it
// through rand.New(...).Float64/ExpFloat64/Intn.
type Source struct{ st *State }

// New returns a math/rand.Source64-compatible generator seeded from seed.
func New(seed uint64) *Source { return &Source{st: NewState(seed)} }

func (s *Source) Uint64() uint64 { return s.st.Next() }
func (s *Source) Int63() int64   { return int64(s.st.Next() >> 1) }
func (s *Source) Seed(seed int64) { s.st = NewState(uint64(seed)) }
