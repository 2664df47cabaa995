package game

import (
	"math/rand"
	"time"
)

// Source is a stream of random draws. Question generation only ever asks for
// floats and bounded integers, so seeded and unseeded play share one code path.
type Source interface {
	Next() float64
	NextInt(lo, hi int) int
}

// Rand is a deterministic stream derived from a string seed. The mapping from
// seed to stream is part of the multiplayer protocol: peers running different
// builds must draw the same numbers, so it must never change.
type Rand struct {
	state uint32
}

// NewRand seeds a stream from s. Any string is valid, including "".
func NewRand(seed string) *Rand {
	return &Rand{state: Hash(seed)}
}

// Hash is 32-bit FNV-1a over the UTF-8 bytes of seed. Clients hashing UTF-16
// code units agree only on ASCII seeds.
func Hash(seed string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(seed); i++ {
		h ^= uint32(seed[i])
		h *= 16777619
	}
	return h
}

// Next advances the stream by one mulberry32 step and returns a value in [0,1).
func (r *Rand) Next() float64 {
	r.state += 0x6D2B79F5
	t := r.state
	t = (t ^ (t >> 15)) * (t | 1)
	t ^= t + (t^(t>>7))*(t|61)
	t ^= t >> 14
	return float64(t) / 4294967296.0
}

// NextInt returns an integer in [lo, hi], inclusive on both ends.
func (r *Rand) NextInt(lo, hi int) int {
	return nextInt(r, lo, hi)
}

func nextInt(src Source, lo, hi int) int {
	if hi < lo {
		lo, hi = hi, lo
	}
	return int(src.Next()*float64(hi-lo+1)) + lo
}

// unseeded backs solo practice where no peer needs to agree on the stream.
type unseeded struct {
	rnd *rand.Rand
}

// NewUnseeded returns a Source seeded from the wall clock.
func NewUnseeded() Source {
	return &unseeded{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (u *unseeded) Next() float64 {
	return u.rnd.Float64()
}

func (u *unseeded) NextInt(lo, hi int) int {
	return nextInt(u, lo, hi)
}
