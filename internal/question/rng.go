package question

import (
	"hash/fnv"
	"math/rand/v2"
)

// seedFrom hashes a seed key to 32 bits.
func seedFrom(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32()
}

// newRNG returns a generator whose output depends only on key.
func newRNG(key string) *rand.Rand {
	s := uint64(seedFrom(key))
	return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
}

// shuffled returns a seeded Fisher-Yates permutation of items.
func shuffled(r *rand.Rand, items []Question) []Question {
	out := append([]Question(nil), items...)
	for i := len(out) - 1; i > 0; i-- {
		j := r.IntN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
