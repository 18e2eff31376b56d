package retrieval

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
)

// encodeVector packs v as little-endian float32s, the embedding column format.
func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

// decodeVector unpacks an embedding column into dst, growing it if needed.
func decodeVector(dst []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob of %d bytes is not a float32 array", len(b))
	}
	dst = slices.Grow(dst[:0], len(b)/4)[:len(b)/4]
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return dst, nil
}

// unit returns v scaled to length 1, or false for a zero vector. Stored
// embeddings are unit length, so cosine similarity is a plain dot product.
func unit(v []float32) ([]float32, bool) {
	var sq float64
	for _, f := range v {
		sq += float64(f) * float64(f)
	}
	if sq == 0 {
		return nil, false
	}
	inv := 1 / math.Sqrt(sq)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) * inv)
	}
	return out, true
}

func dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

type hit struct {
	id    string
	score float32
}

// better orders hits by score, then by id for a stable result.
func better(a, b hit) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.id < b.id
}

// ranking keeps the k best hits seen so far, best first.
type ranking struct {
	k    int
	hits []hit
}

func newRanking(k int) *ranking {
	return &ranking{k: k, hits: make([]hit, 0, k)}
}

func (r *ranking) offer(h hit) {
	if len(r.hits) == r.k && !better(h, r.hits[r.k-1]) {
		return
	}
	i, _ := slices.BinarySearchFunc(r.hits, h, func(e, target hit) int {
		if better(e, target) {
			return -1
		}
		return 1
	})
	if len(r.hits) == r.k {
		r.hits = r.hits[:r.k-1]
	}
	r.hits = slices.Insert(r.hits, i, h)
}
