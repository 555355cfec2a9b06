// Package vector provides the memory engine's similarity index. Two
// backends implement the same contract: a flat in-process L2 index persisted
// to a data file plus JSON sidecar, and a remote Milvus cosine index. All
// stored vectors are unit-normalized, which makes L2 distance and cosine
// similarity interchangeable: sim = 1 - dist/2 for the flat backend, and
// Milvus's cosine score directly for the remote one.
package vector

import (
	"math"
)

// Result is one search hit, similarity in [0,1]-ish (normalized vectors).
type Result struct {
	ID         string  `json:"id"`
	Similarity float32 `json:"similarity"`
}

// Index is the contract both backends satisfy. Insert is an upsert:
// re-inserting an id tombstones its old slot first.
type Index interface {
	Insert(id string, vec []float32) error
	Delete(id string) error
	// Search returns up to k hits with similarity >= threshold, descending
	// by similarity. Tombstoned slots never appear.
	Search(vec []float32, k int, threshold float32) ([]Result, error)
	Count() int
	// Compact rebuilds the index from live slots and resets the tombstone
	// counter.
	Compact() error
	// Close flushes persistent state.
	Close() error
}

// Normalize returns a unit-length copy of vec. A zero vector is returned
// unchanged.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	if norm == 0 {
		copy(out, vec)
		return out
	}
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// l2Squared is the squared euclidean distance between equal-length vectors.
func l2Squared(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// similarity converts L2 distance between unit vectors to cosine
// similarity: ||a-b||^2 = 2 - 2*cos, so cos = 1 - dist^2/2.
func similarity(l2sq float32) float32 {
	return 1 - l2sq/2
}
