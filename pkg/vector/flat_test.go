package vector

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, dim int) (*FlatIndex, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vectors.bin")
	idx, err := OpenFlat(path, dim)
	require.NoError(t, err)
	return idx, path
}

func TestInsertAndSelfSearch(t *testing.T) {
	idx, _ := newTestIndex(t, 4)

	require.NoError(t, idx.Insert("a", []float32{1, 0, 0, 0}))
	require.NoError(t, idx.Insert("b", []float32{0, 1, 0, 0}))

	results, err := idx.Search([]float32{1, 0, 0, 0}, 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, float64(results[0].Similarity), 1e-5)
}

func TestNormalizationOnInsert(t *testing.T) {
	idx, _ := newTestIndex(t, 3)

	// Same direction, different magnitude: similarity must still be 1.
	require.NoError(t, idx.Insert("a", []float32{2, 2, 0}))
	results, err := idx.Search([]float32{10, 10, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, float64(results[0].Similarity), 1e-5)
}

func TestDeleteExcludesFromSearch(t *testing.T) {
	idx, _ := newTestIndex(t, 2)

	require.NoError(t, idx.Insert("a", []float32{1, 0}))
	require.NoError(t, idx.Insert("b", []float32{0, 1}))
	require.NoError(t, idx.Delete("a"))

	results, err := idx.Search([]float32{1, 0}, 5, 0)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID)
	}
	assert.Equal(t, 1, idx.Count())
	assert.Equal(t, 1, idx.DeletedCount())
}

func TestUpsertTombstonesOldSlot(t *testing.T) {
	idx, _ := newTestIndex(t, 2)

	require.NoError(t, idx.Insert("a", []float32{1, 0}))
	require.NoError(t, idx.Insert("a", []float32{0, 1}))

	assert.Equal(t, 1, idx.Count())
	assert.Equal(t, 1, idx.DeletedCount())

	results, err := idx.Search([]float32{0, 1}, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, float64(results[0].Similarity), 1e-5)
}

func TestThresholdFilters(t *testing.T) {
	idx, _ := newTestIndex(t, 2)

	require.NoError(t, idx.Insert("near", []float32{1, 0.05}))
	require.NoError(t, idx.Insert("far", []float32{0, 1}))

	results, err := idx.Search([]float32{1, 0}, 5, 0.9)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "near", results[0].ID)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.bin")

	idx, err := OpenFlat(path, 3)
	require.NoError(t, err)
	require.NoError(t, idx.Insert("a", []float32{1, 0, 0}))
	require.NoError(t, idx.Insert("b", []float32{0, 1, 0}))
	require.NoError(t, idx.Delete("b"))
	require.NoError(t, idx.Close())

	reopened, err := OpenFlat(path, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Count())
	assert.Equal(t, 1, reopened.DeletedCount())

	results, err := reopened.Search([]float32{1, 0, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, float64(results[0].Similarity), 1e-5)
}

func TestCompactResetsTombstones(t *testing.T) {
	idx, _ := newTestIndex(t, 2)

	require.NoError(t, idx.Insert("a", []float32{1, 0}))
	require.NoError(t, idx.Insert("b", []float32{0, 1}))
	require.NoError(t, idx.Insert("c", []float32{1, 1}))
	require.NoError(t, idx.Delete("b"))

	require.NoError(t, idx.Compact())
	assert.Equal(t, 2, idx.Count())
	assert.Equal(t, 0, idx.DeletedCount())

	results, err := idx.Search([]float32{1, 0}, 5, 0)
	require.NoError(t, err)
	ids := make(map[string]bool)
	for _, r := range results {
		ids[r.ID] = true
	}
	assert.True(t, ids["a"])
	assert.True(t, ids["c"])
	assert.False(t, ids["b"])
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	var norm float64
	for _, c := range v {
		norm += float64(c) * float64(c)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)

	zero := Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestDimensionMismatch(t *testing.T) {
	idx, _ := newTestIndex(t, 4)
	assert.Error(t, idx.Insert("a", []float32{1, 0}))
	_, err := idx.Search([]float32{1, 0}, 1, 0)
	assert.Error(t, err)
}
