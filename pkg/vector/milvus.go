package vector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const milvusVectorField = "embedding"

// MilvusIndex is the remote backend: a Milvus collection with a varchar
// primary key and a cosine-indexed float vector field. Vectors are
// normalized before upsert, so cosine scores line up with the flat
// backend's similarities.
type MilvusIndex struct {
	mu         sync.Mutex
	c          client.Client
	collection string
	dim        int
	count      int
}

// OpenMilvus connects to addr and ensures the collection exists and is
// loaded.
func OpenMilvus(ctx context.Context, addr, collection string, dim int) (*MilvusIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vector: dimension must be positive, got %d", dim)
	}
	c, err := client.NewClient(ctx, client.Config{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("vector: connect milvus: %w", err)
	}

	idx := &MilvusIndex{c: c, collection: collection, dim: dim}
	if err := idx.ensureCollection(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return idx, nil
}

func (m *MilvusIndex) ensureCollection(ctx context.Context) error {
	has, err := m.c.HasCollection(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("vector: check collection: %w", err)
	}
	if !has {
		schema := entity.NewSchema().
			WithName(m.collection).
			WithField(entity.NewField().
				WithName("id").
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(64).
				WithIsPrimaryKey(true)).
			WithField(entity.NewField().
				WithName(milvusVectorField).
				WithDataType(entity.FieldTypeFloatVector).
				WithDim(int64(m.dim)))
		if err := m.c.CreateCollection(ctx, schema, 1); err != nil {
			return fmt.Errorf("vector: create collection: %w", err)
		}
		flat, err := entity.NewIndexFlat(entity.COSINE)
		if err != nil {
			return fmt.Errorf("vector: build index spec: %w", err)
		}
		if err := m.c.CreateIndex(ctx, m.collection, milvusVectorField, flat, false); err != nil {
			return fmt.Errorf("vector: create index: %w", err)
		}
	}
	if err := m.c.LoadCollection(ctx, m.collection, false); err != nil {
		return fmt.Errorf("vector: load collection: %w", err)
	}

	stats, err := m.c.GetCollectionStatistics(ctx, m.collection)
	if err == nil {
		if raw, ok := stats["row_count"]; ok {
			fmt.Sscanf(raw, "%d", &m.count)
		}
	}
	return nil
}

func (m *MilvusIndex) Insert(id string, vec []float32) error {
	if len(vec) != m.dim {
		return fmt.Errorf("vector: got %d dimensions, index is %d", len(vec), m.dim)
	}
	ctx := context.Background()
	normalized := Normalize(vec)

	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.c.Upsert(ctx, m.collection, "",
		entity.NewColumnVarChar("id", []string{id}),
		entity.NewColumnFloatVector(milvusVectorField, m.dim, [][]float32{normalized}),
	)
	if err != nil {
		return fmt.Errorf("vector: milvus upsert: %w", err)
	}
	m.count++
	return nil
}

func (m *MilvusIndex) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	expr := fmt.Sprintf(`id in ["%s"]`, escapeMilvusID(id))
	if err := m.c.Delete(context.Background(), m.collection, "", expr); err != nil {
		return fmt.Errorf("vector: milvus delete: %w", err)
	}
	if m.count > 0 {
		m.count--
	}
	return nil
}

func (m *MilvusIndex) Search(vec []float32, k int, threshold float32) ([]Result, error) {
	if len(vec) != m.dim {
		return nil, fmt.Errorf("vector: got %d dimensions, index is %d", len(vec), m.dim)
	}
	if k <= 0 {
		k = 10
	}
	sp, err := entity.NewIndexFlatSearchParam()
	if err != nil {
		return nil, fmt.Errorf("vector: search params: %w", err)
	}

	res, err := m.c.Search(context.Background(), m.collection, nil, "",
		[]string{"id"},
		[]entity.Vector{entity.FloatVector(Normalize(vec))},
		milvusVectorField, entity.COSINE, k, sp,
	)
	if err != nil {
		return nil, fmt.Errorf("vector: milvus search: %w", err)
	}

	var out []Result
	for _, rs := range res {
		idCol, ok := rs.IDs.(*entity.ColumnVarChar)
		if !ok {
			continue
		}
		for i := 0; i < rs.ResultCount; i++ {
			id, err := idCol.ValueByIdx(i)
			if err != nil {
				continue
			}
			sim := rs.Scores[i]
			if sim < threshold {
				continue
			}
			out = append(out, Result{ID: id, Similarity: sim})
		}
	}
	return out, nil
}

func (m *MilvusIndex) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Compact asks Milvus to merge segments; tombstone bookkeeping is the
// server's job for this backend.
func (m *MilvusIndex) Compact() error {
	_, err := m.c.ManualCompaction(context.Background(), m.collection, 0)
	if err != nil {
		return fmt.Errorf("vector: milvus compact: %w", err)
	}
	return nil
}

func (m *MilvusIndex) Close() error {
	return m.c.Close()
}

// escapeMilvusID keeps quoted ids safe inside delete expressions. IDs are
// UUIDs in practice; this guards against anything else reaching here.
func escapeMilvusID(id string) string {
	return strings.NewReplacer(`\`, ``, `"`, ``).Replace(id)
}
