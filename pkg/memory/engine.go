package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
	"github.com/secureyeoman/secureyeoman/pkg/ids"
	"github.com/secureyeoman/secureyeoman/pkg/vector"
)

// Thresholds tune the dedup pipeline. All compare against cosine similarity
// of unit-normalized embeddings.
type Thresholds struct {
	// AutoDedup discards a save whose nearest neighbour is at least this
	// similar.
	AutoDedup float32
	// Flag queues a save for deep consolidation at this similarity.
	Flag float32
	// Replace is the no-AI consolidation fallback cutoff.
	Replace float32
}

// DefaultThresholds returns the standard pipeline settings.
func DefaultThresholds() Thresholds {
	return Thresholds{AutoDedup: 0.95, Flag: 0.85, Replace: 0.90}
}

// Engine owns memory persistence, the vector index, and the on-save quick
// check. The quick-check search-then-insert is not atomic against concurrent
// identical saves; such duplicates are caught by the next deep consolidation.
type Engine struct {
	store      *Store
	index      vector.Index
	embedder   Embedder
	thresholds Thresholds
	logger     *slog.Logger
	now        func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithThresholds overrides the default dedup thresholds.
func WithThresholds(t Thresholds) EngineOption {
	return func(e *Engine) { e.thresholds = t }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires the store, index, and embedder together.
func NewEngine(store *Store, index vector.Index, embedder Embedder, opts ...EngineOption) *Engine {
	e := &Engine{
		store:      store,
		index:      index,
		embedder:   embedder,
		thresholds: DefaultThresholds(),
		logger:     slog.Default().With("component", "memory"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SaveInput is the caller-supplied portion of a memory.
type SaveInput struct {
	PersonalityID string         `json:"personalityId,omitempty"`
	Type          Type           `json:"type"`
	Content       string         `json:"content"`
	Source        string         `json:"source,omitempty"`
	Importance    float64        `json:"importance"`
	ExpiresAt     int64          `json:"expiresAt,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
}

// Save stores the memory, indexes its embedding, and runs the quick check.
// A deduped save leaves no trace: the record and index entry are removed and
// the surviving original is returned.
func (e *Engine) Save(ctx context.Context, in SaveInput) (*SaveResult, error) {
	if in.Content == "" {
		return nil, fault.New(fault.KindInvalidInput, "memory: content required")
	}
	if in.Type == "" {
		in.Type = TypeSemantic
	}
	if !in.Type.Valid() {
		return nil, fault.Errorf(fault.KindInvalidInput, "memory: unknown type %q", in.Type)
	}
	if in.Importance < 0 || in.Importance > 1 {
		return nil, fault.Errorf(fault.KindInvalidInput, "memory: importance %v outside [0,1]", in.Importance)
	}

	embedding, err := e.embedder.Embed(ctx, in.Content)
	if err != nil {
		return nil, err
	}

	now := e.now().UnixMilli()
	m := &Memory{
		ID:            ids.New(),
		PersonalityID: in.PersonalityID,
		Type:          in.Type,
		Content:       in.Content,
		Source:        in.Source,
		Importance:    in.Importance,
		ExpiresAt:     in.ExpiresAt,
		Context:       in.Context,
		Embedding:     vector.Normalize(embedding),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := e.store.InsertMemory(ctx, m); err != nil {
		return nil, err
	}
	if err := e.index.Insert(m.ID, m.Embedding); err != nil {
		// Keep storage and index consistent: no record without an index slot.
		_ = e.store.DeleteMemory(ctx, m.ID)
		return nil, fault.Wrap(fault.KindStorageUnavailable, "memory: index insert", err)
	}

	check, err := e.quickCheck(ctx, m)
	if err != nil {
		e.logger.Warn("quick check failed, keeping save as clean", "id", m.ID, "error", err)
		return &SaveResult{Memory: m, QuickCheck: CheckClean}, nil
	}
	return check, nil
}

// quickCheck searches the new memory's neighbourhood and applies the dedup
// thresholds.
func (e *Engine) quickCheck(ctx context.Context, m *Memory) (*SaveResult, error) {
	// k is 6 so the top-5 existing neighbours survive the self hit.
	hits, err := e.index.Search(m.Embedding, 6, e.thresholds.Flag)
	if err != nil {
		return nil, err
	}

	var nearest *vector.Result
	for i := range hits {
		if hits[i].ID != m.ID {
			nearest = &hits[i]
			break
		}
	}
	if nearest == nil {
		return &SaveResult{Memory: m, QuickCheck: CheckClean}, nil
	}

	if nearest.Similarity >= e.thresholds.AutoDedup {
		original, err := e.store.GetMemory(ctx, nearest.ID)
		if err != nil {
			return nil, err
		}
		if err := e.index.Delete(m.ID); err != nil {
			return nil, err
		}
		if err := e.store.DeleteMemory(ctx, m.ID); err != nil {
			return nil, err
		}
		e.logger.Debug("save deduped", "id", m.ID, "duplicateOf", nearest.ID, "similarity", nearest.Similarity)
		return &SaveResult{
			Memory:     original,
			QuickCheck: CheckDeduped,
			SimilarTo:  nearest.ID,
			Similarity: nearest.Similarity,
		}, nil
	}

	if err := e.store.AddFlagged(ctx, m.ID); err != nil {
		return nil, err
	}
	e.logger.Debug("save flagged for consolidation", "id", m.ID, "similarTo", nearest.ID, "similarity", nearest.Similarity)
	return &SaveResult{
		Memory:     m,
		QuickCheck: CheckFlagged,
		SimilarTo:  nearest.ID,
		Similarity: nearest.Similarity,
	}, nil
}

// Search embeds the query and returns stored memories by descending
// similarity. Hits update access tracking best-effort.
func (e *Engine) Search(ctx context.Context, query string, k int, threshold float32) ([]SearchHit, error) {
	if query == "" {
		return nil, fault.New(fault.KindInvalidInput, "memory: query required")
	}
	if k <= 0 {
		k = 10
	}
	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := e.index.Search(vector.Normalize(embedding), k, threshold)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "memory: index search", err)
	}

	now := e.now().UnixMilli()
	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		m, err := e.store.GetMemory(ctx, r.ID)
		if err != nil {
			if fault.IsKind(err, fault.KindNotFound) {
				// Index can briefly lead storage; skip orphans.
				continue
			}
			return nil, err
		}
		m.AccessCount++
		m.LastAccessedAt = now
		if err := e.store.UpdateMemory(ctx, m); err != nil {
			e.logger.Warn("access tracking update failed", "id", m.ID, "error", err)
		}
		hits = append(hits, SearchHit{Memory: m, Similarity: r.Similarity})
	}
	return hits, nil
}

// UpdatePatch carries partial memory updates; nil fields are untouched. An
// empty patch leaves the record byte-equal.
type UpdatePatch struct {
	Content    *string         `json:"content,omitempty"`
	Type       *Type           `json:"type,omitempty"`
	Importance *float64        `json:"importance,omitempty"`
	ExpiresAt  *int64          `json:"expiresAt,omitempty"`
	Context    *map[string]any `json:"context,omitempty"`
}

func (p UpdatePatch) empty() bool {
	return p.Content == nil && p.Type == nil && p.Importance == nil &&
		p.ExpiresAt == nil && p.Context == nil
}

// Update applies the patch. A content change re-embeds and re-indexes.
func (e *Engine) Update(ctx context.Context, id string, patch UpdatePatch) (*Memory, error) {
	m, err := e.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.empty() {
		return m, nil
	}

	if patch.Type != nil {
		if !patch.Type.Valid() {
			return nil, fault.Errorf(fault.KindInvalidInput, "memory: unknown type %q", *patch.Type)
		}
		m.Type = *patch.Type
	}
	if patch.Importance != nil {
		if *patch.Importance < 0 || *patch.Importance > 1 {
			return nil, fault.Errorf(fault.KindInvalidInput, "memory: importance %v outside [0,1]", *patch.Importance)
		}
		m.Importance = *patch.Importance
	}
	if patch.ExpiresAt != nil {
		m.ExpiresAt = *patch.ExpiresAt
	}
	if patch.Context != nil {
		m.Context = *patch.Context
	}
	if patch.Content != nil && *patch.Content != m.Content {
		if *patch.Content == "" {
			return nil, fault.New(fault.KindInvalidInput, "memory: content required")
		}
		m.Content = *patch.Content
		embedding, err := e.embedder.Embed(ctx, m.Content)
		if err != nil {
			return nil, err
		}
		m.Embedding = vector.Normalize(embedding)
		if err := e.index.Insert(m.ID, m.Embedding); err != nil {
			return nil, fault.Wrap(fault.KindStorageUnavailable, "memory: reindex entry", err)
		}
	}

	m.UpdatedAt = e.now().UnixMilli()
	if err := e.store.UpdateMemory(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns one memory by id.
func (e *Engine) Get(ctx context.Context, id string) (*Memory, error) {
	return e.store.GetMemory(ctx, id)
}

// List returns memories matching the filter, newest first.
func (e *Engine) List(ctx context.Context, f MemoryFilter) ([]*Memory, error) {
	return e.store.ListMemories(ctx, f)
}

// Delete removes the memory, its index entry, and any flagged-set membership.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.store.DeleteMemory(ctx, id); err != nil {
		return err
	}
	if err := e.index.Delete(id); err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "memory: index delete", err)
	}
	return e.store.RemoveFlagged(ctx, []string{id})
}

// SaveKnowledge stores a curated fact. Knowledge skips the dedup pipeline.
func (e *Engine) SaveKnowledge(ctx context.Context, k *Knowledge) (*Knowledge, error) {
	if k.Title == "" || k.Content == "" {
		return nil, fault.New(fault.KindInvalidInput, "memory: knowledge title and content required")
	}
	now := e.now().UnixMilli()
	stored := *k
	stored.ID = ids.New()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if err := e.store.InsertKnowledge(ctx, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// ListKnowledge returns curated facts, newest first.
func (e *Engine) ListKnowledge(ctx context.Context, limit int) ([]*Knowledge, error) {
	return e.store.ListKnowledge(ctx, limit)
}

// Stats reports stored counts, index size, and the flagged backlog.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	total, byType, err := e.store.CountMemories(ctx)
	if err != nil {
		return nil, err
	}
	knowledge, err := e.store.CountKnowledge(ctx)
	if err != nil {
		return nil, err
	}
	flagged, err := e.store.FlaggedIDs(ctx)
	if err != nil {
		return nil, err
	}
	s := &Stats{
		TotalMemories:  total,
		ByType:         byType,
		TotalKnowledge: knowledge,
		IndexSize:      e.index.Count(),
		FlaggedCount:   len(flagged),
	}
	if flat, ok := e.index.(*vector.FlatIndex); ok {
		s.IndexDeleted = flat.DeletedCount()
	}
	return s, nil
}

// Reindex rebuilds the vector index from stored embeddings and compacts it.
// Memories without an embedding are re-embedded.
func (e *Engine) Reindex(ctx context.Context) (int, error) {
	memories, err := e.store.ListMemories(ctx, MemoryFilter{})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, m := range memories {
		if len(m.Embedding) == 0 {
			embedding, err := e.embedder.Embed(ctx, m.Content)
			if err != nil {
				e.logger.Warn("reindex embed failed", "id", m.ID, "error", err)
				continue
			}
			m.Embedding = vector.Normalize(embedding)
			if err := e.store.UpdateMemory(ctx, m); err != nil {
				return count, err
			}
		}
		if err := e.index.Insert(m.ID, m.Embedding); err != nil {
			return count, fault.Wrap(fault.KindStorageUnavailable, "memory: reindex insert", err)
		}
		count++
	}
	if err := e.index.Compact(); err != nil {
		return count, fault.Wrap(fault.KindStorageUnavailable, "memory: compact", err)
	}
	return count, nil
}
