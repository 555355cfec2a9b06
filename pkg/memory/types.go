// Package memory implements the long-term memory engine: SQL-backed memory
// and knowledge records, a pluggable vector index, a per-save dedup quick
// check, and scheduled deep consolidation.
package memory

// Type classifies a memory record.
type Type string

const (
	TypeSemantic   Type = "semantic"
	TypeEpisodic   Type = "episodic"
	TypeProcedural Type = "procedural"
	TypeWorking    Type = "working"
)

// Valid reports whether t is one of the defined memory types.
func (t Type) Valid() bool {
	switch t {
	case TypeSemantic, TypeEpisodic, TypeProcedural, TypeWorking:
		return true
	}
	return false
}

// Memory is one long-term memory record. Embedding, when present, is also
// registered in the vector index under the memory id.
type Memory struct {
	ID             string         `json:"id"`
	PersonalityID  string         `json:"personalityId,omitempty"`
	Type           Type           `json:"type"`
	Content        string         `json:"content"`
	Source         string         `json:"source,omitempty"`
	Importance     float64        `json:"importance"`
	AccessCount    int64          `json:"accessCount"`
	LastAccessedAt int64          `json:"lastAccessedAt,omitempty"`
	ExpiresAt      int64          `json:"expiresAt,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	Embedding      []float32      `json:"embedding,omitempty"`
	CreatedAt      int64          `json:"createdAt"`
	UpdatedAt      int64          `json:"updatedAt"`
}

// Knowledge is a curated fact outside the dedup pipeline.
type Knowledge struct {
	ID        string         `json:"id"`
	Category  string         `json:"category,omitempty"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Source    string         `json:"source,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt int64          `json:"createdAt"`
	UpdatedAt int64          `json:"updatedAt"`
}

// QuickCheck is the outcome of the on-save dedup pass.
type QuickCheck string

const (
	// CheckClean means no stored memory was similar enough to matter.
	CheckClean QuickCheck = "clean"
	// CheckFlagged means a near-duplicate exists; the id joins the
	// persisted flagged set for the next deep consolidation.
	CheckFlagged QuickCheck = "flagged"
	// CheckDeduped means the save was discarded as a duplicate of an
	// existing memory.
	CheckDeduped QuickCheck = "deduped"
)

// SaveResult pairs the stored (or discarded) memory with its quick-check
// outcome. On dedup, Memory is the surviving original.
type SaveResult struct {
	Memory     *Memory    `json:"memory"`
	QuickCheck QuickCheck `json:"quickCheck"`
	// SimilarTo is the nearest existing memory id when the check was not
	// clean.
	SimilarTo  string  `json:"similarTo,omitempty"`
	Similarity float32 `json:"similarity,omitempty"`
}

// Stats summarizes the engine's stored state.
type Stats struct {
	TotalMemories  int            `json:"totalMemories"`
	ByType         map[Type]int   `json:"byType"`
	TotalKnowledge int            `json:"totalKnowledge"`
	IndexSize      int            `json:"indexSize"`
	IndexDeleted   int            `json:"indexDeleted,omitempty"`
	FlaggedCount   int            `json:"flaggedCount"`
}

// SearchHit is one similarity-search result joined with its record.
type SearchHit struct {
	Memory     *Memory `json:"memory"`
	Similarity float32 `json:"similarity"`
}
