package store

// MemoryCategory classifies what a long-term fact is about.
type MemoryCategory string

const (
	MemoryCategoryIdentity   MemoryCategory = "IDENTITY"
	MemoryCategoryPreference MemoryCategory = "PREFERENCE"
	MemoryCategoryProject    MemoryCategory = "PROJECT"
	MemoryCategorySkill      MemoryCategory = "SKILL"
	MemoryCategoryConstraint MemoryCategory = "CONSTRAINT"
	MemoryCategoryOther      MemoryCategory = "OTHER"
)

// MemoryStability estimates how long a fact stays relevant.
type MemoryStability string

const (
	MemoryStabilityPermanent MemoryStability = "PERMANENT"
	MemoryStabilityDurable   MemoryStability = "DURABLE"
	MemoryStabilityTemporary MemoryStability = "TEMPORARY"
)

// Memory is a durable fact about the user extracted from a chat. Superseded
// memories for a chat are marked Latest=false, never deleted.
type Memory struct {
	ID         string
	CreatorID  int32
	FolderID   string
	ChatID     string
	Config     Config
	Fact       string
	Category   MemoryCategory
	Stability  MemoryStability
	Evidence   []string
	Confidence float64
	Embedding  []float32
	Latest     bool
	CreatedTs  int64
}

// FindMemory specifies the conditions for finding memories.
type FindMemory struct {
	ID        *string
	CreatorID *int32
	ChatID    *string
	Latest    *bool
	// MissingEmbedding restricts to memories without an embedding.
	MissingEmbedding bool
	Limit            int
}

// Summary is a condensed description of a chat, embedded for retrieval.
type Summary struct {
	ID        string
	CreatorID int32
	FolderID  string
	ChatID    string
	Config    Config
	Content   string
	Embedding []float32
	CreatedTs int64
}

// FindSummary specifies the conditions for finding summaries.
type FindSummary struct {
	ID               *string
	CreatorID        *int32
	ChatID           *string
	MissingEmbedding bool
	Limit            int
}
