// Package memory manages long-term facts and chat summaries: batch creation
// with supersession, and relevance-ranked retrieval for generation context.
package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"

	errs "github.com/tinychat/tinychat/internal/errors"
	"github.com/tinychat/tinychat/plugin/ai/rank"
	"github.com/tinychat/tinychat/store"
)

// Service persists and retrieves memories and summaries.
type Service struct {
	store *store.Store
}

// NewService creates a memory service.
func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// Fact is one extracted statement to persist.
type Fact struct {
	Fact       string                `json:"fact"`
	Category   store.MemoryCategory  `json:"category"`
	Stability  store.MemoryStability `json:"stability"`
	Evidence   []string              `json:"evidence,omitempty"`
	Confidence float64               `json:"confidence"`
}

// CreateBatch replaces a chat's memories with a fresh extraction: every
// prior memory of the chat is marked superseded (latest=false, never
// deleted) and the new facts are stored as the latest set. Embeddings are
// filled in later by the backfill runner.
func (s *Service) CreateBatch(ctx context.Context, creatorID int32, chatID string, config store.Config, facts []Fact) ([]*store.Memory, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, errs.NotFound("chat %s not found", chatID)
	}
	if chat.Temporary {
		return nil, errs.InvalidState("temporary chat %s is excluded from memory extraction", chatID)
	}

	created := make([]*store.Memory, 0, len(facts))
	err = s.store.InTransaction(ctx, func(tx *store.Store) error {
		if err := tx.MarkMemoriesSuperseded(ctx, chatID); err != nil {
			return err
		}
		now := time.Now().Unix()
		for _, fact := range facts {
			memory, err := tx.CreateMemory(ctx, &store.Memory{
				ID:         shortuuid.New(),
				CreatorID:  creatorID,
				FolderID:   chat.FolderID,
				ChatID:     chatID,
				Config:     config,
				Fact:       fact.Fact,
				Category:   fact.Category,
				Stability:  fact.Stability,
				Evidence:   fact.Evidence,
				Confidence: fact.Confidence,
				Latest:     true,
				CreatedTs:  now,
			})
			if err != nil {
				return err
			}
			created = append(created, memory)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("memory batch created", "chat_id", chatID, "count", len(created))
	return created, nil
}

// CreateSummary stores a condensed description of a chat.
func (s *Service) CreateSummary(ctx context.Context, creatorID int32, chatID string, config store.Config, content string) (*store.Summary, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, errs.NotFound("chat %s not found", chatID)
	}
	return s.store.CreateSummary(ctx, &store.Summary{
		ID:        shortuuid.New(),
		CreatorID: creatorID,
		FolderID:  chat.FolderID,
		ChatID:    chatID,
		Config:    config,
		Content:   content,
		CreatedTs: time.Now().Unix(),
	})
}

// ListLatest returns the current (non-superseded) memories of a user.
func (s *Service) ListLatest(ctx context.Context, creatorID int32) ([]*store.Memory, error) {
	latest := true
	return s.store.ListMemories(ctx, &store.FindMemory{CreatorID: &creatorID, Latest: &latest})
}

// ListRelevant ranks the user's latest embedded memories against a query
// vector and returns a small diverse subset. Memories without an embedding
// yet are skipped.
func (s *Service) ListRelevant(ctx context.Context, creatorID int32, query []float32, opts rank.Options) ([]*store.Memory, error) {
	memories, err := s.ListLatest(ctx, creatorID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*store.Memory, len(memories))
	candidates := make([]rank.Candidate, 0, len(memories))
	for _, memory := range memories {
		if memory.Embedding == nil {
			continue
		}
		byID[memory.ID] = memory
		candidates = append(candidates, rank.Candidate{
			ID:        memory.ID,
			Value:     memory.Fact,
			Embedding: memory.Embedding,
		})
	}

	chosen := rank.MostRelevant(query, candidates, opts)
	result := make([]*store.Memory, 0, len(chosen))
	for _, c := range chosen {
		result = append(result, byID[c.ID])
	}
	return result, nil
}
