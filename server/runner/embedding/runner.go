// Package embedding backfills missing embedding vectors for messages,
// summaries, and memories in the background. Work happens in bounded batches
// with a fixed inter-batch delay to respect upstream rate limits; messages
// in temporary chats are never embedded.
package embedding

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/tinychat/tinychat/plugin/ai"
	"github.com/tinychat/tinychat/store"
)

const (
	defaultBatchSize = 100
	defaultInterval  = time.Minute
	// maxEmbedRunes bounds the text sent per item.
	maxEmbedRunes = 8000
)

// Runner is the background embedding backfill job.
type Runner struct {
	store     *store.Store
	model     ai.ModelService
	interval  time.Duration
	batchSize int
	limiter   *rate.Limiter
}

// NewRunner creates an embedding runner with one batch per second pacing.
func NewRunner(st *store.Store, model ai.ModelService) *Runner {
	return &Runner{
		store:     st,
		model:     model,
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Run starts the backfill loop: once at startup, then on every tick.
func (r *Runner) Run(ctx context.Context) {
	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-ctx.Done():
			slog.Info("embedding runner stopped")
			return
		}
	}
}

// RunOnce drains the missing-embedding backlog across all item kinds.
func (r *Runner) RunOnce(ctx context.Context) {
	r.backfillMessages(ctx)
	r.backfillSummaries(ctx)
	r.backfillMemories(ctx)
}

// Reset nulls every stored vector for a user; used when the embedding model
// configuration changes and old vectors become incomparable. The next run
// regenerates them.
func (r *Runner) Reset(ctx context.Context, creatorID int32) error {
	if err := r.store.ResetEmbeddings(ctx, creatorID); err != nil {
		return err
	}
	slog.Info("embeddings reset", "creator_id", creatorID)
	return nil
}

func (r *Runner) backfillMessages(ctx context.Context) {
	for {
		messages, err := r.store.ListMessages(ctx, &store.FindMessage{
			MissingEmbedding: true,
			Limit:            r.batchSize,
		})
		if err != nil {
			slog.Error("failed to list messages missing embeddings", "error", err)
			return
		}
		if len(messages) == 0 {
			return
		}

		ids := make([]string, len(messages))
		texts := make([]string, len(messages))
		for i, m := range messages {
			ids[i] = m.ID
			texts[i] = store.ScrubText(store.ExtractText(m.Data), maxEmbedRunes)
		}
		if !r.embedBatch(ctx, "message", ids, texts, r.store.UpdateMessageEmbedding) {
			return
		}
		if len(messages) < r.batchSize {
			return
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
	}
}

func (r *Runner) backfillSummaries(ctx context.Context) {
	for {
		summaries, err := r.store.ListSummaries(ctx, &store.FindSummary{
			MissingEmbedding: true,
			Limit:            r.batchSize,
		})
		if err != nil {
			slog.Error("failed to list summaries missing embeddings", "error", err)
			return
		}
		if len(summaries) == 0 {
			return
		}

		ids := make([]string, len(summaries))
		texts := make([]string, len(summaries))
		for i, s := range summaries {
			ids[i] = s.ID
			texts[i] = store.ScrubText(s.Content, maxEmbedRunes)
		}
		if !r.embedBatch(ctx, "summary", ids, texts, r.store.UpdateSummaryEmbedding) {
			return
		}
		if len(summaries) < r.batchSize {
			return
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
	}
}

func (r *Runner) backfillMemories(ctx context.Context) {
	for {
		memories, err := r.store.ListMemories(ctx, &store.FindMemory{
			MissingEmbedding: true,
			Limit:            r.batchSize,
		})
		if err != nil {
			slog.Error("failed to list memories missing embeddings", "error", err)
			return
		}
		if len(memories) == 0 {
			return
		}

		ids := make([]string, len(memories))
		texts := make([]string, len(memories))
		for i, m := range memories {
			ids[i] = m.ID
			texts[i] = store.ScrubText(m.Fact, maxEmbedRunes)
		}
		if !r.embedBatch(ctx, "memory", ids, texts, r.store.UpdateMemoryEmbedding) {
			return
		}
		if len(memories) < r.batchSize {
			return
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
	}
}

// embedBatch embeds the non-empty texts of one batch and stores the vectors.
// Items with no embeddable text get an empty (non-null) vector so they are
// not picked up again on the next pass. Returns false when the batch failed
// and the loop should back off until the next tick.
func (r *Runner) embedBatch(ctx context.Context, kind string, ids, texts []string, save func(context.Context, string, []float32) error) bool {
	pendingIdx := []int{}
	pendingTexts := []string{}
	for i, text := range texts {
		if text == "" {
			if err := save(ctx, ids[i], []float32{}); err != nil {
				slog.Error("failed to store empty embedding", "kind", kind, "id", ids[i], "error", err)
			}
			continue
		}
		pendingIdx = append(pendingIdx, i)
		pendingTexts = append(pendingTexts, text)
	}
	if len(pendingTexts) == 0 {
		return true
	}

	vectors, err := r.model.Embed(ctx, pendingTexts)
	if err != nil || len(vectors) != len(pendingTexts) {
		slog.Error("embedding batch failed", "kind", kind, "count", len(pendingTexts), "error", err)
		return false
	}
	for j, i := range pendingIdx {
		if err := save(ctx, ids[i], vectors[j]); err != nil {
			slog.Error("failed to store embedding", "kind", kind, "id", ids[i], "error", err)
		}
	}
	slog.Info("embedding batch processed", "kind", kind, "count", len(pendingTexts))
	return true
}
