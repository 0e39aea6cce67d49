package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/tinychat/tinychat/store"
)

func (d *DB) CreateMemory(ctx context.Context, create *store.Memory) (*store.Memory, error) {
	config, err := marshalJSON(create.Config)
	if err != nil {
		return nil, err
	}
	evidence, err := marshalJSON(create.Evidence)
	if err != nil {
		return nil, err
	}

	stmt := `
		INSERT INTO memory (id, creator_id, folder_id, chat_id, config, fact, category, stability, evidence, confidence, embedding, latest, created_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	if _, err := d.conn().ExecContext(ctx, stmt,
		create.ID, create.CreatorID, create.FolderID, create.ChatID, config,
		create.Fact, create.Category, create.Stability, evidence, create.Confidence,
		vectorValue(create.Embedding), create.Latest, create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create memory")
	}
	return create, nil
}

func (d *DB) ListMemories(ctx context.Context, find *store.FindMemory) ([]*store.Memory, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("id = %s", placeholder(len(args))))
	}
	if v := find.CreatorID; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("creator_id = %s", placeholder(len(args))))
	}
	if v := find.ChatID; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("chat_id = %s", placeholder(len(args))))
	}
	if v := find.Latest; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("latest = %s", placeholder(len(args))))
	}
	if find.MissingEmbedding {
		where = append(where, "embedding IS NULL")
	}

	query := `
		SELECT id, creator_id, folder_id, chat_id, config, fact, category, stability, evidence, confidence, embedding, latest, created_ts
		FROM memory
		WHERE ` + joinAnd(where) + `
		ORDER BY created_ts DESC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT " + placeholder(len(args))
	}

	rows, err := d.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memories")
	}
	defer rows.Close()

	memories := []*store.Memory{}
	for rows.Next() {
		var memory store.Memory
		var config, evidence string
		var embedding nullVector
		if err := rows.Scan(
			&memory.ID, &memory.CreatorID, &memory.FolderID, &memory.ChatID, &config,
			&memory.Fact, &memory.Category, &memory.Stability, &evidence, &memory.Confidence,
			&embedding, &memory.Latest, &memory.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan memory")
		}
		if err := unmarshalConfig(config, &memory.Config); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(evidence), &memory.Evidence); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal evidence")
		}
		memory.Embedding = embedding.slice()
		memories = append(memories, &memory)
	}
	return memories, rows.Err()
}

// MarkMemoriesSuperseded flips latest off for every memory of a chat. Rows
// are never deleted so history is preserved.
func (d *DB) MarkMemoriesSuperseded(ctx context.Context, chatID string) error {
	_, err := d.conn().ExecContext(ctx, `UPDATE memory SET latest = FALSE WHERE chat_id = $1`, chatID)
	return errors.Wrap(err, "failed to mark memories superseded")
}

func (d *DB) UpdateMemoryEmbedding(ctx context.Context, id string, embedding []float32) error {
	_, err := d.conn().ExecContext(ctx, `UPDATE memory SET embedding = $1 WHERE id = $2`, vectorValue(embedding), id)
	return errors.Wrap(err, "failed to update memory embedding")
}

func (d *DB) CreateSummary(ctx context.Context, create *store.Summary) (*store.Summary, error) {
	config, err := marshalJSON(create.Config)
	if err != nil {
		return nil, err
	}

	stmt := `
		INSERT INTO summary (id, creator_id, folder_id, chat_id, config, content, embedding, created_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := d.conn().ExecContext(ctx, stmt,
		create.ID, create.CreatorID, create.FolderID, create.ChatID, config,
		create.Content, vectorValue(create.Embedding), create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create summary")
	}
	return create, nil
}

func (d *DB) ListSummaries(ctx context.Context, find *store.FindSummary) ([]*store.Summary, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("id = %s", placeholder(len(args))))
	}
	if v := find.CreatorID; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("creator_id = %s", placeholder(len(args))))
	}
	if v := find.ChatID; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("chat_id = %s", placeholder(len(args))))
	}
	if find.MissingEmbedding {
		where = append(where, "embedding IS NULL")
	}

	query := `
		SELECT id, creator_id, folder_id, chat_id, config, content, embedding, created_ts
		FROM summary
		WHERE ` + joinAnd(where) + `
		ORDER BY created_ts DESC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT " + placeholder(len(args))
	}

	rows, err := d.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list summaries")
	}
	defer rows.Close()

	summaries := []*store.Summary{}
	for rows.Next() {
		var summary store.Summary
		var config string
		var embedding nullVector
		if err := rows.Scan(
			&summary.ID, &summary.CreatorID, &summary.FolderID, &summary.ChatID, &config,
			&summary.Content, &embedding, &summary.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan summary")
		}
		if err := unmarshalConfig(config, &summary.Config); err != nil {
			return nil, err
		}
		summary.Embedding = embedding.slice()
		summaries = append(summaries, &summary)
	}
	return summaries, rows.Err()
}

func (d *DB) UpdateSummaryEmbedding(ctx context.Context, id string, embedding []float32) error {
	_, err := d.conn().ExecContext(ctx, `UPDATE summary SET embedding = $1 WHERE id = $2`, vectorValue(embedding), id)
	return errors.Wrap(err, "failed to update summary embedding")
}

// ResetEmbeddings nulls all stored vectors for a user after an embedding
// model change; the backfill runner regenerates them.
func (d *DB) ResetEmbeddings(ctx context.Context, creatorID int32) error {
	for _, table := range []string{"message", "summary", "memory"} {
		if _, err := d.conn().ExecContext(ctx, `UPDATE `+table+` SET embedding = NULL WHERE creator_id = $1`, creatorID); err != nil {
			return errors.Wrapf(err, "failed to reset %s embeddings", table)
		}
	}
	return nil
}
