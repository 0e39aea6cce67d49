package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/tinychat/tinychat/store"
)

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	config, err := marshalJSON(create.Config)
	if err != nil {
		return nil, err
	}
	data, err := marshalJSON(create.Data)
	if err != nil {
		return nil, err
	}
	var metadata any
	if create.Metadata != nil {
		if metadata, err = marshalJSON(create.Metadata); err != nil {
			return nil, err
		}
	}

	stmt := `
		INSERT INTO message (id, chat_id, folder_id, creator_id, author, config, data, metadata, previous_id, embedding, created_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if _, err := d.conn().ExecContext(ctx, stmt,
		create.ID, create.ChatID, create.FolderID, create.CreatorID, create.Author,
		config, data, metadata, create.PreviousID, vectorValue(create.Embedding), create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create message")
	}
	return create, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("message.id = %s", placeholder(len(args))))
	}
	if len(find.IDs) > 0 {
		list := make([]string, len(find.IDs))
		for i, id := range find.IDs {
			args = append(args, id)
			list[i] = placeholder(len(args))
		}
		where = append(where, "message.id IN ("+joinComma(list)+")")
	}
	if v := find.ChatID; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("message.chat_id = %s", placeholder(len(args))))
	}
	if v := find.FolderID; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("message.folder_id = %s", placeholder(len(args))))
	}
	if v := find.CreatorID; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("message.creator_id = %s", placeholder(len(args))))
	}
	if find.MissingEmbedding {
		where = append(where, "message.embedding IS NULL")
		where = append(where, "NOT EXISTS (SELECT 1 FROM chat WHERE chat.id = message.chat_id AND chat.temporary)")
	}

	// Metadata can be large; omit it from list reads unless asked for.
	metadataColumn := "NULL"
	if find.WithMetadata {
		metadataColumn = "message.metadata"
	}

	query := `
		SELECT message.id, message.chat_id, message.folder_id, message.creator_id, message.author,
			message.config, message.data, ` + metadataColumn + `, message.previous_id, message.embedding, message.created_ts
		FROM message
		WHERE ` + joinAnd(where) + `
		ORDER BY message.created_ts ASC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT " + placeholder(len(args))
	}

	rows, err := d.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	messages := []*store.Message{}
	for rows.Next() {
		var message store.Message
		var config, data string
		var metadata, previousID sql.NullString
		var embedding nullVector
		if err := rows.Scan(
			&message.ID, &message.ChatID, &message.FolderID, &message.CreatorID, &message.Author,
			&config, &data, &metadata, &previousID, &embedding, &message.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		if err := unmarshalConfig(config, &message.Config); err != nil {
			return nil, err
		}
		if err := unmarshalData(data, &message.Data); err != nil {
			return nil, err
		}
		if metadata.Valid && metadata.String != "" {
			message.Metadata = &store.Metadata{}
			if err := json.Unmarshal([]byte(metadata.String), message.Metadata); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal metadata")
			}
		}
		if previousID.Valid {
			message.PreviousID = &previousID.String
		}
		message.Embedding = embedding.slice()
		messages = append(messages, &message)
	}
	return messages, rows.Err()
}

func (d *DB) UpdateMessage(ctx context.Context, update *store.UpdateMessage) error {
	set, args := []string{}, []any{}
	if v := update.Author; v != nil {
		args = append(args, *v)
		set = append(set, fmt.Sprintf("author = %s", placeholder(len(args))))
	}
	if v := update.Config; v != nil {
		config, err := marshalJSON(*v)
		if err != nil {
			return err
		}
		args = append(args, config)
		set = append(set, fmt.Sprintf("config = %s", placeholder(len(args))))
	}
	if update.Data != nil {
		data, err := marshalJSON(update.Data)
		if err != nil {
			return err
		}
		args = append(args, data)
		set = append(set, fmt.Sprintf("data = %s", placeholder(len(args))))
	}
	if v := update.Metadata; v != nil {
		metadata, err := marshalJSON(*v)
		if err != nil {
			return err
		}
		args = append(args, metadata)
		set = append(set, fmt.Sprintf("metadata = %s", placeholder(len(args))))
	}
	if v := update.CreatedTs; v != nil {
		args = append(args, *v)
		set = append(set, fmt.Sprintf("created_ts = %s", placeholder(len(args))))
	}
	if len(set) == 0 {
		return nil
	}
	args = append(args, update.ID)
	stmt := `UPDATE message SET ` + joinComma(set) + ` WHERE id = ` + placeholder(len(args))
	_, err := d.conn().ExecContext(ctx, stmt, args...)
	return errors.Wrap(err, "failed to update message")
}

func (d *DB) DeleteMessages(ctx context.Context, delete *store.DeleteMessage) error {
	if v := delete.ChatID; v != nil {
		_, err := d.conn().ExecContext(ctx, `DELETE FROM message WHERE chat_id = $1`, *v)
		return errors.Wrap(err, "failed to delete chat messages")
	}
	if len(delete.IDs) == 0 {
		return nil
	}
	args := make([]any, len(delete.IDs))
	for i, id := range delete.IDs {
		args[i] = id
	}
	_, err := d.conn().ExecContext(ctx, `DELETE FROM message WHERE id IN (`+placeholders(len(delete.IDs))+`)`, args...)
	return errors.Wrap(err, "failed to delete messages")
}

func (d *DB) RelinkMessages(ctx context.Context, relink *store.RelinkMessages) error {
	args := []any{relink.NewPreviousID, relink.ChatID}
	where := []string{"chat_id = $2"}
	if relink.PreviousID == nil {
		where = append(where, "previous_id IS NULL")
	} else {
		args = append(args, *relink.PreviousID)
		where = append(where, fmt.Sprintf("previous_id = %s", placeholder(len(args))))
	}
	if relink.ExcludeID != nil {
		args = append(args, *relink.ExcludeID)
		where = append(where, fmt.Sprintf("id != %s", placeholder(len(args))))
	}
	_, err := d.conn().ExecContext(ctx, `UPDATE message SET previous_id = $1 WHERE `+joinAnd(where), args...)
	return errors.Wrap(err, "failed to relink messages")
}

func (d *DB) UpdateMessageEmbedding(ctx context.Context, id string, embedding []float32) error {
	_, err := d.conn().ExecContext(ctx, `UPDATE message SET embedding = $1 WHERE id = $2`, vectorValue(embedding), id)
	return errors.Wrap(err, "failed to update message embedding")
}
