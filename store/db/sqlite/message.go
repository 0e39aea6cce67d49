package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

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
	embedding, err := marshalEmbedding(create.Embedding)
	if err != nil {
		return nil, err
	}

	stmt := `
		INSERT INTO message (id, chat_id, folder_id, creator_id, author, config, data, metadata, previous_id, embedding, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := d.conn().ExecContext(ctx, stmt,
		create.ID, create.ChatID, create.FolderID, create.CreatorID, create.Author,
		config, data, metadata, create.PreviousID, embedding, create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create message")
	}
	return create, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "message.id = ?"), append(args, *v)
	}
	if len(find.IDs) > 0 {
		where = append(where, "message.id IN ("+placeholders(len(find.IDs))+")")
		for _, id := range find.IDs {
			args = append(args, id)
		}
	}
	if v := find.ChatID; v != nil {
		where, args = append(where, "message.chat_id = ?"), append(args, *v)
	}
	if v := find.FolderID; v != nil {
		where, args = append(where, "message.folder_id = ?"), append(args, *v)
	}
	if v := find.CreatorID; v != nil {
		where, args = append(where, "message.creator_id = ?"), append(args, *v)
	}
	if find.MissingEmbedding {
		where = append(where, "message.embedding IS NULL")
		where = append(where, "NOT EXISTS (SELECT 1 FROM chat WHERE chat.id = message.chat_id AND chat.temporary = 1)")
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
		query += " LIMIT ?"
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
		var metadata, previousID, embedding sql.NullString
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
		if message.Embedding, err = unmarshalEmbedding(embedding); err != nil {
			return nil, err
		}
		messages = append(messages, &message)
	}
	return messages, rows.Err()
}

func (d *DB) UpdateMessage(ctx context.Context, update *store.UpdateMessage) error {
	set, args := []string{}, []any{}
	if v := update.Author; v != nil {
		set, args = append(set, "author = ?"), append(args, *v)
	}
	if v := update.Config; v != nil {
		config, err := marshalJSON(*v)
		if err != nil {
			return err
		}
		set, args = append(set, "config = ?"), append(args, config)
	}
	if update.Data != nil {
		data, err := marshalJSON(update.Data)
		if err != nil {
			return err
		}
		set, args = append(set, "data = ?"), append(args, data)
	}
	if v := update.Metadata; v != nil {
		metadata, err := marshalJSON(*v)
		if err != nil {
			return err
		}
		set, args = append(set, "metadata = ?"), append(args, metadata)
	}
	if v := update.CreatedTs; v != nil {
		set, args = append(set, "created_ts = ?"), append(args, *v)
	}
	if len(set) == 0 {
		return nil
	}
	args = append(args, update.ID)
	_, err := d.conn().ExecContext(ctx, `UPDATE message SET `+joinComma(set)+` WHERE id = ?`, args...)
	return errors.Wrap(err, "failed to update message")
}

func (d *DB) DeleteMessages(ctx context.Context, delete *store.DeleteMessage) error {
	if v := delete.ChatID; v != nil {
		_, err := d.conn().ExecContext(ctx, `DELETE FROM message WHERE chat_id = ?`, *v)
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
	where, args := []string{"chat_id = ?"}, []any{relink.NewPreviousID, relink.ChatID}
	if relink.PreviousID == nil {
		where = append(where, "previous_id IS NULL")
	} else {
		where, args = append(where, "previous_id = ?"), append(args, *relink.PreviousID)
	}
	if relink.ExcludeID != nil {
		where, args = append(where, "id != ?"), append(args, *relink.ExcludeID)
	}
	_, err := d.conn().ExecContext(ctx, `UPDATE message SET previous_id = ? WHERE `+joinAnd(where), args...)
	return errors.Wrap(err, "failed to relink messages")
}

func (d *DB) UpdateMessageEmbedding(ctx context.Context, id string, embedding []float32) error {
	value, err := marshalEmbedding(embedding)
	if err != nil {
		return err
	}
	_, err = d.conn().ExecContext(ctx, `UPDATE message SET embedding = ? WHERE id = ?`, value, id)
	return errors.Wrap(err, "failed to update message embedding")
}
