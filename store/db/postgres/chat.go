package postgres

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/tinychat/tinychat/store"
)

func (d *DB) CreateFolder(ctx context.Context, create *store.Folder) (*store.Folder, error) {
	stmt := `INSERT INTO folder (id, creator_id, title, created_ts) VALUES ($1, $2, $3, $4)`
	if _, err := d.conn().ExecContext(ctx, stmt, create.ID, create.CreatorID, create.Title, create.CreatedTs); err != nil {
		return nil, errors.Wrap(err, "failed to create folder")
	}
	return create, nil
}

func (d *DB) ListFolders(ctx context.Context, find *store.FindFolder) ([]*store.Folder, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("id = %s", placeholder(len(args))))
	}
	if v := find.CreatorID; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("creator_id = %s", placeholder(len(args))))
	}
	if find.ExcludeTemporary {
		where = append(where, "EXISTS (SELECT 1 FROM chat WHERE chat.folder_id = folder.id AND NOT chat.temporary)")
	}

	query := `SELECT id, creator_id, title, created_ts FROM folder WHERE ` + joinAnd(where) + ` ORDER BY created_ts DESC`
	rows, err := d.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list folders")
	}
	defer rows.Close()

	folders := []*store.Folder{}
	for rows.Next() {
		var folder store.Folder
		if err := rows.Scan(&folder.ID, &folder.CreatorID, &folder.Title, &folder.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan folder")
		}
		folders = append(folders, &folder)
	}
	return folders, rows.Err()
}

func (d *DB) UpdateFolder(ctx context.Context, update *store.UpdateFolder) error {
	if update.Title == nil {
		return nil
	}
	_, err := d.conn().ExecContext(ctx, `UPDATE folder SET title = $1 WHERE id = $2`, *update.Title, update.ID)
	return errors.Wrap(err, "failed to update folder")
}

// DeleteFolder cascades to chats and messages. Memories and summaries keep
// their provenance ids and stay behind.
func (d *DB) DeleteFolder(ctx context.Context, delete *store.DeleteFolder) error {
	if _, err := d.conn().ExecContext(ctx, `DELETE FROM message WHERE folder_id = $1`, delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete folder messages")
	}
	if _, err := d.conn().ExecContext(ctx, `DELETE FROM chat WHERE folder_id = $1`, delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete folder chats")
	}
	_, err := d.conn().ExecContext(ctx, `DELETE FROM folder WHERE id = $1`, delete.ID)
	return errors.Wrap(err, "failed to delete folder")
}

func (d *DB) CreateChat(ctx context.Context, create *store.Chat) (*store.Chat, error) {
	stmt := `INSERT INTO chat (id, folder_id, creator_id, title, temporary, incognito, created_ts) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := d.conn().ExecContext(ctx, stmt,
		create.ID, create.FolderID, create.CreatorID, create.Title, create.Temporary, create.Incognito, create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create chat")
	}
	return create, nil
}

func (d *DB) ListChats(ctx context.Context, find *store.FindChat) ([]*store.Chat, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("id = %s", placeholder(len(args))))
	}
	if v := find.FolderID; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("folder_id = %s", placeholder(len(args))))
	}
	if v := find.CreatorID; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("creator_id = %s", placeholder(len(args))))
	}
	if v := find.Temporary; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("temporary = %s", placeholder(len(args))))
	}

	query := `SELECT id, folder_id, creator_id, title, temporary, incognito, created_ts FROM chat WHERE ` +
		joinAnd(where) + ` ORDER BY created_ts DESC`
	rows, err := d.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list chats")
	}
	defer rows.Close()

	chats := []*store.Chat{}
	for rows.Next() {
		var chat store.Chat
		if err := rows.Scan(&chat.ID, &chat.FolderID, &chat.CreatorID, &chat.Title, &chat.Temporary, &chat.Incognito, &chat.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan chat")
		}
		chats = append(chats, &chat)
	}
	return chats, rows.Err()
}

func (d *DB) UpdateChat(ctx context.Context, update *store.UpdateChat) error {
	set, args := []string{}, []any{}
	if v := update.FolderID; v != nil {
		args = append(args, *v)
		set = append(set, fmt.Sprintf("folder_id = %s", placeholder(len(args))))
	}
	if v := update.Title; v != nil {
		args = append(args, *v)
		set = append(set, fmt.Sprintf("title = %s", placeholder(len(args))))
	}
	if len(set) == 0 {
		return nil
	}
	args = append(args, update.ID)
	stmt := `UPDATE chat SET ` + joinComma(set) + ` WHERE id = ` + placeholder(len(args))
	_, err := d.conn().ExecContext(ctx, stmt, args...)
	return errors.Wrap(err, "failed to update chat")
}

func (d *DB) DeleteChat(ctx context.Context, delete *store.DeleteChat) error {
	if _, err := d.conn().ExecContext(ctx, `DELETE FROM message WHERE chat_id = $1`, delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete chat messages")
	}
	_, err := d.conn().ExecContext(ctx, `DELETE FROM chat WHERE id = $1`, delete.ID)
	return errors.Wrap(err, "failed to delete chat")
}
