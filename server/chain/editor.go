// Package chain implements atomic editing operations on a chat's message
// chain: append, splice, truncate, edit, paired delete, and prefix clone.
// Every operation runs in a single store transaction.
package chain

import (
	"context"
	"time"

	"github.com/lithammer/shortuuid/v4"

	errs "github.com/tinychat/tinychat/internal/errors"
	"github.com/tinychat/tinychat/store"
)

// Editor mutates chat chains through the store facade.
type Editor struct {
	store *store.Store
}

// NewEditor creates a chain editor.
func NewEditor(st *store.Store) *Editor {
	return &Editor{store: st}
}

// Chain returns the messages of a chat in chain order.
func (e *Editor) Chain(ctx context.Context, chatID string) ([]*store.Message, error) {
	messages, err := e.store.ListMessages(ctx, &store.FindMessage{ChatID: &chatID})
	if err != nil {
		return nil, err
	}
	return store.Linearize(messages), nil
}

// CreateMessage describes a message to add to a chain.
type CreateMessage struct {
	ChatID string
	Author store.Author
	// Temporary marks the message ephemeral; only valid inside a chat that is
	// itself temporary.
	Temporary bool
	Config    store.Config
	Data      []store.DataPart
	Metadata  *store.Metadata
}

// Append adds a message at the end of the chain.
func (e *Editor) Append(ctx context.Context, create *CreateMessage) (*store.Message, error) {
	var created *store.Message
	err := e.store.InTransaction(ctx, func(tx *store.Store) error {
		chat, err := tx.GetChat(ctx, create.ChatID)
		if err != nil {
			return err
		}
		if chat == nil {
			return errs.NotFound("chat %s not found", create.ChatID)
		}
		if create.Temporary && !chat.Temporary {
			return errs.InvalidState("chat %s cannot be made temporary", create.ChatID)
		}
		messages, err := tx.ListMessages(ctx, &store.FindMessage{ChatID: &create.ChatID})
		if err != nil {
			return err
		}
		var previousID *string
		if ordered := store.Linearize(messages); len(ordered) > 0 {
			tailID := ordered[len(ordered)-1].ID
			previousID = &tailID
		}
		created, err = tx.CreateMessage(ctx, newMessage(chat, create, previousID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// InsertAfter splices a message between afterID and its current successor.
// If afterID is the tail the new message becomes the new tail.
func (e *Editor) InsertAfter(ctx context.Context, afterID string, create *CreateMessage) (*store.Message, error) {
	var created *store.Message
	err := e.store.InTransaction(ctx, func(tx *store.Store) error {
		chat, err := tx.GetChat(ctx, create.ChatID)
		if err != nil {
			return err
		}
		if chat == nil {
			return errs.NotFound("chat %s not found", create.ChatID)
		}
		if create.Temporary && !chat.Temporary {
			return errs.InvalidState("chat %s cannot be made temporary", create.ChatID)
		}
		after, err := e.getMessage(ctx, tx, afterID)
		if err != nil {
			return err
		}
		if after.ChatID != create.ChatID {
			return errs.InvalidState("message %s belongs to chat %s, not %s", afterID, after.ChatID, create.ChatID)
		}

		newID := shortuuid.New()
		// Re-point the current successor before the new message exists so the
		// exclusion never matches a stored row.
		if err := tx.RelinkMessages(ctx, &store.RelinkMessages{
			ChatID:        create.ChatID,
			PreviousID:    &afterID,
			NewPreviousID: &newID,
			ExcludeID:     &newID,
		}); err != nil {
			return err
		}

		message := newMessage(chat, create, &afterID)
		message.ID = newID
		created, err = tx.CreateMessage(ctx, message)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Bootstrap creates a folder, a chat, and the chat's first message in one
// transaction. Used when a message arrives without an existing chat.
type Bootstrap struct {
	CreatorID int32
	Title     string
	Temporary bool
	Incognito bool
	Author    store.Author
	Config    store.Config
	Data      []store.DataPart
}

// BootstrapChat creates the folder+chat+root message triple for a new
// conversation.
func (e *Editor) BootstrapChat(ctx context.Context, bootstrap *Bootstrap) (*store.Chat, *store.Message, error) {
	var chat *store.Chat
	var message *store.Message
	err := e.store.InTransaction(ctx, func(tx *store.Store) error {
		now := time.Now().Unix()
		folder, err := tx.CreateFolder(ctx, &store.Folder{
			ID:        shortuuid.New(),
			CreatorID: bootstrap.CreatorID,
			Title:     bootstrap.Title,
			CreatedTs: now,
		})
		if err != nil {
			return err
		}
		chat, err = tx.CreateChat(ctx, &store.Chat{
			ID:        shortuuid.New(),
			FolderID:  folder.ID,
			CreatorID: bootstrap.CreatorID,
			Title:     bootstrap.Title,
			Temporary: bootstrap.Temporary,
			Incognito: bootstrap.Incognito,
			CreatedTs: now,
		})
		if err != nil {
			return err
		}
		message, err = tx.CreateMessage(ctx, &store.Message{
			ID:        shortuuid.New(),
			ChatID:    chat.ID,
			FolderID:  folder.ID,
			CreatorID: bootstrap.CreatorID,
			Author:    bootstrap.Author,
			Config:    bootstrap.Config,
			Data:      bootstrap.Data,
			CreatedTs: now,
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return chat, message, nil
}

// TruncateAfter deletes the entire remainder of the chain after messageID.
// Destructive and irreversible; callers confirm intent before calling.
func (e *Editor) TruncateAfter(ctx context.Context, messageID string) error {
	return e.store.InTransaction(ctx, func(tx *store.Store) error {
		message, err := e.getMessage(ctx, tx, messageID)
		if err != nil {
			return err
		}
		return e.truncateAfterTx(ctx, tx, message)
	})
}

func (e *Editor) truncateAfterTx(ctx context.Context, tx *store.Store, message *store.Message) error {
	messages, err := tx.ListMessages(ctx, &store.FindMessage{ChatID: &message.ChatID})
	if err != nil {
		return err
	}
	ordered := store.Linearize(messages)
	suffix := []string{}
	found := false
	for _, m := range ordered {
		if found {
			suffix = append(suffix, m.ID)
		}
		if m.ID == message.ID {
			found = true
		}
	}
	if !found {
		return errs.NotFound("message %s not in chain of chat %s", message.ID, message.ChatID)
	}
	if len(suffix) == 0 {
		return nil
	}
	return tx.DeleteMessages(ctx, &store.DeleteMessage{IDs: suffix})
}

// EditMessage describes an in-place content update.
type EditMessage struct {
	ID       string
	Author   *store.Author
	Config   *store.Config
	Data     []store.DataPart
	Metadata *store.Metadata
	// Truncate deletes everything after the edited message first.
	Truncate bool
}

// Edit updates a message in place and resets its creation timestamp so
// edited messages sort as most recent.
func (e *Editor) Edit(ctx context.Context, edit *EditMessage) error {
	return e.store.InTransaction(ctx, func(tx *store.Store) error {
		message, err := e.getMessage(ctx, tx, edit.ID)
		if err != nil {
			return err
		}
		if edit.Truncate {
			if err := e.truncateAfterTx(ctx, tx, message); err != nil {
				return err
			}
		}
		now := time.Now().Unix()
		return tx.UpdateMessage(ctx, &store.UpdateMessage{
			ID:        edit.ID,
			Author:    edit.Author,
			Config:    edit.Config,
			Data:      edit.Data,
			Metadata:  edit.Metadata,
			CreatedTs: &now,
		})
	})
}

// DeletePairResult reports what a paired delete actually removed. Removing
// the last exchange of a chat escalates to the chat, and to the folder when
// the chat was the folder's only one.
type DeletePairResult struct {
	DeletedMessageIDs []string
	DeletedChatID     string
	DeletedFolderID   string
}

// DeletePair deletes a message together with its conversational counterpart:
// a USER message takes its reply along, a MODEL message takes the user turn
// it answered.
func (e *Editor) DeletePair(ctx context.Context, messageID string) (*DeletePairResult, error) {
	result := &DeletePairResult{}
	err := e.store.InTransaction(ctx, func(tx *store.Store) error {
		message, err := e.getMessage(ctx, tx, messageID)
		if err != nil {
			return err
		}
		messages, err := tx.ListMessages(ctx, &store.FindMessage{ChatID: &message.ChatID})
		if err != nil {
			return err
		}
		ordered := store.Linearize(messages)
		index := -1
		for i, m := range ordered {
			if m.ID == message.ID {
				index = i
				break
			}
		}
		if index < 0 {
			return errs.NotFound("message %s not in chain of chat %s", messageID, message.ChatID)
		}

		first, last := index, index
		if message.Author == store.AuthorUser && index+1 < len(ordered) {
			last = index + 1
		}
		if message.Author == store.AuthorModel && index > 0 {
			first = index - 1
		}

		chat, err := tx.GetChat(ctx, message.ChatID)
		if err != nil {
			return err
		}
		if chat == nil {
			return errs.NotFound("chat %s not found", message.ChatID)
		}
		siblings, err := tx.ListChats(ctx, &store.FindChat{FolderID: &chat.FolderID})
		if err != nil {
			return err
		}

		// Deleting the last exchange empties the container; take the
		// container down with it.
		if len(ordered) <= 2 && len(siblings) == 1 {
			result.DeletedChatID = chat.ID
			result.DeletedFolderID = chat.FolderID
			return tx.DeleteFolder(ctx, &store.DeleteFolder{ID: chat.FolderID})
		}
		if len(ordered) <= 2 {
			result.DeletedChatID = chat.ID
			return tx.DeleteChat(ctx, &store.DeleteChat{ID: chat.ID})
		}

		ids := []string{}
		for i := first; i <= last; i++ {
			ids = append(ids, ordered[i].ID)
		}
		result.DeletedMessageIDs = ids

		// Splice the successor of the deleted run onto its predecessor.
		lastID := ordered[last].ID
		if err := tx.RelinkMessages(ctx, &store.RelinkMessages{
			ChatID:        chat.ID,
			PreviousID:    &lastID,
			NewPreviousID: ordered[first].PreviousID,
		}); err != nil {
			return err
		}
		return tx.DeleteMessages(ctx, &store.DeleteMessage{IDs: ids})
	})
	if err != nil {
		return nil, err
	}
	if result.DeletedChatID != "" {
		e.store.InvalidateChat(result.DeletedChatID)
	}
	if result.DeletedFolderID != "" {
		e.store.InvalidateFolder(result.DeletedFolderID)
	}
	return result, nil
}

// DeleteChat removes a chat and its messages. Deleting a folder's only chat
// takes the folder down with it.
func (e *Editor) DeleteChat(ctx context.Context, chatID string) error {
	var deletedFolderID string
	err := e.store.InTransaction(ctx, func(tx *store.Store) error {
		chat, err := tx.GetChat(ctx, chatID)
		if err != nil {
			return err
		}
		if chat == nil {
			return errs.NotFound("chat %s not found", chatID)
		}
		siblings, err := tx.ListChats(ctx, &store.FindChat{FolderID: &chat.FolderID})
		if err != nil {
			return err
		}
		if len(siblings) == 1 {
			deletedFolderID = chat.FolderID
			return tx.DeleteFolder(ctx, &store.DeleteFolder{ID: chat.FolderID})
		}
		return tx.DeleteChat(ctx, &store.DeleteChat{ID: chatID})
	})
	if err != nil {
		return err
	}
	e.store.InvalidateChat(chatID)
	if deletedFolderID != "" {
		e.store.InvalidateFolder(deletedFolderID)
	}
	return nil
}

// CloneUntil forks a chat: the chain prefix through untilMessageID is copied
// into a new chat with fresh message ids and internally rewritten links. The
// copy lands in the source folder; if the source chat was the folder's only
// one, the folder is retitled to the source chat's title first since it is
// about to hold two differently-titled chats.
func (e *Editor) CloneUntil(ctx context.Context, chatID, untilMessageID, newTitle string) (*store.Chat, error) {
	var clone *store.Chat
	var retitledFolder string
	err := e.store.InTransaction(ctx, func(tx *store.Store) error {
		chat, err := tx.GetChat(ctx, chatID)
		if err != nil {
			return err
		}
		if chat == nil {
			return errs.NotFound("chat %s not found", chatID)
		}
		messages, err := tx.ListMessages(ctx, &store.FindMessage{ChatID: &chatID, WithMetadata: true})
		if err != nil {
			return err
		}
		ordered := store.Linearize(messages)
		prefixLen := 0
		for i, m := range ordered {
			if m.ID == untilMessageID {
				prefixLen = i + 1
				break
			}
		}
		if prefixLen == 0 {
			return errs.NotFound("message %s not in chain of chat %s", untilMessageID, chatID)
		}

		siblings, err := tx.ListChats(ctx, &store.FindChat{FolderID: &chat.FolderID})
		if err != nil {
			return err
		}
		if len(siblings) == 1 && chat.Title != "" {
			if err := tx.UpdateFolder(ctx, &store.UpdateFolder{ID: chat.FolderID, Title: &chat.Title}); err != nil {
				return err
			}
			retitledFolder = chat.FolderID
		}

		title := newTitle
		if title == "" {
			title = chat.Title
		}
		clone, err = tx.CreateChat(ctx, &store.Chat{
			ID:        shortuuid.New(),
			FolderID:  chat.FolderID,
			CreatorID: chat.CreatorID,
			Title:     title,
			Temporary: chat.Temporary,
			Incognito: chat.Incognito,
			CreatedTs: time.Now().Unix(),
		})
		if err != nil {
			return err
		}

		var previousID *string
		for _, m := range ordered[:prefixLen] {
			copied := *m
			copied.ID = shortuuid.New()
			copied.ChatID = clone.ID
			copied.PreviousID = previousID
			if _, err := tx.CreateMessage(ctx, &copied); err != nil {
				return err
			}
			id := copied.ID
			previousID = &id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if retitledFolder != "" {
		e.store.InvalidateFolder(retitledFolder)
	}
	return clone, nil
}

// RenameChat renames a chat. A folder whose title matches the chat's current
// title is renamed along with it, keeping the shared-title pairing intact.
func (e *Editor) RenameChat(ctx context.Context, chatID, title string) error {
	var folderID string
	err := e.store.InTransaction(ctx, func(tx *store.Store) error {
		chat, err := tx.GetChat(ctx, chatID)
		if err != nil {
			return err
		}
		if chat == nil {
			return errs.NotFound("chat %s not found", chatID)
		}
		folder, err := tx.GetFolder(ctx, chat.FolderID)
		if err != nil {
			return err
		}
		if folder != nil && folder.Title == chat.Title {
			if err := tx.UpdateFolder(ctx, &store.UpdateFolder{ID: chat.FolderID, Title: &title}); err != nil {
				return err
			}
			folderID = chat.FolderID
		}
		return tx.UpdateChat(ctx, &store.UpdateChat{ID: chatID, Title: &title})
	})
	if err != nil {
		return err
	}
	e.store.InvalidateChat(chatID)
	if folderID != "" {
		e.store.InvalidateFolder(folderID)
	}
	return nil
}

// GetMessage returns a message by id.
func (e *Editor) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	return e.getMessage(ctx, e.store, id)
}

func (e *Editor) getMessage(ctx context.Context, tx *store.Store, id string) (*store.Message, error) {
	messages, err := tx.ListMessages(ctx, &store.FindMessage{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, errs.NotFound("message %s not found", id)
	}
	return messages[0], nil
}

func newMessage(chat *store.Chat, create *CreateMessage, previousID *string) *store.Message {
	return &store.Message{
		ID:         shortuuid.New(),
		ChatID:     chat.ID,
		FolderID:   chat.FolderID,
		CreatorID:  chat.CreatorID,
		Author:     create.Author,
		Config:     create.Config,
		Data:       create.Data,
		Metadata:   create.Metadata,
		PreviousID: previousID,
		CreatedTs:  time.Now().Unix(),
	}
}
