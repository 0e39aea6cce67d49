package chain

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	errs "github.com/tinychat/tinychat/internal/errors"
	"github.com/tinychat/tinychat/store"
	teststore "github.com/tinychat/tinychat/store/test"
)

func textParts(value string) []store.DataPart {
	return []store.DataPart{{Type: store.PartText, Value: value}}
}

// seedChat bootstraps a chat and appends alternating turns until the chain
// holds count messages, starting with a USER turn.
func seedChat(t *testing.T, editor *Editor, count int) (*store.Chat, []*store.Message) {
	t.Helper()
	ctx := context.Background()

	chat, root, err := editor.BootstrapChat(ctx, &Bootstrap{
		CreatorID: 1,
		Title:     "test chat",
		Author:    store.AuthorUser,
		Data:      textParts("turn 0"),
	})
	require.NoError(t, err)

	messages := []*store.Message{root}
	for i := 1; i < count; i++ {
		author := store.AuthorUser
		if i%2 == 1 {
			author = store.AuthorModel
		}
		m, err := editor.Append(ctx, &CreateMessage{
			ChatID: chat.ID,
			Author: author,
			Data:   textParts(fmt.Sprintf("turn %d", i)),
		})
		require.NoError(t, err)
		messages = append(messages, m)
	}
	return chat, messages
}

func chainIDs(t *testing.T, editor *Editor, chatID string) []string {
	t.Helper()
	ordered, err := editor.Chain(context.Background(), chatID)
	require.NoError(t, err)
	ids := make([]string, len(ordered))
	for i, m := range ordered {
		ids[i] = m.ID
	}
	return ids
}

func TestAppend(t *testing.T) {
	ctx := context.Background()
	editor := NewEditor(teststore.NewStore())
	chat, messages := seedChat(t, editor, 3)

	t.Run("links each message to the previous tail", func(t *testing.T) {
		require.Nil(t, messages[0].PreviousID)
		require.Equal(t, messages[0].ID, *messages[1].PreviousID)
		require.Equal(t, messages[1].ID, *messages[2].PreviousID)
	})

	t.Run("chain order matches insertion order", func(t *testing.T) {
		ids := chainIDs(t, editor, chat.ID)
		require.Equal(t, []string{messages[0].ID, messages[1].ID, messages[2].ID}, ids)
	})

	t.Run("unknown chat", func(t *testing.T) {
		_, err := editor.Append(ctx, &CreateMessage{ChatID: "missing", Author: store.AuthorUser})
		require.Error(t, err)
		require.True(t, errs.IsCode(err, errs.ErrCodeNotFound))
	})

	t.Run("temporary message in a normal chat is rejected", func(t *testing.T) {
		_, err := editor.Append(ctx, &CreateMessage{
			ChatID:    chat.ID,
			Author:    store.AuthorUser,
			Temporary: true,
			Data:      textParts("ephemeral"),
		})
		require.Error(t, err)
		require.True(t, errs.IsCode(err, errs.ErrCodeInvalidState))
		require.Len(t, chainIDs(t, editor, chat.ID), 3)
	})

	t.Run("temporary message in a temporary chat is allowed", func(t *testing.T) {
		tempChat, _, err := editor.BootstrapChat(ctx, &Bootstrap{
			CreatorID: 1,
			Title:     "scratch",
			Temporary: true,
			Author:    store.AuthorUser,
			Data:      textParts("hi"),
		})
		require.NoError(t, err)
		_, err = editor.Append(ctx, &CreateMessage{
			ChatID:    tempChat.ID,
			Author:    store.AuthorModel,
			Temporary: true,
			Data:      textParts("hello"),
		})
		require.NoError(t, err)
	})
}

func TestInsertAfter(t *testing.T) {
	ctx := context.Background()
	editor := NewEditor(teststore.NewStore())
	chat, messages := seedChat(t, editor, 3) // A -> B -> C

	spliced, err := editor.InsertAfter(ctx, messages[1].ID, &CreateMessage{
		ChatID: chat.ID,
		Author: store.AuthorUser,
		Data:   textParts("spliced"),
	})
	require.NoError(t, err)

	t.Run("yields A B X C", func(t *testing.T) {
		ids := chainIDs(t, editor, chat.ID)
		require.Equal(t, []string{messages[0].ID, messages[1].ID, spliced.ID, messages[2].ID}, ids)
	})

	t.Run("after the tail becomes the new tail", func(t *testing.T) {
		tail, err := editor.InsertAfter(ctx, messages[2].ID, &CreateMessage{
			ChatID: chat.ID,
			Author: store.AuthorModel,
			Data:   textParts("tail"),
		})
		require.NoError(t, err)
		ids := chainIDs(t, editor, chat.ID)
		require.Equal(t, tail.ID, ids[len(ids)-1])
	})

	t.Run("rejects anchor from another chat", func(t *testing.T) {
		other, _, err := editor.BootstrapChat(ctx, &Bootstrap{
			CreatorID: 1,
			Title:     "other",
			Author:    store.AuthorUser,
			Data:      textParts("hi"),
		})
		require.NoError(t, err)
		_, err = editor.InsertAfter(ctx, messages[0].ID, &CreateMessage{ChatID: other.ID, Author: store.AuthorUser})
		require.Error(t, err)
		require.True(t, errs.IsCode(err, errs.ErrCodeInvalidState))
	})

	t.Run("rejects a temporary message in a normal chat", func(t *testing.T) {
		_, err := editor.InsertAfter(ctx, messages[0].ID, &CreateMessage{
			ChatID:    chat.ID,
			Author:    store.AuthorUser,
			Temporary: true,
		})
		require.Error(t, err)
		require.True(t, errs.IsCode(err, errs.ErrCodeInvalidState))
	})
}

func TestTruncateAfter(t *testing.T) {
	ctx := context.Background()
	editor := NewEditor(teststore.NewStore())
	chat, messages := seedChat(t, editor, 4) // A -> B -> C -> D

	t.Run("deletes the whole suffix", func(t *testing.T) {
		require.NoError(t, editor.TruncateAfter(ctx, messages[1].ID))
		ids := chainIDs(t, editor, chat.ID)
		require.Equal(t, []string{messages[0].ID, messages[1].ID}, ids)
	})

	t.Run("truncating at the tail is a no-op", func(t *testing.T) {
		require.NoError(t, editor.TruncateAfter(ctx, messages[1].ID))
		require.Len(t, chainIDs(t, editor, chat.ID), 2)
	})

	t.Run("unknown message", func(t *testing.T) {
		err := editor.TruncateAfter(ctx, "missing")
		require.True(t, errs.IsCode(err, errs.ErrCodeNotFound))
	})
}

func TestEdit(t *testing.T) {
	ctx := context.Background()
	editor := NewEditor(teststore.NewStore())
	chat, messages := seedChat(t, editor, 4)

	t.Run("updates content and resets timestamp", func(t *testing.T) {
		require.NoError(t, editor.Edit(ctx, &EditMessage{
			ID:   messages[0].ID,
			Data: textParts("rewritten"),
		}))
		ordered, err := editor.Chain(ctx, chat.ID)
		require.NoError(t, err)
		require.Equal(t, "rewritten", store.ExtractText(ordered[0].Data))
		require.GreaterOrEqual(t, ordered[0].CreatedTs, messages[0].CreatedTs)
	})

	t.Run("truncate drops everything after the edit", func(t *testing.T) {
		require.NoError(t, editor.Edit(ctx, &EditMessage{
			ID:       messages[1].ID,
			Data:     textParts("edited reply"),
			Truncate: true,
		}))
		ids := chainIDs(t, editor, chat.ID)
		require.Equal(t, []string{messages[0].ID, messages[1].ID}, ids)
	})
}

func TestDeletePair(t *testing.T) {
	ctx := context.Background()

	t.Run("user turn takes its reply along", func(t *testing.T) {
		editor := NewEditor(teststore.NewStore())
		chat, messages := seedChat(t, editor, 6)

		result, err := editor.DeletePair(ctx, messages[2].ID) // USER
		require.NoError(t, err)
		require.ElementsMatch(t, []string{messages[2].ID, messages[3].ID}, result.DeletedMessageIDs)
		require.Empty(t, result.DeletedChatID)

		ids := chainIDs(t, editor, chat.ID)
		require.Equal(t, []string{messages[0].ID, messages[1].ID, messages[4].ID, messages[5].ID}, ids)
	})

	t.Run("model turn takes the user turn it answered", func(t *testing.T) {
		editor := NewEditor(teststore.NewStore())
		chat, messages := seedChat(t, editor, 6)

		result, err := editor.DeletePair(ctx, messages[3].ID) // MODEL
		require.NoError(t, err)
		require.ElementsMatch(t, []string{messages[2].ID, messages[3].ID}, result.DeletedMessageIDs)

		ids := chainIDs(t, editor, chat.ID)
		require.Equal(t, []string{messages[0].ID, messages[1].ID, messages[4].ID, messages[5].ID}, ids)
	})

	t.Run("last exchange of the only chat removes the folder", func(t *testing.T) {
		st := teststore.NewStore()
		editor := NewEditor(st)
		chat, messages := seedChat(t, editor, 2)

		result, err := editor.DeletePair(ctx, messages[0].ID)
		require.NoError(t, err)
		require.Equal(t, chat.ID, result.DeletedChatID)
		require.Equal(t, chat.FolderID, result.DeletedFolderID)

		folders, err := st.ListFolders(ctx, &store.FindFolder{})
		require.NoError(t, err)
		require.Empty(t, folders)
	})

	t.Run("last exchange removes only the chat when the folder has siblings", func(t *testing.T) {
		st := teststore.NewStore()
		editor := NewEditor(st)
		chat, messages := seedChat(t, editor, 2)

		// Second chat in the same folder keeps the folder alive.
		_, err := st.CreateChat(ctx, &store.Chat{
			ID:        "sibling",
			FolderID:  chat.FolderID,
			CreatorID: chat.CreatorID,
			Title:     "sibling",
		})
		require.NoError(t, err)

		result, err := editor.DeletePair(ctx, messages[0].ID)
		require.NoError(t, err)
		require.Equal(t, chat.ID, result.DeletedChatID)
		require.Empty(t, result.DeletedFolderID)

		folders, err := st.ListFolders(ctx, &store.FindFolder{})
		require.NoError(t, err)
		require.Len(t, folders, 1)
	})
}

func TestDeleteChat(t *testing.T) {
	ctx := context.Background()

	t.Run("deleting the folder's only chat removes the folder", func(t *testing.T) {
		st := teststore.NewStore()
		editor := NewEditor(st)
		chat, _ := seedChat(t, editor, 4)

		require.NoError(t, editor.DeleteChat(ctx, chat.ID))

		chats, err := st.ListChats(ctx, &store.FindChat{ID: &chat.ID})
		require.NoError(t, err)
		require.Empty(t, chats)

		folders, err := st.ListFolders(ctx, &store.FindFolder{})
		require.NoError(t, err)
		require.Empty(t, folders)
	})

	t.Run("folder survives when it has other chats", func(t *testing.T) {
		st := teststore.NewStore()
		editor := NewEditor(st)
		chat, _ := seedChat(t, editor, 4)

		_, err := st.CreateChat(ctx, &store.Chat{
			ID:        "sibling",
			FolderID:  chat.FolderID,
			CreatorID: chat.CreatorID,
			Title:     "sibling",
		})
		require.NoError(t, err)

		require.NoError(t, editor.DeleteChat(ctx, chat.ID))

		folders, err := st.ListFolders(ctx, &store.FindFolder{})
		require.NoError(t, err)
		require.Len(t, folders, 1)

		messages, err := st.ListMessages(ctx, &store.FindMessage{ChatID: &chat.ID})
		require.NoError(t, err)
		require.Empty(t, messages)
	})

	t.Run("unknown chat", func(t *testing.T) {
		editor := NewEditor(teststore.NewStore())
		err := editor.DeleteChat(ctx, "missing")
		require.True(t, errs.IsCode(err, errs.ErrCodeNotFound))
	})
}

func TestCloneUntil(t *testing.T) {
	ctx := context.Background()
	st := teststore.NewStore()
	editor := NewEditor(st)
	chat, messages := seedChat(t, editor, 5)

	clone, err := editor.CloneUntil(ctx, chat.ID, messages[2].ID, "fork")
	require.NoError(t, err)
	require.NotEqual(t, chat.ID, clone.ID)
	require.Equal(t, chat.FolderID, clone.FolderID)
	require.Equal(t, "fork", clone.Title)

	t.Run("copies the prefix with fresh ids", func(t *testing.T) {
		ordered, err := editor.Chain(ctx, clone.ID)
		require.NoError(t, err)
		require.Len(t, ordered, 3)
		for i, m := range ordered {
			require.NotEqual(t, messages[i].ID, m.ID)
			require.Equal(t, store.ExtractText(messages[i].Data), store.ExtractText(m.Data))
		}
	})

	t.Run("copy is a self-consistent chain", func(t *testing.T) {
		ordered, err := editor.Chain(ctx, clone.ID)
		require.NoError(t, err)
		require.Nil(t, ordered[0].PreviousID)
		for i := 1; i < len(ordered); i++ {
			require.Equal(t, ordered[i-1].ID, *ordered[i].PreviousID)
		}
	})

	t.Run("source chain is untouched", func(t *testing.T) {
		ids := chainIDs(t, editor, chat.ID)
		require.Len(t, ids, 5)
	})

	t.Run("vacated folder takes the source chat title", func(t *testing.T) {
		folder, err := st.GetFolder(ctx, chat.FolderID)
		require.NoError(t, err)
		require.Equal(t, chat.Title, folder.Title)
	})

	t.Run("unknown until message", func(t *testing.T) {
		_, err := editor.CloneUntil(ctx, chat.ID, "missing", "fork")
		require.True(t, errs.IsCode(err, errs.ErrCodeNotFound))
	})
}

func TestRenameChat(t *testing.T) {
	ctx := context.Background()
	st := teststore.NewStore()
	editor := NewEditor(st)
	chat, _ := seedChat(t, editor, 2)

	t.Run("matching folder title follows the rename", func(t *testing.T) {
		// Bootstrap gives folder and chat the same title.
		require.NoError(t, editor.RenameChat(ctx, chat.ID, "renamed"))
		got, err := st.GetChat(ctx, chat.ID)
		require.NoError(t, err)
		require.Equal(t, "renamed", got.Title)
		folder, err := st.GetFolder(ctx, chat.FolderID)
		require.NoError(t, err)
		require.Equal(t, "renamed", folder.Title)
	})

	t.Run("folder with its own title keeps it", func(t *testing.T) {
		ownTitle := "collection"
		require.NoError(t, st.UpdateFolder(ctx, &store.UpdateFolder{ID: chat.FolderID, Title: &ownTitle}))
		require.NoError(t, editor.RenameChat(ctx, chat.ID, "again"))
		folder, err := st.GetFolder(ctx, chat.FolderID)
		require.NoError(t, err)
		require.Equal(t, "collection", folder.Title)
	})

	t.Run("matching title follows even with sibling chats", func(t *testing.T) {
		matching := "again"
		require.NoError(t, st.UpdateFolder(ctx, &store.UpdateFolder{ID: chat.FolderID, Title: &matching}))
		_, err := st.CreateChat(ctx, &store.Chat{ID: "sibling", FolderID: chat.FolderID, CreatorID: 1, Title: "sibling"})
		require.NoError(t, err)

		require.NoError(t, editor.RenameChat(ctx, chat.ID, "final"))
		folder, err := st.GetFolder(ctx, chat.FolderID)
		require.NoError(t, err)
		require.Equal(t, "final", folder.Title)
	})
}
