package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinychat/tinychat/plugin/ai"
	"github.com/tinychat/tinychat/store"
	teststore "github.com/tinychat/tinychat/store/test"
)

func seed(t *testing.T, st *store.Store) (normal *store.Message, temporary *store.Message) {
	t.Helper()
	ctx := context.Background()

	_, err := st.CreateChat(ctx, &store.Chat{ID: "chat", FolderID: "folder", CreatorID: 1})
	require.NoError(t, err)
	_, err = st.CreateChat(ctx, &store.Chat{ID: "temp", FolderID: "folder", CreatorID: 1, Temporary: true})
	require.NoError(t, err)

	normal, err = st.CreateMessage(ctx, &store.Message{
		ID: "m1", ChatID: "chat", FolderID: "folder", CreatorID: 1,
		Author: store.AuthorUser,
		Data:   []store.DataPart{{Type: store.PartText, Value: "embed me"}},
	})
	require.NoError(t, err)
	temporary, err = st.CreateMessage(ctx, &store.Message{
		ID: "m2", ChatID: "temp", FolderID: "folder", CreatorID: 1,
		Author: store.AuthorUser,
		Data:   []store.DataPart{{Type: store.PartText, Value: "never embed me"}},
	})
	require.NoError(t, err)
	return normal, temporary
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()
	st := teststore.NewStore()
	model := ai.NewMock()
	model.EmbedFn = func(string) []float32 { return []float32{1, 2, 3} }
	runner := NewRunner(st, model)

	normal, temporary := seed(t, st)

	_, err := st.CreateMemory(ctx, &store.Memory{ID: "mem1", CreatorID: 1, ChatID: "chat", Fact: "a fact", Latest: true})
	require.NoError(t, err)
	_, err = st.CreateSummary(ctx, &store.Summary{ID: "sum1", CreatorID: 1, ChatID: "chat", Content: "a summary"})
	require.NoError(t, err)

	runner.RunOnce(ctx)

	t.Run("message in a normal chat is embedded", func(t *testing.T) {
		messages, err := st.ListMessages(ctx, &store.FindMessage{ID: &normal.ID})
		require.NoError(t, err)
		require.Equal(t, []float32{1, 2, 3}, messages[0].Embedding)
	})

	t.Run("message in a temporary chat is skipped", func(t *testing.T) {
		messages, err := st.ListMessages(ctx, &store.FindMessage{ID: &temporary.ID})
		require.NoError(t, err)
		require.Nil(t, messages[0].Embedding)
	})

	t.Run("memories and summaries are embedded", func(t *testing.T) {
		memories, err := st.ListMemories(ctx, &store.FindMemory{CreatorID: ptr(int32(1))})
		require.NoError(t, err)
		require.Equal(t, []float32{1, 2, 3}, memories[0].Embedding)

		summaries, err := st.ListSummaries(ctx, &store.FindSummary{CreatorID: ptr(int32(1))})
		require.NoError(t, err)
		require.Equal(t, []float32{1, 2, 3}, summaries[0].Embedding)
	})
}

func TestRunOnceEmptyText(t *testing.T) {
	ctx := context.Background()
	st := teststore.NewStore()
	model := ai.NewMock()
	runner := NewRunner(st, model)

	_, err := st.CreateChat(ctx, &store.Chat{ID: "chat", FolderID: "folder", CreatorID: 1})
	require.NoError(t, err)
	_, err = st.CreateMessage(ctx, &store.Message{
		ID: "empty", ChatID: "chat", FolderID: "folder", CreatorID: 1,
		Author: store.AuthorModel,
		Data:   []store.DataPart{{Type: store.PartThought, Value: "no visible text"}},
	})
	require.NoError(t, err)

	runner.RunOnce(ctx)

	// An empty vector marks the row as handled so it is not re-fetched.
	id := "empty"
	messages, err := st.ListMessages(ctx, &store.FindMessage{ID: &id})
	require.NoError(t, err)
	require.NotNil(t, messages[0].Embedding)
	require.Empty(t, messages[0].Embedding)

	missing, err := st.ListMessages(ctx, &store.FindMessage{MissingEmbedding: true})
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	st := teststore.NewStore()
	model := ai.NewMock()
	model.EmbedFn = func(string) []float32 { return []float32{0.5} }
	runner := NewRunner(st, model)

	normal, _ := seed(t, st)
	runner.RunOnce(ctx)

	require.NoError(t, runner.Reset(ctx, 1))

	messages, err := st.ListMessages(ctx, &store.FindMessage{ID: &normal.ID})
	require.NoError(t, err)
	require.Nil(t, messages[0].Embedding)

	missing, err := st.ListMessages(ctx, &store.FindMessage{MissingEmbedding: true})
	require.NoError(t, err)
	require.Len(t, missing, 1)
	require.Equal(t, normal.ID, missing[0].ID)
}

func ptr[T any](v T) *T { return &v }
