package generation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	errs "github.com/tinychat/tinychat/internal/errors"
	"github.com/tinychat/tinychat/plugin/ai"
	"github.com/tinychat/tinychat/plugin/ai/memory"
	"github.com/tinychat/tinychat/server/chain"
	"github.com/tinychat/tinychat/store"
	teststore "github.com/tinychat/tinychat/store/test"
)

type fixture struct {
	store  *store.Store
	editor *chain.Editor
	memory *memory.Service
	model  *ai.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := teststore.NewStore()
	return &fixture{
		store:  st,
		editor: chain.NewEditor(st),
		memory: memory.NewService(st),
		model:  ai.NewMock(),
	}
}

func (f *fixture) orchestrator(opts Options) *Orchestrator {
	return NewOrchestrator(f.editor, f.memory, f.model, opts)
}

func (f *fixture) seedUserTurn(t *testing.T, text string) (*store.Chat, *store.Message) {
	t.Helper()
	chat, message, err := f.editor.BootstrapChat(context.Background(), &chain.Bootstrap{
		CreatorID: 1,
		Title:     "chat",
		Author:    store.AuthorUser,
		Config:    store.Config{Service: "mock", Model: "mock-model"},
		Data:      []store.DataPart{{Type: store.PartText, Value: text}},
	})
	require.NoError(t, err)
	return chat, message
}

func text(value string) ai.Delta {
	return ai.Delta{Type: ai.DeltaText, Value: value}
}

func TestRunFreshReply(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	chat, userTurn := f.seedUserTurn(t, "hello")

	f.model.ScriptDeltas(
		text("  Hi"),
		text(" there"),
		text("!"),
		ai.Delta{Type: ai.DeltaEnd, Metadata: &store.Metadata{
			Provider: store.MetadataProviderOpenAI,
			OpenAI:   &store.OpenAIMetadata{Model: "mock-model", FinishReason: "stop"},
		}},
	)

	result, err := f.orchestrator(Options{}).Run(ctx, userTurn.ID, nil)
	require.NoError(t, err)
	require.Len(t, result.Replies, 1)
	require.False(t, result.Canceled)

	ordered, err := f.editor.Chain(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, ordered, 2)

	reply := ordered[1]
	require.Equal(t, store.AuthorModel, reply.Author)
	require.Equal(t, userTurn.ID, *reply.PreviousID)

	t.Run("text deltas fold into one part with leading whitespace trimmed", func(t *testing.T) {
		require.Len(t, reply.Data, 1)
		require.Equal(t, store.PartText, reply.Data[0].Type)
		require.Equal(t, "Hi there!", reply.Data[0].Value)
	})

	t.Run("model defaults land in the reply config", func(t *testing.T) {
		require.Equal(t, 1.0, reply.Config.Args["temperature"])
	})

	t.Run("end metadata is persisted", func(t *testing.T) {
		withMeta, err := f.store.ListMessages(ctx, &store.FindMessage{ID: &reply.ID, WithMetadata: true})
		require.NoError(t, err)
		require.Len(t, withMeta, 1)
		require.NotNil(t, withMeta[0].Metadata)
		require.Equal(t, "stop", withMeta[0].Metadata.OpenAI.FinishReason)
	})
}

func TestRunReusesReplySlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	chat, userTurn := f.seedUserTurn(t, "hello")

	f.model.ScriptDeltas(text("first"), ai.Delta{Type: ai.DeltaEnd})
	_, err := f.orchestrator(Options{}).Run(ctx, userTurn.ID, nil)
	require.NoError(t, err)

	ordered, err := f.editor.Chain(ctx, chat.ID)
	require.NoError(t, err)
	firstReplyID := ordered[1].ID

	f.model.ScriptDeltas(text("second"), ai.Delta{Type: ai.DeltaEnd})
	result, err := f.orchestrator(Options{}).Run(ctx, userTurn.ID, nil)
	require.NoError(t, err)
	require.Len(t, result.Replies, 1)
	require.Equal(t, firstReplyID, result.Replies[0].ID)

	ordered, err = f.editor.Chain(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	require.Equal(t, "second", store.ExtractText(ordered[1].Data))
}

func TestRunResumesDownstreamTurns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	chat, u1 := f.seedUserTurn(t, "first question")

	m1, err := f.editor.Append(ctx, &chain.CreateMessage{
		ChatID: chat.ID, Author: store.AuthorModel,
		Data: []store.DataPart{{Type: store.PartText, Value: "stale answer"}},
	})
	require.NoError(t, err)
	u2, err := f.editor.Append(ctx, &chain.CreateMessage{
		ChatID: chat.ID, Author: store.AuthorUser,
		Config: store.Config{Service: "mock", Model: "mock-model"},
		Data:   []store.DataPart{{Type: store.PartText, Value: "second question"}},
	})
	require.NoError(t, err)
	m2, err := f.editor.Append(ctx, &chain.CreateMessage{
		ChatID: chat.ID, Author: store.AuthorModel,
		Data: []store.DataPart{{Type: store.PartText, Value: "stale answer 2"}},
	})
	require.NoError(t, err)

	f.model.ScriptDeltas(text("fresh 1"), ai.Delta{Type: ai.DeltaEnd})
	f.model.ScriptDeltas(text("fresh 2"), ai.Delta{Type: ai.DeltaEnd})

	result, err := f.orchestrator(Options{}).Run(ctx, u1.ID, nil)
	require.NoError(t, err)
	require.Len(t, result.Replies, 2)
	require.Equal(t, m1.ID, result.Replies[0].ID)
	require.Equal(t, m2.ID, result.Replies[1].ID)

	ordered, err := f.editor.Chain(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, ordered, 4)
	require.Equal(t, "fresh 1", store.ExtractText(ordered[1].Data))
	require.Equal(t, u2.ID, ordered[2].ID)
	require.Equal(t, "fresh 2", store.ExtractText(ordered[3].Data))
}

func TestRunThoughtAndAbortDeltas(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, userTurn := f.seedUserTurn(t, "hello")

	f.model.ScriptDeltas(
		ai.Delta{Type: ai.DeltaThought, Value: "pondering"},
		text("partial"),
		ai.Delta{Type: ai.DeltaAbort},
	)

	var updates []*Update
	var mu sync.Mutex
	result, err := f.orchestrator(Options{}).Run(ctx, userTurn.ID, func(u *Update) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.Len(t, result.Replies, 1)

	data := result.Replies[0].Data
	require.Len(t, data, 3)
	require.Equal(t, store.PartThought, data[0].Type)
	require.Equal(t, store.PartText, data[1].Type)
	require.Equal(t, store.PartAbort, data[2].Type)

	t.Run("final flush is marked done", func(t *testing.T) {
		mu.Lock()
		defer mu.Unlock()
		require.NotEmpty(t, updates)
		last := updates[len(updates)-1]
		require.True(t, last.Done)
		require.False(t, last.Thinking)
		require.False(t, last.Generating)
	})
}

func TestRunUpstreamRejection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	chat, userTurn := f.seedUserTurn(t, "please fail")
	// A second chat keeps the folder from cascading away with the pair.
	_, err := f.store.CreateChat(ctx, &store.Chat{ID: "other", FolderID: chat.FolderID, CreatorID: 1})
	require.NoError(t, err)

	f.model.GenerateErr = errors.New("quota exceeded")

	result, err := f.orchestrator(Options{}).Run(ctx, userTurn.ID, nil)
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.ErrCodeUpstreamFailure))
	require.Equal(t, "please fail", result.RestoredInput)

	// The reply pair is rolled back; the chat emptied out and was removed.
	chats, err := f.store.ListChats(ctx, &store.FindChat{ID: &chat.ID})
	require.NoError(t, err)
	require.Empty(t, chats)
}

func TestRunCancellation(t *testing.T) {
	f := newFixture(t)
	chat, userTurn := f.seedUserTurn(t, "long answer please")

	script := make([]ai.Delta, 50)
	for i := range script {
		script[i] = text("chunk ")
	}
	f.model.ScriptDeltas(script...)
	f.model.StepDelay = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(40 * time.Millisecond)
		cancel()
	}()

	result, err := f.orchestrator(Options{FlushInterval: time.Millisecond}).Run(ctx, userTurn.ID, nil)
	require.NoError(t, err)
	require.True(t, result.Canceled)
	require.Len(t, result.Replies, 1)

	ordered, err := f.editor.Chain(context.Background(), chat.ID)
	require.NoError(t, err)
	require.Len(t, ordered, 2)

	data := ordered[1].Data
	require.NotEmpty(t, data)
	require.Equal(t, store.PartAbort, data[len(data)-1].Type)
	require.Contains(t, store.ExtractText(data), "chunk")
}

func TestRunMemoryPreamble(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, userTurn := f.seedUserTurn(t, "what am I working on?")

	memChat, err := f.store.CreateChat(ctx, &store.Chat{ID: "past", FolderID: "past-folder", CreatorID: 1})
	require.NoError(t, err)
	created, err := f.memory.CreateBatch(ctx, 1, memChat.ID, store.Config{}, []memory.Fact{
		{Fact: "user is building a chat service in Go"},
	})
	require.NoError(t, err)

	f.model.EmbedFn = func(string) []float32 { return []float32{1, 0, 0} }
	require.NoError(t, f.store.UpdateMemoryEmbedding(ctx, created[0].ID, []float32{1, 0, 0}))

	f.model.ScriptDeltas(text("a chat service"), ai.Delta{Type: ai.DeltaEnd})
	_, err = f.orchestrator(Options{}).Run(ctx, userTurn.ID, nil)
	require.NoError(t, err)

	requests := f.model.Requests()
	require.Len(t, requests, 1)
	turns := requests[0].Turns
	require.GreaterOrEqual(t, len(turns), 2)
	require.Contains(t, turns[0].Text, "Relevant long-term user context:")
	require.Contains(t, turns[0].Text, "chat service in Go")
	require.Contains(t, turns[len(turns)-1].Text, "[user")
	require.Contains(t, turns[len(turns)-1].Text, "what am I working on?")
}

func TestRenderTurn(t *testing.T) {
	t.Run("user heading with file reference", func(t *testing.T) {
		m := &store.Message{
			Author:    store.AuthorUser,
			CreatedTs: 1000,
			Data: []store.DataPart{
				{Type: store.PartText, Value: "see attached"},
				{Type: store.PartFile, Name: "report.pdf", Mime: "application/pdf"},
			},
		}
		got := renderTurn(m, nil)
		require.Contains(t, got, "[user]")
		require.Contains(t, got, "see attached")
		require.Contains(t, got, "[attached file: report.pdf (application/pdf)]")
	})

	t.Run("assistant heading carries the model", func(t *testing.T) {
		m := &store.Message{
			Author:    store.AuthorModel,
			Config:    store.Config{Model: "gpt-4o-mini"},
			CreatedTs: 1000,
		}
		require.Contains(t, renderTurn(m, nil), "[assistant:model=gpt-4o-mini]")
	})

	t.Run("timing annotation for long gaps", func(t *testing.T) {
		prev := &store.Message{CreatedTs: 1000}
		m := &store.Message{Author: store.AuthorUser, CreatedTs: 1000 + 7200}
		require.Contains(t, renderTurn(m, prev), "[user, 2h later]")

		recent := &store.Message{Author: store.AuthorUser, CreatedTs: 1030}
		require.Contains(t, renderTurn(recent, prev), "[user]")
	})

	t.Run("hidden text is excluded", func(t *testing.T) {
		m := &store.Message{
			Author:    store.AuthorUser,
			CreatedTs: 1000,
			Data: []store.DataPart{
				{Type: store.PartText, Value: "visible"},
				{Type: store.PartText, Value: "secret", Hidden: true},
			},
		}
		got := renderTurn(m, nil)
		require.Contains(t, got, "visible")
		require.NotContains(t, got, "secret")
	})
}
