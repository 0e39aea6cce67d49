// Package generation executes reply turns: it prepares a reply slot on the
// chain, assembles model context with relevant long-term memories, folds the
// streamed delta sequence into message parts, publishes throttled progress
// snapshots, and persists the result.
package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	errs "github.com/tinychat/tinychat/internal/errors"
	"github.com/tinychat/tinychat/plugin/ai"
	"github.com/tinychat/tinychat/plugin/ai/memory"
	"github.com/tinychat/tinychat/plugin/ai/rank"
	"github.com/tinychat/tinychat/server/chain"
	"github.com/tinychat/tinychat/store"
)

const (
	defaultFlushInterval = 33 * time.Millisecond
	memoryPreamble       = "Relevant long-term user context:"
)

// Update is one progress snapshot of an in-flight reply. Snapshots are
// monotonically non-decreasing in content.
type Update struct {
	MessageID  string
	Data       []store.DataPart
	Thinking   bool
	Generating bool
	Done       bool
}

// FlushFunc receives throttled progress snapshots. A final flush always
// happens at stream end or cancellation.
type FlushFunc func(update *Update)

// Options tune the orchestrator.
type Options struct {
	// Instructions is the system prompt sent with every generation.
	Instructions string
	// FlushInterval bounds the snapshot cadence. Default 33ms.
	FlushInterval time.Duration
	// Rank tunes memory retrieval.
	Rank rank.Options
}

// Orchestrator composes the chain editor, memory service, and model service
// to run reply turns.
type Orchestrator struct {
	editor *chain.Editor
	memory *memory.Service
	model  ai.ModelService
	opts   Options
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(editor *chain.Editor, memoryService *memory.Service, model ai.ModelService, opts Options) *Orchestrator {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	return &Orchestrator{
		editor: editor,
		memory: memoryService,
		model:  model,
		opts:   opts,
	}
}

// Result reports what a run produced.
type Result struct {
	// Replies are the persisted MODEL messages, one per processed user turn.
	Replies []*store.Message
	// RestoredInput carries the user's original text when the model service
	// rejected the request and the reply pair was rolled back.
	RestoredInput string
	// Canceled is set when the run ended through cancellation. The partial
	// reply is persisted, not discarded.
	Canceled bool
}

// Run produces a model reply for the user turn identified by messageID and
// for every downstream user turn in chain order (resuming after an upstream
// edit re-executes the dependent turns). flush may be nil.
func (o *Orchestrator) Run(ctx context.Context, messageID string, flush FlushFunc) (*Result, error) {
	if flush == nil {
		flush = func(*Update) {}
	}
	origin, err := o.editor.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if origin.Author != store.AuthorUser {
		return nil, errs.InvalidState("message %s is not a user turn", messageID)
	}

	result := &Result{}
	currentID := origin.ID
	for {
		ordered, err := o.editor.Chain(ctx, origin.ChatID)
		if err != nil {
			return result, err
		}
		index := indexOf(ordered, currentID)
		if index < 0 {
			return result, errs.NotFound("message %s not in chain of chat %s", currentID, origin.ChatID)
		}

		// Advance to the next user turn at or after the cursor.
		for index < len(ordered) && ordered[index].Author != store.AuthorUser {
			index++
		}
		if index >= len(ordered) {
			return result, nil
		}
		userTurn := ordered[index]

		reply, err := o.prepareReplySlot(ctx, ordered, index)
		if err != nil {
			return result, err
		}
		done, err := o.runTurn(ctx, ordered[:index+1], userTurn, reply, result, flush)
		if err != nil || done {
			return result, err
		}
		currentID = reply.ID
	}
}

// runTurn executes one generation. It returns done=true when the run should
// stop (cancellation).
func (o *Orchestrator) runTurn(ctx context.Context, history []*store.Message, userTurn, reply *store.Message, result *Result, flush FlushFunc) (bool, error) {
	turns := o.assembleContext(ctx, userTurn, history)
	config := o.replyConfig(userTurn)

	deltas, err := o.model.Generate(ctx, &ai.GenerateRequest{
		Instructions: o.opts.Instructions,
		Turns:        turns,
		Config:       config,
	})
	if err != nil {
		if ctx.Err() != nil {
			result.Canceled = true
			return true, nil
		}
		// Reject path: roll back the reply pair and hand the user their
		// input back for retry.
		result.RestoredInput = store.ExtractText(userTurn.Data)
		if _, delErr := o.editor.DeletePair(ctx, reply.ID); delErr != nil {
			slog.Error("failed to roll back reply pair", "reply_id", reply.ID, "error", delErr)
		}
		return true, errs.UpstreamFailure("model service rejected the request", err)
	}

	data, metadata, canceled := o.consume(ctx, reply.ID, deltas, flush)

	// Persist even when ctx was canceled mid-stream: partial replies are
	// kept, so the write needs a live context.
	persistCtx := context.WithoutCancel(ctx)
	if err := o.editor.Edit(persistCtx, &chain.EditMessage{
		ID:       reply.ID,
		Config:   &config,
		Data:     data,
		Metadata: metadata,
	}); err != nil {
		return true, err
	}
	reply.Data = data
	reply.Metadata = metadata
	reply.Config = config
	result.Replies = append(result.Replies, reply)
	if canceled {
		result.Canceled = true
		return true, nil
	}
	return false, nil
}

// prepareReplySlot reuses the reply already linked after the user turn when
// one exists (regeneration keeps chain links that forks depend on) and
// appends a fresh MODEL message otherwise.
func (o *Orchestrator) prepareReplySlot(ctx context.Context, ordered []*store.Message, index int) (*store.Message, error) {
	userTurn := ordered[index]
	if index+1 < len(ordered) && ordered[index+1].Author == store.AuthorModel {
		reply := ordered[index+1]
		if err := o.editor.Edit(ctx, &chain.EditMessage{ID: reply.ID, Data: []store.DataPart{}}); err != nil {
			return nil, err
		}
		reply.Data = []store.DataPart{}
		return reply, nil
	}
	return o.editor.InsertAfter(ctx, userTurn.ID, &chain.CreateMessage{
		ChatID: userTurn.ChatID,
		Author: store.AuthorModel,
		Config: o.replyConfig(userTurn),
		Data:   []store.DataPart{},
	})
}

// replyConfig derives the reply's generation config from the user turn,
// filling unset args with the model's defaults.
func (o *Orchestrator) replyConfig(userTurn *store.Message) store.Config {
	config := store.Config{
		Service: userTurn.Config.Service,
		Model:   userTurn.Config.Model,
		Args:    map[string]any{},
	}
	for _, arg := range o.model.GetArgs(config.Model) {
		if arg.Default == nil {
			continue
		}
		config.Args[arg.Name] = arg.Default
	}
	for k, v := range userTurn.Config.Args {
		config.Args[k] = v
	}
	return config
}

// assembleContext renders the chain history into model turns, preceded by a
// synthetic long-term-context turn when any memories match the user turn.
// Memory retrieval is best effort: an embedding failure degrades to a
// memory-less context instead of failing the generation.
func (o *Orchestrator) assembleContext(ctx context.Context, userTurn *store.Message, history []*store.Message) []ai.Turn {
	turns := []ai.Turn{}
	if preamble := o.memoryContext(ctx, userTurn); preamble != "" {
		turns = append(turns, ai.Turn{Author: store.AuthorUser, Text: preamble})
	}
	var prev *store.Message
	for _, message := range history {
		turns = append(turns, ai.Turn{
			Author: message.Author,
			Text:   renderTurn(message, prev),
		})
		prev = message
	}
	return turns
}

func (o *Orchestrator) memoryContext(ctx context.Context, userTurn *store.Message) string {
	text := store.ExtractText(userTurn.Data)
	if text == "" {
		return ""
	}
	embeddings, err := o.model.Embed(ctx, []string{text})
	if err != nil || len(embeddings) == 0 {
		slog.Warn("query embedding failed, generating without memories", "error", err)
		return ""
	}
	memories, err := o.memory.ListRelevant(ctx, userTurn.CreatorID, embeddings[0], o.opts.Rank)
	if err != nil {
		slog.Warn("memory retrieval failed, generating without memories", "error", err)
		return ""
	}
	if len(memories) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(memoryPreamble)
	for _, m := range memories {
		sb.WriteString("\n- ")
		sb.WriteString(m.Fact)
	}
	return sb.String()
}

// renderTurn reshapes one message into context text: a role heading with a
// timing annotation, visible text, and explicit inline references for file
// attachments.
func renderTurn(message, prev *store.Message) string {
	heading := "[user"
	if message.Author == store.AuthorModel {
		heading = "[assistant"
		if message.Config.Model != "" {
			heading += ":model=" + message.Config.Model
		}
	}
	if prev != nil {
		if gap := message.CreatedTs - prev.CreatedTs; gap >= 60 {
			heading += ", " + formatGap(gap) + " later"
		}
	}
	heading += "]"

	var sb strings.Builder
	sb.WriteString(heading)
	for _, part := range message.Data {
		switch part.Type {
		case store.PartText:
			if part.Hidden || part.Value == "" {
				continue
			}
			sb.WriteString("\n")
			sb.WriteString(part.Value)
		case store.PartFile:
			sb.WriteString("\n")
			sb.WriteString(fmt.Sprintf("[attached file: %s (%s)]", part.Name, part.Mime))
		}
	}
	return sb.String()
}

func formatGap(seconds int64) string {
	switch {
	case seconds >= 86400:
		return fmt.Sprintf("%dd", seconds/86400)
	case seconds >= 3600:
		return fmt.Sprintf("%dh", seconds/3600)
	default:
		return fmt.Sprintf("%dm", seconds/60)
	}
}

// consume folds the delta stream into message parts, flushing snapshots at a
// bounded cadence. Returns the folded data, end-of-stream metadata, and
// whether the stream ended through cancellation.
func (o *Orchestrator) consume(ctx context.Context, messageID string, deltas <-chan ai.Delta, flush FlushFunc) ([]store.DataPart, *store.Metadata, bool) {
	data := []store.DataPart{}
	var metadata *store.Metadata
	thinking, generating, sawText := false, false, false
	canceled := false
	lastFlush := time.Time{}

	maybeFlush := func(force bool) {
		if !force && time.Since(lastFlush) < o.opts.FlushInterval {
			return
		}
		lastFlush = time.Now()
		flush(&Update{
			MessageID:  messageID,
			Data:       snapshot(data),
			Thinking:   thinking,
			Generating: generating,
			Done:       force,
		})
	}

loop:
	for {
		select {
		case <-ctx.Done():
			data = append(data, store.DataPart{Type: store.PartAbort})
			canceled = true
			break loop
		case delta, ok := <-deltas:
			if !ok {
				break loop
			}
			switch delta.Type {
			case ai.DeltaThought:
				data = append(data, store.DataPart{Type: store.PartThought, Value: delta.Value})
				thinking = true
			case ai.DeltaText:
				value := delta.Value
				if !sawText {
					value = strings.TrimLeft(value, " \t\r\n")
				}
				if value == "" {
					continue
				}
				sawText = true
				thinking, generating = false, true
				if n := len(data); n > 0 && data[n-1].Type == store.PartText {
					data[n-1].Value += value
				} else {
					data = append(data, store.DataPart{Type: store.PartText, Value: value})
				}
			case ai.DeltaFile:
				if delta.File != nil {
					data = append(data, *delta.File)
				}
			case ai.DeltaAbort:
				data = append(data, store.DataPart{Type: store.PartAbort, Value: delta.Value})
				break loop
			case ai.DeltaEnd:
				metadata = delta.Metadata
				break loop
			}
			maybeFlush(false)
		}
	}

	generating = false
	thinking = false
	maybeFlush(true)
	return data, metadata, canceled
}

func snapshot(data []store.DataPart) []store.DataPart {
	copied := make([]store.DataPart, len(data))
	copy(copied, data)
	return copied
}

func indexOf(messages []*store.Message, id string) int {
	for i, m := range messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}
