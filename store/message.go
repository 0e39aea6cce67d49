package store

import (
	"encoding/json"
	"strings"
)

// Author identifies who produced a message.
type Author string

const (
	AuthorUser  Author = "USER"
	AuthorModel Author = "MODEL"
)

// Config records the service/model/args combination used to produce a message.
type Config struct {
	Service string         `json:"service"`
	Model   string         `json:"model"`
	Args    map[string]any `json:"args,omitempty"`
}

// PartType discriminates the typed parts of a message body.
type PartType string

const (
	PartText           PartType = "text"
	PartThought        PartType = "thought"
	PartFile           PartType = "file"
	PartToolCall       PartType = "toolCall"
	PartToolCallReturn PartType = "toolCallReturn"
	PartAbort          PartType = "abort"
	PartOther          PartType = "other"
)

// DataPart is one element of a message body. The populated fields depend on
// Type; unknown producer output is carried through the Payload catch-all.
type DataPart struct {
	Type   PartType `json:"type"`
	Value  string   `json:"value,omitempty"`  // text, thought
	Hidden bool     `json:"hidden,omitempty"` // text excluded from display/extraction

	Name   string `json:"name,omitempty"` // file, toolCall
	Mime   string `json:"mime,omitempty"` // file
	URL    string `json:"url,omitempty"`  // file
	Inline bool   `json:"inline,omitempty"`

	CallID  string          `json:"id,omitempty"`      // toolCall, toolCallReturn
	Args    json.RawMessage `json:"args,omitempty"`    // toolCall
	Result  string          `json:"result,omitempty"`  // toolCallReturn: success/failure
	Payload json.RawMessage `json:"payload,omitempty"` // toolCallReturn, other
}

// MetadataProvider tags which variant of Metadata is populated.
type MetadataProvider string

const (
	MetadataProviderOpenAI  MetadataProvider = "openai"
	MetadataProviderUnknown MetadataProvider = "unknown"
)

// OpenAIMetadata is the decoded response metadata for OpenAI-compatible
// services.
type OpenAIMetadata struct {
	Model            string `json:"model,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	FinishReason     string `json:"finish_reason,omitempty"`
}

// Metadata is provider-specific response metadata. Known providers get a
// typed variant; everything else is kept as opaque bytes.
type Metadata struct {
	Provider MetadataProvider `json:"provider,omitempty"`
	OpenAI   *OpenAIMetadata  `json:"openai,omitempty"`
	Raw      json.RawMessage  `json:"raw,omitempty"`
}

// Message is one node of a chat's chain. PreviousID is nil for the root.
// Metadata is nil on list reads unless explicitly requested.
type Message struct {
	ID         string
	ChatID     string
	FolderID   string
	CreatorID  int32
	Author     Author
	Config     Config
	Data       []DataPart
	Metadata   *Metadata
	PreviousID *string
	Embedding  []float32
	CreatedTs  int64
}

// FindMessage specifies the conditions for finding messages.
type FindMessage struct {
	ID        *string
	IDs       []string
	ChatID    *string
	FolderID  *string
	CreatorID *int32
	// WithMetadata includes the metadata column, which is omitted by default
	// to keep list reads small.
	WithMetadata bool
	// MissingEmbedding restricts to messages without an embedding, excluding
	// messages in temporary chats.
	MissingEmbedding bool
	Limit            int
}

// UpdateMessage specifies an in-place content update. The creation timestamp
// is reset by the caller so edited messages sort as most recent.
type UpdateMessage struct {
	ID        string
	Author    *Author
	Config    *Config
	Data      []DataPart
	Metadata  *Metadata
	CreatedTs *int64
}

// DeleteMessage deletes messages by id set or whole chat.
type DeleteMessage struct {
	IDs    []string
	ChatID *string
}

// RelinkMessages re-points every message in a chat whose PreviousID matches
// PreviousID to NewPreviousID, optionally excluding one message id. This is
// the single primitive the chain editor needs to splice nodes.
type RelinkMessages struct {
	ChatID        string
	PreviousID    *string
	NewPreviousID *string
	ExcludeID     *string
}

// ExtractText concatenates the visible text parts of a message body.
func ExtractText(data []DataPart) string {
	var sb strings.Builder
	for _, part := range data {
		if part.Type != PartText || part.Hidden {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(part.Value)
	}
	return sb.String()
}

// ScrubText collapses whitespace runs and truncates to maxLen runes.
// maxLen <= 0 means no limit.
func ScrubText(s string, maxLen int) string {
	scrubbed := strings.Join(strings.Fields(s), " ")
	if maxLen > 0 {
		runes := []rune(scrubbed)
		if len(runes) > maxLen {
			return string(runes[:maxLen])
		}
	}
	return scrubbed
}
