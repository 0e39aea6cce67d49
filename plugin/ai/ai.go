// Package ai defines the model service capability: model discovery, default
// argument resolution, streaming generation, and embeddings.
package ai

import (
	"context"

	"github.com/tinychat/tinychat/store"
)

// DeltaType discriminates the typed deltas of a generation stream.
type DeltaType string

const (
	// DeltaThought carries reasoning text that is displayed but never fed
	// back into context.
	DeltaThought DeltaType = "thought"
	// DeltaText carries reply text.
	DeltaText DeltaType = "text"
	// DeltaFile carries a produced file part.
	DeltaFile DeltaType = "file"
	// DeltaAbort marks an upstream-initiated stop.
	DeltaAbort DeltaType = "abort"
	// DeltaEnd is the end-of-stream marker carrying response metadata.
	DeltaEnd DeltaType = "end"
)

// Delta is one element of a generation stream.
type Delta struct {
	Type  DeltaType
	Value string
	// File is set for DeltaFile.
	File *store.DataPart
	// Metadata is set for DeltaEnd.
	Metadata *store.Metadata
}

// Turn is one context message handed to the model, already rendered with its
// role heading and timing annotation.
type Turn struct {
	Author store.Author
	Text   string
}

// GenerateRequest describes a single generation call.
type GenerateRequest struct {
	Instructions string
	Turns        []Turn
	Config       store.Config
}

// Model identifies a model offered by a service.
type Model struct {
	Service string
	Name    string
}

// ArgSpec describes one configurable generation parameter: either a numeric
// range (Min/Max) or a closed set of choices, with an optional default that
// applies when the message config leaves the parameter unset.
type ArgSpec struct {
	Name    string
	Default any
	Min     *float64
	Max     *float64
	Choices []string
}

// ModelService is the capability the orchestrator and runners depend on.
// Generate returns an ordered delta stream; cancelling the context stops the
// stream, and the channel is closed after the final delta.
type ModelService interface {
	GetModels(ctx context.Context) ([]Model, error)
	// GetArgs describes the configurable generation parameters of a model.
	GetArgs(model string) []ArgSpec
	Generate(ctx context.Context, request *GenerateRequest) (<-chan Delta, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
