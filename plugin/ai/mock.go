package ai

import (
	"context"
	"math"
	"sync"
	"time"
)

// Mock is a scripted ModelService for tests. Each Generate call plays the
// next delta script; Embed derives a small deterministic vector from the
// text unless EmbedFn is set.
type Mock struct {
	mu       sync.Mutex
	scripts  [][]Delta
	requests []*GenerateRequest

	// GenerateErr makes Generate fail before streaming anything.
	GenerateErr error
	// StepDelay spaces out scripted deltas so tests can cancel mid-stream.
	StepDelay time.Duration
	// EmbedFn overrides the default embedding derivation.
	EmbedFn func(text string) []float32
	// EmbedErr makes Embed fail.
	EmbedErr error
}

// NewMock creates an empty scripted model service.
func NewMock() *Mock {
	return &Mock{}
}

// ScriptDeltas queues the delta sequence for the next Generate call.
func (m *Mock) ScriptDeltas(deltas ...Delta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, deltas)
}

// Requests returns the recorded Generate requests.
func (m *Mock) Requests() []*GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*GenerateRequest{}, m.requests...)
}

func (m *Mock) GetModels(context.Context) ([]Model, error) {
	return []Model{{Service: "mock", Name: "mock-model"}}, nil
}

func (m *Mock) GetArgs(string) []ArgSpec {
	return []ArgSpec{{Name: "temperature", Default: 1.0}}
}

func (m *Mock) Generate(ctx context.Context, request *GenerateRequest) (<-chan Delta, error) {
	m.mu.Lock()
	if m.GenerateErr != nil {
		err := m.GenerateErr
		m.mu.Unlock()
		return nil, err
	}
	m.requests = append(m.requests, request)
	var script []Delta
	if len(m.scripts) > 0 {
		script = m.scripts[0]
		m.scripts = m.scripts[1:]
	}
	delay := m.StepDelay
	m.mu.Unlock()

	deltas := make(chan Delta)
	go func() {
		defer close(deltas)
		for _, delta := range script {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case deltas <- delta:
			case <-ctx.Done():
				return
			}
		}
	}()
	return deltas, nil
}

func (m *Mock) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if m.EmbedErr != nil {
		return nil, m.EmbedErr
	}
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if m.EmbedFn != nil {
			embeddings[i] = m.EmbedFn(text)
			continue
		}
		embeddings[i] = deriveVector(text)
	}
	return embeddings, nil
}

// deriveVector maps text onto a tiny stable unit vector so similarity
// ordering in tests follows shared prefixes.
func deriveVector(text string) []float32 {
	v := make([]float32, 4)
	for i, r := range text {
		v[i%4] += float32(r%13) / 13
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}
