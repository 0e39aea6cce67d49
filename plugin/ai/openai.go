package ai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"time"

	pkgerrors "github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/tinychat/tinychat/store"
)

// Config holds the OpenAI-compatible service configuration.
type Config struct {
	BaseURL        string
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	MaxRetries     int
	Timeout        time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "https://api.openai.com/v1",
		ChatModel:      "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		MaxRetries:     3,
		Timeout:        30 * time.Second,
	}
}

// OpenAI implements ModelService against any OpenAI-compatible endpoint.
type OpenAI struct {
	client *openai.Client
	config *Config
}

// NewOpenAI creates a model service backed by an OpenAI-compatible API.
func NewOpenAI(cfg *Config) (*OpenAI, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}, nil
}

func (s *OpenAI) GetModels(ctx context.Context) ([]Model, error) {
	list, err := s.client.ListModels(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list models")
	}
	models := make([]Model, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, Model{Service: "openai", Name: m.ID})
	}
	return models, nil
}

// GetArgs describes the generation parameters every chat model accepts.
// Callers may override any default through the message config.
func (s *OpenAI) GetArgs(string) []ArgSpec {
	return []ArgSpec{
		{Name: "temperature", Default: 1.0, Min: rangeBound(0), Max: rangeBound(2)},
		{Name: "max_tokens", Min: rangeBound(1)},
	}
}

func rangeBound(v float64) *float64 { return &v }

func (s *OpenAI) Generate(ctx context.Context, request *GenerateRequest) (<-chan Delta, error) {
	model := request.Config.Model
	if model == "" {
		model = s.config.ChatModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(request.Turns)+1)
	if request.Instructions != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: request.Instructions,
		})
	}
	for _, turn := range request.Turns {
		role := openai.ChatMessageRoleUser
		if turn.Author == store.AuthorModel {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Text})
	}

	req := openai.ChatCompletionRequest{
		Model:         model,
		Messages:      messages,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if v, ok := request.Config.Args["temperature"].(float64); ok {
		req.Temperature = float32(v)
	}
	if v, ok := request.Config.Args["max_tokens"].(float64); ok {
		req.MaxTokens = int(v)
	}

	stream, err := s.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to open completion stream")
	}

	deltas := make(chan Delta)
	go s.consume(ctx, stream, model, deltas)
	return deltas, nil
}

func (s *OpenAI) consume(ctx context.Context, stream *openai.ChatCompletionStream, model string, deltas chan<- Delta) {
	defer close(deltas)
	defer stream.Close()

	metadata := &store.Metadata{
		Provider: store.MetadataProviderOpenAI,
		OpenAI:   &store.OpenAIMetadata{Model: model},
	}
	for {
		response, err := stream.Recv()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				send(ctx, deltas, Delta{Type: DeltaEnd, Metadata: metadata})
			case errors.Is(err, context.Canceled):
				send(ctx, deltas, Delta{Type: DeltaAbort})
			default:
				slog.Warn("completion stream failed mid-read", "error", err)
				send(ctx, deltas, Delta{Type: DeltaAbort, Value: err.Error()})
			}
			return
		}
		if response.Usage != nil {
			metadata.OpenAI.PromptTokens = response.Usage.PromptTokens
			metadata.OpenAI.CompletionTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]
		if choice.FinishReason != "" {
			metadata.OpenAI.FinishReason = string(choice.FinishReason)
		}
		if choice.Delta.ReasoningContent != "" {
			if !send(ctx, deltas, Delta{Type: DeltaThought, Value: choice.Delta.ReasoningContent}) {
				return
			}
		}
		if choice.Delta.Content != "" {
			if !send(ctx, deltas, Delta{Type: DeltaText, Value: choice.Delta.Content}) {
				return
			}
		}
	}
}

func send(ctx context.Context, deltas chan<- Delta, delta Delta) bool {
	select {
	case deltas <- delta:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var result [][]float32
	err := s.doWithRetry(ctx, func() error {
		resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(s.config.EmbeddingModel),
		})
		if err != nil {
			return err
		}
		if len(resp.Data) != len(texts) {
			return pkgerrors.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
		}
		result = make([][]float32, len(resp.Data))
		for i, d := range resp.Data {
			result[i] = d.Embedding
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to generate embeddings")
	}
	return result, nil
}

// doWithRetry executes a function with exponential backoff retry.
func (s *OpenAI) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt < s.config.MaxRetries-1 {
			waitTime := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			slog.Debug("model request failed, retrying",
				"attempt", attempt+1,
				"wait_time", waitTime,
				"error", lastErr)
			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}
