package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	errs "github.com/tinychat/tinychat/internal/errors"
	"github.com/tinychat/tinychat/plugin/ai/memory"
	"github.com/tinychat/tinychat/store"
)

// MemoryResponse is the wire shape of a long-term memory.
type MemoryResponse struct {
	ID         string                `json:"id"`
	ChatID     string                `json:"chatId"`
	Fact       string                `json:"fact"`
	Category   store.MemoryCategory  `json:"category"`
	Stability  store.MemoryStability `json:"stability"`
	Evidence   []string              `json:"evidence,omitempty"`
	Confidence float64               `json:"confidence"`
	Latest     bool                  `json:"latest"`
	CreatedTs  int64                 `json:"createdTs"`
}

func toMemoryResponse(m *store.Memory) *MemoryResponse {
	return &MemoryResponse{
		ID:         m.ID,
		ChatID:     m.ChatID,
		Fact:       m.Fact,
		Category:   m.Category,
		Stability:  m.Stability,
		Evidence:   m.Evidence,
		Confidence: m.Confidence,
		Latest:     m.Latest,
		CreatedTs:  m.CreatedTs,
	}
}

// CreateMemoriesRequest stores one extraction batch for a chat.
type CreateMemoriesRequest struct {
	ChatID string        `json:"chatId"`
	Config store.Config  `json:"config"`
	Facts  []memory.Fact `json:"facts"`
}

// CreateMemories handles POST /api/v1/memories. Prior memories of the chat
// are superseded, never deleted.
func (s *APIV1Service) CreateMemories(c echo.Context) error {
	request := &CreateMemoriesRequest{}
	if err := c.Bind(request); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: "malformed request body"})
	}
	created, err := s.Memory.CreateBatch(c.Request().Context(), creatorID(c), request.ChatID, request.Config, request.Facts)
	if err != nil {
		return respondError(c, err)
	}
	response := make([]*MemoryResponse, len(created))
	for i, m := range created {
		response[i] = toMemoryResponse(m)
	}
	return c.JSON(http.StatusCreated, map[string]any{"memories": response})
}

// ListMemories handles GET /api/v1/memories: the latest memory set of the
// acting user.
func (s *APIV1Service) ListMemories(c echo.Context) error {
	memories, err := s.Memory.ListLatest(c.Request().Context(), creatorID(c))
	if err != nil {
		return respondError(c, err)
	}
	response := make([]*MemoryResponse, len(memories))
	for i, m := range memories {
		response[i] = toMemoryResponse(m)
	}
	return c.JSON(http.StatusOK, map[string]any{"memories": response})
}

// ListRelevantMemoriesRequest ranks memories against a query text.
type ListRelevantMemoriesRequest struct {
	Query string `json:"query"`
}

// ListRelevantMemories handles POST /api/v1/memories/relevant.
func (s *APIV1Service) ListRelevantMemories(c echo.Context) error {
	request := &ListRelevantMemoriesRequest{}
	if err := c.Bind(request); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: "malformed request body"})
	}
	ctx := c.Request().Context()
	embeddings, err := s.Model.Embed(ctx, []string{request.Query})
	if err != nil {
		return respondError(c, errs.UpstreamFailure("failed to embed query", err))
	}
	if len(embeddings) == 0 {
		return c.JSON(http.StatusOK, map[string]any{"memories": []*MemoryResponse{}})
	}
	memories, err := s.Memory.ListRelevant(ctx, creatorID(c), embeddings[0], s.Rank)
	if err != nil {
		return respondError(c, err)
	}
	response := make([]*MemoryResponse, len(memories))
	for i, m := range memories {
		response[i] = toMemoryResponse(m)
	}
	return c.JSON(http.StatusOK, map[string]any{"memories": response})
}

// CreateSummaryRequest stores a chat summary.
type CreateSummaryRequest struct {
	ChatID  string       `json:"chatId"`
	Config  store.Config `json:"config"`
	Content string       `json:"content"`
}

// CreateSummary handles POST /api/v1/summaries.
func (s *APIV1Service) CreateSummary(c echo.Context) error {
	request := &CreateSummaryRequest{}
	if err := c.Bind(request); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: "malformed request body"})
	}
	summary, err := s.Memory.CreateSummary(c.Request().Context(), creatorID(c), request.ChatID, request.Config, request.Content)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"id": summary.ID})
}

// RunEmbeddingBackfill handles POST /api/v1/embeddings/run: a manual trigger
// of the backfill pass.
func (s *APIV1Service) RunEmbeddingBackfill(c echo.Context) error {
	s.EmbeddingJob.RunOnce(c.Request().Context())
	return c.NoContent(http.StatusAccepted)
}

// ResetEmbeddings handles POST /api/v1/embeddings/reset: nulls the acting
// user's vectors after an embedding model change.
func (s *APIV1Service) ResetEmbeddings(c echo.Context) error {
	if err := s.EmbeddingJob.Reset(c.Request().Context(), creatorID(c)); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
