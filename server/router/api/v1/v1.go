// Package v1 exposes the HTTP operation contract: messages, chats, folders,
// memories, embeddings, and clone sessions. Handlers are thin; the chain
// editor, memory service, and orchestrator own the semantics.
package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	errs "github.com/tinychat/tinychat/internal/errors"
	"github.com/tinychat/tinychat/internal/profile"
	"github.com/tinychat/tinychat/plugin/ai"
	"github.com/tinychat/tinychat/plugin/ai/memory"
	"github.com/tinychat/tinychat/plugin/ai/rank"
	"github.com/tinychat/tinychat/plugin/ai/session"
	"github.com/tinychat/tinychat/server/chain"
	"github.com/tinychat/tinychat/server/generation"
	"github.com/tinychat/tinychat/server/runner/embedding"
	"github.com/tinychat/tinychat/store"
)

// APIV1Service wires the HTTP surface to the core services.
type APIV1Service struct {
	Profile      *profile.Profile
	Store        *store.Store
	Editor       *chain.Editor
	Memory       *memory.Service
	Sessions     *session.Manager
	Model        ai.ModelService
	Orchestrator *generation.Orchestrator
	EmbeddingJob *embedding.Runner
	Rank         rank.Options
}

// NewAPIV1Service creates the HTTP service.
func NewAPIV1Service(p *profile.Profile, st *store.Store, model ai.ModelService, opts generation.Options) *APIV1Service {
	editor := chain.NewEditor(st)
	memoryService := memory.NewService(st)
	return &APIV1Service{
		Profile:      p,
		Store:        st,
		Editor:       editor,
		Memory:       memoryService,
		Sessions:     session.NewManager(0),
		Model:        model,
		Orchestrator: generation.NewOrchestrator(editor, memoryService, model, opts),
		EmbeddingJob: embedding.NewRunner(st, model),
		Rank:         opts.Rank,
	}
}

// RegisterRoutes mounts every v1 route on the echo instance.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")

	g.POST("/messages", s.CreateMessage)
	g.PATCH("/messages/:id", s.EditMessage)
	g.DELETE("/messages/:id", s.DeleteMessagePair)
	g.GET("/messages/:id/metadata", s.GetMessageMetadata)
	g.POST("/messages/:id/generate", s.GenerateReply)

	g.GET("/chats/:id", s.GetChat)
	g.GET("/chats/:id/messages", s.ListChatMessages)
	g.PATCH("/chats/:id", s.RenameChat)
	g.DELETE("/chats/:id", s.DeleteChat)
	g.POST("/chats/:id/clone", s.CloneChat)

	g.GET("/folders", s.ListFolders)

	g.POST("/memories", s.CreateMemories)
	g.GET("/memories", s.ListMemories)
	g.POST("/memories/relevant", s.ListRelevantMemories)
	g.POST("/summaries", s.CreateSummary)

	g.POST("/embeddings/run", s.RunEmbeddingBackfill)
	g.POST("/embeddings/reset", s.ResetEmbeddings)

	g.POST("/clone-sessions", s.StartCloneSession)
	g.POST("/clone-sessions/:id/accept", s.AcceptCloneSession)
	g.POST("/clone-sessions/:id/finalize", s.FinalizeCloneSession)
}

// creatorID resolves the acting user. Authentication is out of scope; the
// header is trusted and defaults to user 1.
func creatorID(c echo.Context) int32 {
	if v := c.Request().Header.Get("X-Creator-Id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 32); err == nil {
			return int32(id)
		}
	}
	return 1
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// respondError maps the error taxonomy onto HTTP statuses.
func respondError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	switch {
	case errs.IsCode(err, errs.ErrCodeNotFound):
		status, code = http.StatusNotFound, string(errs.ErrCodeNotFound)
	case errs.IsCode(err, errs.ErrCodeInvalidState):
		status, code = http.StatusConflict, string(errs.ErrCodeInvalidState)
	case errs.IsCode(err, errs.ErrCodeUpstreamFailure):
		status, code = http.StatusBadGateway, string(errs.ErrCodeUpstreamFailure)
	case errs.IsCode(err, errs.ErrCodeDataIntegrity):
		status, code = http.StatusInternalServerError, string(errs.ErrCodeDataIntegrity)
	case errs.IsCode(err, errs.ErrCodeCanceled):
		status, code = http.StatusConflict, string(errs.ErrCodeCanceled)
	}
	return c.JSON(status, errorResponse{Code: code, Message: err.Error()})
}
