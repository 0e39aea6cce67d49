package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tinychat/tinychat/store"
)

// ChatResponse is the wire shape of a chat.
type ChatResponse struct {
	ID        string `json:"id"`
	FolderID  string `json:"folderId"`
	Title     string `json:"title"`
	Temporary bool   `json:"temporary"`
	Incognito bool   `json:"incognito"`
	CreatedTs int64  `json:"createdTs"`
}

func toChatResponse(chat *store.Chat) *ChatResponse {
	return &ChatResponse{
		ID:        chat.ID,
		FolderID:  chat.FolderID,
		Title:     chat.Title,
		Temporary: chat.Temporary,
		Incognito: chat.Incognito,
		CreatedTs: chat.CreatedTs,
	}
}

// GetChat handles GET /api/v1/chats/:id.
func (s *APIV1Service) GetChat(c echo.Context) error {
	chat, err := s.Store.GetChat(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	if chat == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: "chat not found"})
	}
	return c.JSON(http.StatusOK, toChatResponse(chat))
}

// ListChatMessages handles GET /api/v1/chats/:id/messages. Messages come
// back in chain order.
func (s *APIV1Service) ListChatMessages(c echo.Context) error {
	ordered, err := s.Editor.Chain(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	messages := make([]*MessageResponse, len(ordered))
	for i, m := range ordered {
		messages[i] = toMessageResponse(m)
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": messages})
}

// RenameChatRequest renames a chat.
type RenameChatRequest struct {
	Title string `json:"title"`
}

// RenameChat handles PATCH /api/v1/chats/:id.
func (s *APIV1Service) RenameChat(c echo.Context) error {
	request := &RenameChatRequest{}
	if err := c.Bind(request); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: "malformed request body"})
	}
	if err := s.Editor.RenameChat(c.Request().Context(), c.Param("id"), request.Title); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteChat handles DELETE /api/v1/chats/:id. Deleting a folder's only chat
// removes the folder as well.
func (s *APIV1Service) DeleteChat(c echo.Context) error {
	if err := s.Editor.DeleteChat(c.Request().Context(), c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CloneChatRequest forks a chat at a message.
type CloneChatRequest struct {
	UntilMessageID string `json:"untilMessageId"`
	Title          string `json:"title"`
}

// CloneChat handles POST /api/v1/chats/:id/clone.
func (s *APIV1Service) CloneChat(c echo.Context) error {
	request := &CloneChatRequest{}
	if err := c.Bind(request); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: "malformed request body"})
	}
	clone, err := s.Editor.CloneUntil(c.Request().Context(), c.Param("id"), request.UntilMessageID, request.Title)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, toChatResponse(clone))
}

// FolderResponse is the wire shape of a folder.
type FolderResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedTs int64  `json:"createdTs"`
}

// ListFolders handles GET /api/v1/folders. Folders whose chats are all
// temporary are hidden.
func (s *APIV1Service) ListFolders(c echo.Context) error {
	creator := creatorID(c)
	folders, err := s.Store.ListFolders(c.Request().Context(), &store.FindFolder{
		CreatorID:        &creator,
		ExcludeTemporary: true,
	})
	if err != nil {
		return respondError(c, err)
	}
	response := make([]*FolderResponse, len(folders))
	for i, folder := range folders {
		response[i] = &FolderResponse{ID: folder.ID, Title: folder.Title, CreatedTs: folder.CreatedTs}
	}
	return c.JSON(http.StatusOK, map[string]any{"folders": response})
}

// StartCloneSessionRequest opens a fork handshake.
type StartCloneSessionRequest struct {
	ChatID         string `json:"chatId"`
	UntilMessageID string `json:"untilMessageId"`
	Title          string `json:"title"`
}

// StartCloneSession handles POST /api/v1/clone-sessions.
func (s *APIV1Service) StartCloneSession(c echo.Context) error {
	request := &StartCloneSessionRequest{}
	if err := c.Bind(request); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: "malformed request body"})
	}
	created := s.Sessions.Start(creatorID(c), request.ChatID, request.UntilMessageID, request.Title)
	return c.JSON(http.StatusCreated, map[string]any{
		"id":     created.ID,
		"status": created.Status,
	})
}

// AcceptCloneSession handles POST /api/v1/clone-sessions/:id/accept.
func (s *APIV1Service) AcceptCloneSession(c echo.Context) error {
	accepted, err := s.Sessions.Accept(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"id":     accepted.ID,
		"status": accepted.Status,
		"chatId": accepted.ChatID,
	})
}

// FinalizeCloneSession handles POST /api/v1/clone-sessions/:id/finalize. The
// accepted session is consumed and the actual fork is performed.
func (s *APIV1Service) FinalizeCloneSession(c echo.Context) error {
	finalized, err := s.Sessions.Finalize(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	clone, err := s.Editor.CloneUntil(c.Request().Context(), finalized.ChatID, finalized.UntilMessageID, finalized.NewTitle)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, toChatResponse(clone))
}
