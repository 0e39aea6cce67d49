package v1

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tinychat/tinychat/server/chain"
	"github.com/tinychat/tinychat/server/generation"
	"github.com/tinychat/tinychat/store"
)

// MessageResponse is the wire shape of a message. Metadata is omitted; it is
// fetched separately by id.
type MessageResponse struct {
	ID         string           `json:"id"`
	ChatID     string           `json:"chatId"`
	FolderID   string           `json:"folderId"`
	Author     store.Author     `json:"author"`
	Config     store.Config     `json:"config"`
	Data       []store.DataPart `json:"data"`
	PreviousID *string          `json:"previousId"`
	CreatedTs  int64            `json:"createdTs"`
}

func toMessageResponse(m *store.Message) *MessageResponse {
	return &MessageResponse{
		ID:         m.ID,
		ChatID:     m.ChatID,
		FolderID:   m.FolderID,
		Author:     m.Author,
		Config:     m.Config,
		Data:       m.Data,
		PreviousID: m.PreviousID,
		CreatedTs:  m.CreatedTs,
	}
}

// CreateMessageRequest creates a message. Without a chatId a new folder and
// chat are bootstrapped around it; with an afterId the message is spliced
// into the chain instead of appended.
type CreateMessageRequest struct {
	ChatID    string           `json:"chatId"`
	AfterID   string           `json:"afterId"`
	Title     string           `json:"title"`
	Temporary bool             `json:"temporary"`
	Incognito bool             `json:"incognito"`
	Author    store.Author     `json:"author"`
	Config    store.Config     `json:"config"`
	Data      []store.DataPart `json:"data"`
}

// CreateMessage handles POST /api/v1/messages.
func (s *APIV1Service) CreateMessage(c echo.Context) error {
	request := &CreateMessageRequest{}
	if err := c.Bind(request); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: "malformed request body"})
	}
	if request.Author == "" {
		request.Author = store.AuthorUser
	}
	ctx := c.Request().Context()

	if request.ChatID == "" {
		chat, message, err := s.Editor.BootstrapChat(ctx, &chain.Bootstrap{
			CreatorID: creatorID(c),
			Title:     request.Title,
			Temporary: request.Temporary,
			Incognito: request.Incognito,
			Author:    request.Author,
			Config:    request.Config,
			Data:      request.Data,
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusCreated, map[string]any{
			"chatId":  chat.ID,
			"message": toMessageResponse(message),
		})
	}

	create := &chain.CreateMessage{
		ChatID:    request.ChatID,
		Author:    request.Author,
		Temporary: request.Temporary,
		Config:    request.Config,
		Data:      request.Data,
	}
	var message *store.Message
	var err error
	if request.AfterID != "" {
		message, err = s.Editor.InsertAfter(ctx, request.AfterID, create)
	} else {
		message, err = s.Editor.Append(ctx, create)
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"chatId":  request.ChatID,
		"message": toMessageResponse(message),
	})
}

// EditMessageRequest updates a message in place; truncate discards the rest
// of the chain first.
type EditMessageRequest struct {
	Data     []store.DataPart `json:"data"`
	Config   *store.Config    `json:"config"`
	Truncate bool             `json:"truncate"`
}

// EditMessage handles PATCH /api/v1/messages/:id.
func (s *APIV1Service) EditMessage(c echo.Context) error {
	request := &EditMessageRequest{}
	if err := c.Bind(request); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: "malformed request body"})
	}
	err := s.Editor.Edit(c.Request().Context(), &chain.EditMessage{
		ID:       c.Param("id"),
		Data:     request.Data,
		Config:   request.Config,
		Truncate: request.Truncate,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteMessagePair handles DELETE /api/v1/messages/:id.
func (s *APIV1Service) DeleteMessagePair(c echo.Context) error {
	result, err := s.Editor.DeletePair(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"deletedMessageIds": result.DeletedMessageIDs,
		"deletedChatId":     result.DeletedChatID,
		"deletedFolderId":   result.DeletedFolderID,
	})
}

// GetMessageMetadata handles GET /api/v1/messages/:id/metadata.
func (s *APIV1Service) GetMessageMetadata(c echo.Context) error {
	id := c.Param("id")
	messages, err := s.Store.ListMessages(c.Request().Context(), &store.FindMessage{ID: &id, WithMetadata: true})
	if err != nil {
		return respondError(c, err)
	}
	if len(messages) == 0 {
		return c.JSON(http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: "message not found"})
	}
	return c.JSON(http.StatusOK, map[string]any{"metadata": messages[0].Metadata})
}

// GenerateReply handles POST /api/v1/messages/:id/generate. The response is
// a server-sent event stream of reply snapshots, terminated by the run
// result.
func (s *APIV1Service) GenerateReply(c echo.Context) error {
	response := c.Response()
	response.Header().Set(echo.HeaderContentType, "text/event-stream")
	response.Header().Set("Cache-Control", "no-cache")
	response.WriteHeader(http.StatusOK)

	writeEvent := func(event string, payload any) {
		raw, err := json.Marshal(payload)
		if err != nil {
			return
		}
		fmt.Fprintf(response, "event: %s\ndata: %s\n\n", event, raw)
		response.Flush()
	}

	result, err := s.Orchestrator.Run(c.Request().Context(), c.Param("id"), func(update *generation.Update) {
		writeEvent("update", update)
	})
	if err != nil {
		writeEvent("error", errorResponse{Code: "UPSTREAM_FAILURE", Message: err.Error()})
		if result != nil && result.RestoredInput != "" {
			writeEvent("restoredInput", map[string]string{"input": result.RestoredInput})
		}
		return nil
	}

	replies := make([]*MessageResponse, len(result.Replies))
	for i, reply := range result.Replies {
		replies[i] = toMessageResponse(reply)
	}
	writeEvent("done", map[string]any{
		"replies":  replies,
		"canceled": result.Canceled,
	})
	return nil
}
