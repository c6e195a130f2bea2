package handler

import (
	"github.com/labstack/echo/v4"

	"rentline/internal/usecase"
	"rentline/pkg/response"
)

type ChatHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase) *ChatHandler {
	return &ChatHandler{
		chatUseCase: chatUseCase,
	}
}

type postMessageRequest struct {
	Text        string `json:"text" validate:"required"`
	OtherUserID string `json:"other_user_id" validate:"required"`
	ChatID      string `json:"chat_id"`
	ListingID   string `json:"listing_id"`
}

// ListChats returns the caller's visible threads, most recent first.
func (h *ChatHandler) ListChats(c echo.Context) error {
	userID := c.Get("uid").(string)

	threads, err := h.chatUseCase.ListThreads(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, threads)
}

// GetChatMessages returns the thread's messages and marks them read for the
// caller.
func (h *ChatHandler) GetChatMessages(c echo.Context) error {
	userID := c.Get("uid").(string)
	chatID := c.Param("id")

	messages, err := h.chatUseCase.GetThreadMessages(c.Request().Context(), userID, chatID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, messages)
}

// PostMessage sends a message, creating the thread on first contact.
func (h *ChatHandler) PostMessage(c echo.Context) error {
	var req postMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	message, err := h.chatUseCase.PostMessage(c.Request().Context(), userID, usecase.PostMessageInput{
		Text:        req.Text,
		RecipientID: req.OtherUserID,
		ThreadID:    req.ChatID,
		ListingID:   req.ListingID,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// DeleteChat hides the thread for the caller and purges it once both sides
// have deleted it.
func (h *ChatHandler) DeleteChat(c echo.Context) error {
	userID := c.Get("uid").(string)
	chatID := c.Param("id")

	if err := h.chatUseCase.DeleteThread(c.Request().Context(), userID, chatID); err != nil {
		return response.Error(c, err)
	}

	return response.NoContent(c)
}
