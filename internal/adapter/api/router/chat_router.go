package router

import (
	"github.com/labstack/echo/v4"

	"rentline/internal/adapter/api/handler"
	"rentline/internal/adapter/api/middleware"
)

func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware) {
	chatGroup := e.Group("/v1/chats")
	chatGroup.Use(authMiddleware.Authenticate)

	chatGroup.GET("", chatHandler.ListChats)                   // GET /v1/chats
	chatGroup.GET("/:id/messages", chatHandler.GetChatMessages) // GET /v1/chats/:id/messages
	chatGroup.POST("/messages", chatHandler.PostMessage)        // POST /v1/chats/messages
	chatGroup.DELETE("/:id", chatHandler.DeleteChat)            // DELETE /v1/chats/:id
}
