package router

import (
	"github.com/labstack/echo/v4"

	"rentline/internal/adapter/api/handler"
)

// SetupWebSocketRouter registers the realtime endpoint. Token verification
// happens inside the handler because the handshake carries the token in the
// query string, not in an Authorization header.
func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler) {
	e.GET("/ws", wsHandler.HandleWebSocket)
}
