package handler

import (
	"net/http"
	"strings"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"rentline/internal/infrastructure/firebase"
	ws "rentline/internal/infrastructure/websocket"
	"rentline/pkg/errors"
	"rentline/pkg/logger"
)

type WebSocketHandler struct {
	wsManager  *ws.Manager
	authClient *firebase.AuthClient
	sendBuffer int
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewWebSocketHandler(wsManager *ws.Manager, authClient *firebase.AuthClient, sendBuffer int) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager:  wsManager,
		authClient: authClient,
		sendBuffer: sendBuffer,
	}
}

// HandleWebSocket authenticates the handshake and hands the connection over
// to the session registry. Browsers cannot set headers on an upgrade request,
// so the token is taken from the query string first.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		authHeader := c.Request().Header.Get("Authorization")
		if parts := strings.Split(authHeader, " "); len(parts) == 2 && parts[0] == "Bearer" {
			token = parts[1]
		}
	}
	if token == "" {
		return errors.Unauthorized("Authentication required", nil)
	}

	userID, err := h.authClient.VerifyToken(c.Request().Context(), token)
	if err != nil {
		return errors.Unauthorized("Invalid or expired token", err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return errors.Internal("Failed to upgrade connection", err)
	}

	client := ws.NewClient(userID, conn, h.sendBuffer)
	h.wsManager.Register(client)
	logger.Info("Websocket session %s opened for user %s", client.ID, userID)

	go client.WritePump()
	go client.ReadPump(h.wsManager)

	return nil
}
