package router

import (
	"github.com/labstack/echo/v4"

	"rentline/internal/adapter/api/handler"
	"rentline/internal/adapter/api/middleware"
)

func SetupAuthRouter(e *echo.Echo, authHandler *handler.AuthHandler, authMiddleware *middleware.AuthMiddleware) {
	authGroup := e.Group("/v1/auth")

	authGroup.POST("/register", authHandler.Register)
	authGroup.GET("/me", authHandler.Me, authMiddleware.Authenticate)
}
