package router

import (
	"github.com/labstack/echo/v4"

	"rentline/internal/adapter/api/handler"
	"rentline/internal/adapter/api/middleware"
)

func SetupUserRouter(e *echo.Echo, userHandler *handler.UserHandler, authMiddleware *middleware.AuthMiddleware) {
	userGroup := e.Group("/v1/users")

	// Profiles are public the same way listing browsing is; only the
	// caller's own profile mutation needs credentials.
	userGroup.GET("/:id", userHandler.GetUser)
	userGroup.PATCH("/me", userHandler.UpdateProfile, authMiddleware.Authenticate)
}
