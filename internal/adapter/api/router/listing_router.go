package router

import (
	"github.com/labstack/echo/v4"

	"rentline/internal/adapter/api/handler"
	"rentline/internal/adapter/api/middleware"
)

func SetupListingRouter(e *echo.Echo, listingHandler *handler.ListingHandler, authMiddleware *middleware.AuthMiddleware) {
	listingGroup := e.Group("/v1/listings")

	// Browsing is public, mutation requires authentication.
	listingGroup.GET("", listingHandler.ListListings)
	listingGroup.GET("/:id", listingHandler.GetListing)
	listingGroup.POST("", listingHandler.CreateListing, authMiddleware.Authenticate)
	listingGroup.PUT("/:id", listingHandler.UpdateListing, authMiddleware.Authenticate)
	listingGroup.DELETE("/:id", listingHandler.DeleteListing, authMiddleware.Authenticate)
}
