package router

import (
	"github.com/labstack/echo/v4"

	"habita/internal/adapter/api/handler"
	"habita/internal/adapter/api/middleware"
)

func SetupAccountRouter(e *echo.Echo, accountHandler *handler.AccountHandler, authMiddleware *middleware.AuthMiddleware) {
	accounts := e.Group("/v1/accounts")
	accounts.Use(authMiddleware.Authenticate)

	accounts.GET("/me", accountHandler.Me)
	accounts.GET("", accountHandler.SearchContacts)
	accounts.GET("/:id/presence", accountHandler.Presence)
}
