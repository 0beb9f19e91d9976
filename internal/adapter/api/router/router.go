package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"habita/internal/adapter/api/handler"
	"habita/internal/adapter/api/middleware"
)

func Setup(
	e *echo.Echo,
	authMiddleware *middleware.AuthMiddleware,
	chatHandler *handler.ChatHandler,
	accountHandler *handler.AccountHandler,
	fileHandler *handler.FileHandler,
	wsHandler *handler.WebSocketHandler,
	healthHandler *handler.HealthHandler,
) {
	SetupChatRouter(e, chatHandler, fileHandler, authMiddleware)
	SetupAccountRouter(e, accountHandler, authMiddleware)
	SetupWebSocketRouter(e, wsHandler, authMiddleware)
	SetupHealthRouter(e, healthHandler)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
