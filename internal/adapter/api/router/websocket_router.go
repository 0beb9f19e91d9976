package router

import (
	"github.com/labstack/echo/v4"

	"habita/internal/adapter/api/handler"
	"habita/internal/adapter/api/middleware"
)

func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler, authMiddleware *middleware.AuthMiddleware) {
	// Ticket issuance is a normal authenticated REST call; the upgrade
	// itself authenticates with the ticket.
	e.POST("/v1/ws-tickets", wsHandler.IssueTicket, authMiddleware.Authenticate)
	e.GET("/ws", wsHandler.HandleWebSocket)
}
