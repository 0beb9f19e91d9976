package router

import (
	"github.com/labstack/echo/v4"

	"habita/internal/adapter/api/handler"
	"habita/internal/adapter/api/middleware"
)

// SetupChatRouter wires the durable chat-session resource.
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, fileHandler *handler.FileHandler, authMiddleware *middleware.AuthMiddleware) {
	sessions := e.Group("/v1/chat-sessions")
	sessions.Use(authMiddleware.Authenticate)

	sessions.POST("", chatHandler.EnsureSession)    // POST /v1/chat-sessions - open or return existing session
	sessions.GET("", chatHandler.ListSessions)      // GET /v1/chat-sessions - caller's sessions
	sessions.GET("/:id", chatHandler.GetSession)    // GET /v1/chat-sessions/:id
	sessions.PUT("/:id/read", chatHandler.MarkRead) // PUT /v1/chat-sessions/:id/read

	sessions.POST("/:id/messages", chatHandler.SendMessage) // POST /v1/chat-sessions/:id/messages - durable write
	sessions.GET("/:id/messages", chatHandler.GetMessages)  // GET /v1/chat-sessions/:id/messages

	sessions.POST("/:id/attachments", fileHandler.UploadAttachment) // POST /v1/chat-sessions/:id/attachments
}
