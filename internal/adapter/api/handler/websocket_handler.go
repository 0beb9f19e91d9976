package handler

import (
	"context"
	"net/http"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"habita/internal/adapter/api/middleware"
	ws "habita/internal/infrastructure/websocket"
	"habita/pkg/errors"
	"habita/pkg/response"
)

type WebSocketHandler struct {
	wsManager *ws.Manager
	tickets   *middleware.TicketManager
	deps      ws.Deps
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Restrict this in production
	},
}

func NewWebSocketHandler(wsManager *ws.Manager, tickets *middleware.TicketManager, deps ws.Deps) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager: wsManager,
		tickets:   tickets,
		deps:      deps,
	}
}

// IssueTicket trades an authenticated REST call for a short-lived socket
// ticket. Requires the auth middleware.
func (h *WebSocketHandler) IssueTicket(c echo.Context) error {
	uid := c.Get("uid").(string)

	ticket, err := h.tickets.Issue(uid)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, map[string]string{"ticket": ticket})
}

// HandleWebSocket upgrades the connection. Auth is by ticket query param
// since socket handshakes can't carry an Authorization header.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	ticket := c.QueryParam("ticket")
	if ticket == "" {
		return response.Error(c, errors.Unauthorized("Ticket is required", nil))
	}

	uid, err := h.tickets.Verify(ticket)
	if err != nil {
		return response.Error(c, err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return errors.Internal("Failed to upgrade connection", err)
	}

	client := ws.NewClient(uid, conn, h.deps)

	h.wsManager.Register <- client
	// The request context dies once this handler returns; the session
	// lives until the pumps shut it down.
	client.Start(context.Background())

	go client.ReadPump(h.wsManager)
	go client.WritePump()

	return nil
}
