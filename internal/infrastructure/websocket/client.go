package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"habita/internal/chat"
	"habita/internal/domain/entity"
	"habita/internal/infrastructure/metrics"
	"habita/internal/infrastructure/presence"
	"habita/internal/infrastructure/ratelimit"
	"habita/pkg/errors"
	"habita/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Deps are the backend pieces each client session is wired to.
type Deps struct {
	Messages chat.MessageChannel
	Roster   chat.ConversationChannel
	Durable  chat.DurableWriter
	Echo     chat.RealtimeEcho
	Limiter  *ratelimit.RateLimiter
	Presence *presence.Store
}

// Client is one socket connection. It owns a chat controller and a roster
// whose snapshots are streamed back to the device as state frames.
type Client struct {
	ID        string
	AccountID string
	Conn      *websocket.Conn
	Send      chan []byte

	controller *chat.Controller
	roster     *chat.Roster
	limiter    *ratelimit.RateLimiter
	presence   *presence.Store
}

func NewClient(accountID string, conn *websocket.Conn, deps Deps) *Client {
	c := &Client{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Conn:      conn,
		Send:      make(chan []byte, 64),
		limiter:   deps.Limiter,
		presence:  deps.Presence,
	}

	c.controller = chat.NewController(accountID, deps.Messages, deps.Durable, deps.Echo, func(snap chat.Snapshot) {
		metrics.IncChannelPush("message")
		if errors.Is(snap.Err, "WRITE_ERROR") {
			metrics.IncSendFailure("durable")
		}
		c.deliver(encodeConversationState(snap))
	})
	c.roster = chat.NewRoster(deps.Roster, func(snap chat.RosterSnapshot) {
		metrics.IncChannelPush("conversation")
		c.deliver(encodeRosterState(snap))
	})

	return c
}

// Start registers presence and opens the roster subscription.
func (c *Client) Start(ctx context.Context) {
	metrics.IncWSActive()
	metrics.IncChannelsOpen()

	if c.presence != nil {
		if err := c.presence.Connect(ctx, c.AccountID, c.ID); err != nil {
			logger.Warn("Failed to register presence for %s: %v", c.AccountID, err)
		}
	}

	if err := c.roster.Start(ctx, c.AccountID); err != nil {
		logger.Error("Failed to start roster for %s: %v", c.AccountID, err)
		c.deliver(encodeError(err))
	}
}

func (c *Client) deliver(frame []byte) {
	select {
	case c.Send <- frame:
	default:
		// Slow consumer; drop the frame, the next snapshot supersedes it.
	}
}

// ReadPump reads command frames from the connection until it closes.
func (c *Client) ReadPump(m *Manager) {
	defer func() {
		c.controller.Close()
		c.roster.Stop()
		if c.presence != nil {
			if err := c.presence.Disconnect(context.Background(), c.AccountID, c.ID); err != nil {
				logger.Warn("Failed to clear presence for %s: %v", c.AccountID, err)
			}
		}
		metrics.DecWSActive()
		metrics.DecChannelsOpen()
		m.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Socket read error for %s: %v", c.AccountID, err)
			}
			break
		}

		var frame ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.deliver(encodeError(errors.BadRequest("Malformed frame", err)))
			continue
		}

		if err := c.handleFrame(frame); err != nil {
			c.deliver(encodeError(err))
		}
	}
}

func (c *Client) handleFrame(frame ClientFrame) error {
	ctx := context.Background()

	switch frame.Type {
	case FrameSelectConversation:
		if frame.ConversationID == "" {
			return errors.BadRequest("conversation_id is required", nil)
		}
		return c.controller.Select(ctx, frame.ConversationID)

	case FrameCloseConversation:
		c.controller.Deselect()
		return nil

	case FrameSendMessage:
		if allowed, wait := c.limiter.Allow(c.AccountID, "send_message"); !allowed {
			return errors.TooManyRequests("Sending too fast, retry in " + wait.Round(time.Second).String())
		}
		input := chat.SendInput{
			Content: frame.Content,
			Type:    frame.MessageType,
		}
		if frame.FileURL != "" {
			input.File = &entity.FileRef{URL: frame.FileURL, Path: frame.FilePath}
		}
		if _, err := c.controller.Send(ctx, input); err != nil {
			return err
		}
		metrics.IncSend()
		return nil

	case FrameRetrySend:
		if frame.MessageID == "" {
			return errors.BadRequest("message_id is required", nil)
		}
		return c.controller.RetrySend(frame.MessageID)

	case FrameDiscardSend:
		if frame.MessageID == "" {
			return errors.BadRequest("message_id is required", nil)
		}
		return c.controller.DiscardSend(frame.MessageID)

	case FrameRetryConnection:
		return c.controller.Retry(ctx)

	case FramePing:
		if c.presence != nil {
			if err := c.presence.Heartbeat(ctx, c.AccountID); err != nil {
				logger.Warn("Presence heartbeat failed for %s: %v", c.AccountID, err)
			}
		}
		c.deliver(encodePong())
		return nil

	default:
		return errors.BadRequest("Unknown frame type: "+frame.Type, nil)
	}
}

// WritePump flushes queued frames to the connection and keeps it alive
// with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Warn("Socket write error for %s: %v", c.AccountID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
