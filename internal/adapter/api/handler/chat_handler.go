package handler

import (
	"github.com/labstack/echo/v4"

	"habita/internal/usecase"
	"habita/pkg/response"
	"habita/pkg/utils"
)

type ChatHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase) *ChatHandler {
	return &ChatHandler{
		chatUseCase: chatUseCase,
	}
}

type ensureSessionRequest struct {
	CounterpartyID string `json:"counterparty_id" validate:"required"`
	InitialMessage string `json:"initial_message"`
}

type sendMessageRequest struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Type     string `json:"type" validate:"omitempty,oneof=text image video"`
	FileURL  string `json:"file_url" validate:"omitempty,url"`
	FilePath string `json:"file_path"`
	SentAt   string `json:"timestamp"`
}

// EnsureSession opens the session between the caller and a counterparty,
// returning the existing one if the pair already talked.
func (h *ChatHandler) EnsureSession(c echo.Context) error {
	var req ensureSessionRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	uid := c.Get("uid").(string)

	session, err := h.chatUseCase.EnsureSession(c.Request().Context(), uid, usecase.EnsureSessionInput{
		CounterpartyID: req.CounterpartyID,
		InitialMessage: req.InitialMessage,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, session)
}

func (h *ChatHandler) ListSessions(c echo.Context) error {
	uid := c.Get("uid").(string)
	pagination := utils.GetPaginationParams(c, 20)

	sessions, total, err := h.chatUseCase.ListSessions(c.Request().Context(), uid, pagination.Limit, pagination.Offset)
	if err != nil {
		return response.Error(c, err)
	}

	return response.SuccessPaginated(c, sessions, total, pagination.Limit, pagination.Offset)
}

func (h *ChatHandler) GetSession(c echo.Context) error {
	uid := c.Get("uid").(string)

	detail, err := h.chatUseCase.GetSessionDetail(c.Request().Context(), uid, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, detail)
}

// SendMessage is the durable write path for one message. Clients may supply
// their own message id so retries stay idempotent.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	uid := c.Get("uid").(string)

	message, err := h.chatUseCase.SendMessage(c.Request().Context(), uid, c.Param("id"), usecase.SendMessageInput{
		ID:       req.ID,
		Content:  req.Content,
		Type:     req.Type,
		FileURL:  req.FileURL,
		FilePath: req.FilePath,
		SentAt:   req.SentAt,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

func (h *ChatHandler) GetMessages(c echo.Context) error {
	uid := c.Get("uid").(string)
	pagination := utils.GetPaginationParams(c, 50)

	messages, total, err := h.chatUseCase.SessionMessages(c.Request().Context(), uid, c.Param("id"), pagination.Limit, pagination.Offset)
	if err != nil {
		return response.Error(c, err)
	}

	return response.SuccessPaginated(c, messages, total, pagination.Limit, pagination.Offset)
}

func (h *ChatHandler) MarkRead(c echo.Context) error {
	uid := c.Get("uid").(string)

	if err := h.chatUseCase.MarkRead(c.Request().Context(), uid, c.Param("id")); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"status": "ok"})
}
