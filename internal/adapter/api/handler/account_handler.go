package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"habita/internal/usecase"
	"habita/pkg/response"
)

type AccountHandler struct {
	accountUseCase *usecase.AccountUseCase
}

func NewAccountHandler(accountUseCase *usecase.AccountUseCase) *AccountHandler {
	return &AccountHandler{
		accountUseCase: accountUseCase,
	}
}

func (h *AccountHandler) Me(c echo.Context) error {
	uid := c.Get("uid").(string)

	account, err := h.accountUseCase.GetAccount(c.Request().Context(), uid)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, account)
}

// SearchContacts lists accounts the caller can start a conversation with.
func (h *AccountHandler) SearchContacts(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	accounts, err := h.accountUseCase.SearchContacts(
		c.Request().Context(),
		c.QueryParam("role"),
		c.QueryParam("q"),
		limit,
	)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, accounts)
}

func (h *AccountHandler) Presence(c echo.Context) error {
	info, err := h.accountUseCase.Presence(c.Request().Context(), c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, info)
}
