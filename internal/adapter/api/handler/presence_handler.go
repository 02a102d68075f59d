package handler

import (
	"github.com/labstack/echo/v4"

	"topicmeet/internal/usecase"
	"topicmeet/pkg/response"
)

type PresenceHandler struct {
	presenceUseCase *usecase.PresenceUseCase
}

func NewPresenceHandler(presenceUseCase *usecase.PresenceUseCase) *PresenceHandler {
	return &PresenceHandler{
		presenceUseCase: presenceUseCase,
	}
}

// GetStatus returns a user's chat presence with the derived Active flag.
func (h *PresenceHandler) GetStatus(c echo.Context) error {
	status, err := h.presenceUseCase.GetStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, status)
}
