package handler

import (
	"net/url"

	"github.com/labstack/echo/v4"

	"topicmeet/internal/usecase"
	"topicmeet/pkg/errors"
	"topicmeet/pkg/response"
)

// MembershipHandler exposes topic presence over REST for clients that keep
// their own heartbeat timer instead of a WebSocket session.
type MembershipHandler struct {
	membershipUseCase *usecase.MembershipUseCase
}

func NewMembershipHandler(membershipUseCase *usecase.MembershipUseCase) *MembershipHandler {
	return &MembershipHandler{
		membershipUseCase: membershipUseCase,
	}
}

type joinTopicRequest struct {
	DisplayName string `json:"display_name" validate:"max=100"`
}

func topicParam(c echo.Context) (string, error) {
	topic, err := url.PathUnescape(c.Param("topic"))
	if err != nil {
		return "", errors.BadRequest("Invalid topic name", err)
	}
	return topic, nil
}

func (h *MembershipHandler) Join(c echo.Context) error {
	topic, err := topicParam(c)
	if err != nil {
		return response.Error(c, err)
	}
	var req joinTopicRequest
	if err := bind(c, &req); err != nil {
		return response.Error(c, err)
	}

	p, err := h.membershipUseCase.Join(c.Request().Context(), topic, currentUser(c), req.DisplayName)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, p)
}

func (h *MembershipHandler) Heartbeat(c echo.Context) error {
	topic, err := topicParam(c)
	if err != nil {
		return response.Error(c, err)
	}
	if err := h.membershipUseCase.Heartbeat(c.Request().Context(), topic, currentUser(c)); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"status": "ok"})
}

func (h *MembershipHandler) Leave(c echo.Context) error {
	topic, err := topicParam(c)
	if err != nil {
		return response.Error(c, err)
	}
	if err := h.membershipUseCase.Leave(c.Request().Context(), topic, currentUser(c)); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"message": "Left topic"})
}

func (h *MembershipHandler) ListOnline(c echo.Context) error {
	topic, err := topicParam(c)
	if err != nil {
		return response.Error(c, err)
	}
	online, err := h.membershipUseCase.ListOnline(c.Request().Context(), topic)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, online)
}
