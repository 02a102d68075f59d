package handler

import (
	"github.com/labstack/echo/v4"

	"topicmeet/internal/usecase"
	"topicmeet/pkg/response"
)

type FriendHandler struct {
	friendUseCase *usecase.FriendUseCase
}

func NewFriendHandler(friendUseCase *usecase.FriendUseCase) *FriendHandler {
	return &FriendHandler{
		friendUseCase: friendUseCase,
	}
}

type friendRequestRequest struct {
	To    string `json:"to" validate:"required"`
	Topic string `json:"topic" validate:"max=200"`
}

func (h *FriendHandler) SendRequest(c echo.Context) error {
	var req friendRequestRequest
	if err := bind(c, &req); err != nil {
		return response.Error(c, err)
	}

	fr, err := h.friendUseCase.SendRequest(c.Request().Context(), currentUser(c), req.To, req.Topic)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, fr)
}

// RequestChat opens the chat with a friend, or sends a friend request
// when the two are not friends yet.
func (h *FriendHandler) RequestChat(c echo.Context) error {
	var req friendRequestRequest
	if err := bind(c, &req); err != nil {
		return response.Error(c, err)
	}

	res, err := h.friendUseCase.RequestChat(c.Request().Context(), currentUser(c), req.To, req.Topic)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, res)
}

func (h *FriendHandler) AcceptRequest(c echo.Context) error {
	fr, err := h.friendUseCase.AcceptRequest(c.Request().Context(), c.Param("id"), currentUser(c))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, fr)
}

func (h *FriendHandler) DeclineRequest(c echo.Context) error {
	fr, err := h.friendUseCase.DeclineRequest(c.Request().Context(), c.Param("id"), currentUser(c))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, fr)
}

func (h *FriendHandler) ListIncoming(c echo.Context) error {
	reqs, err := h.friendUseCase.ListIncoming(c.Request().Context(), currentUser(c))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, reqs)
}

func (h *FriendHandler) ListOutgoing(c echo.Context) error {
	reqs, err := h.friendUseCase.ListOutgoing(c.Request().Context(), currentUser(c))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, reqs)
}

func (h *FriendHandler) ListFriends(c echo.Context) error {
	friends, err := h.friendUseCase.ListFriends(c.Request().Context(), currentUser(c))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, friends)
}

func (h *FriendHandler) RemoveFriend(c echo.Context) error {
	if err := h.friendUseCase.RemoveFriend(c.Request().Context(), currentUser(c), c.Param("id")); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"message": "Friend removed"})
}
