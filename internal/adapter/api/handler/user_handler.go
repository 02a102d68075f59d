package handler

import (
	"github.com/labstack/echo/v4"

	"topicmeet/internal/usecase"
	"topicmeet/pkg/response"
)

type UserHandler struct {
	userUseCase       *usecase.UserUseCase
	membershipUseCase *usecase.MembershipUseCase
	maxUploadSize     int64
}

func NewUserHandler(userUseCase *usecase.UserUseCase, membershipUseCase *usecase.MembershipUseCase, maxUploadSize int64) *UserHandler {
	return &UserHandler{
		userUseCase:       userUseCase,
		membershipUseCase: membershipUseCase,
		maxUploadSize:     maxUploadSize,
	}
}

type updateProfileRequest struct {
	Name   string `json:"name" validate:"required,max=100"`
	Age    int    `json:"age" validate:"required,min=1,max=150"`
	Gender string `json:"gender" validate:"required"`
	Bio    string `json:"bio" validate:"max=500"`
}

func (h *UserHandler) GetProfile(c echo.Context) error {
	user, err := h.userUseCase.GetProfile(c.Request().Context(), currentUser(c))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, user)
}

func (h *UserHandler) UpdateProfile(c echo.Context) error {
	var req updateProfileRequest
	if err := bind(c, &req); err != nil {
		return response.Error(c, err)
	}

	user, err := h.userUseCase.UpdateProfile(c.Request().Context(), currentUser(c), usecase.UpdateProfileInput{
		Name:   req.Name,
		Age:    req.Age,
		Gender: req.Gender,
		Bio:    req.Bio,
	})
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, user)
}

func (h *UserHandler) UploadProfileImage(c echo.Context) error {
	src, file, err := formImage(c, h.maxUploadSize)
	if err != nil {
		return response.Error(c, err)
	}
	defer src.Close()

	user, err := h.userUseCase.UploadProfileImage(c.Request().Context(), currentUser(c), src, file.Header.Get("Content-Type"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, user)
}

func (h *UserHandler) GetPublicProfile(c echo.Context) error {
	user, err := h.userUseCase.GetPublicProfile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, user)
}

func (h *UserHandler) ListJoinedTopics(c echo.Context) error {
	topics, err := h.membershipUseCase.ListJoinedTopics(c.Request().Context(), currentUser(c))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, topics)
}
