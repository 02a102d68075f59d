package handler

import (
	"github.com/labstack/echo/v4"

	"topicmeet/internal/domain/entity"
	"topicmeet/internal/usecase"
	"topicmeet/pkg/response"
)

type AuthHandler struct {
	authUseCase *usecase.AuthUseCase
}

func NewAuthHandler(authUseCase *usecase.AuthUseCase) *AuthHandler {
	return &AuthHandler{
		authUseCase: authUseCase,
	}
}

// Password length and the required fields are checked by the usecase so
// that the fixed sign-up messages reach the client.
type signUpRequest struct {
	Name     string `json:"name"`
	Age      int    `json:"age" validate:"omitempty,min=1,max=150"`
	Gender   string `json:"gender"`
	Bio      string `json:"bio" validate:"max=500"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	ExpiresIn    int64        `json:"expires_in,omitempty"`
	User         *entity.User `json:"user"`
}

func toAuthResponse(result *usecase.AuthResult) authResponse {
	return authResponse{
		Token:        result.Token,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    int64(result.ExpiresIn.Seconds()),
		User:         result.User,
	}
}

func (h *AuthHandler) SignUp(c echo.Context) error {
	var req signUpRequest
	if err := bind(c, &req); err != nil {
		return response.Error(c, err)
	}

	result, err := h.authUseCase.SignUp(c.Request().Context(), usecase.SignUpInput{
		Name:     req.Name,
		Age:      req.Age,
		Gender:   req.Gender,
		Bio:      req.Bio,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, toAuthResponse(result))
}

func (h *AuthHandler) SignIn(c echo.Context) error {
	var req signInRequest
	if err := bind(c, &req); err != nil {
		return response.Error(c, err)
	}

	result, err := h.authUseCase.SignIn(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, toAuthResponse(result))
}

func (h *AuthHandler) SignOut(c echo.Context) error {
	if err := h.authUseCase.SignOut(c.Request().Context(), currentUser(c)); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"message": "Signed out"})
}
