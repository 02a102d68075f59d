package router

import (
	"github.com/labstack/echo/v4"

	"topicmeet/internal/adapter/api/handler"
)

func SetupAuthRouter(public, protected *echo.Group, authHandler *handler.AuthHandler) {
	public.POST("/auth/signup", authHandler.SignUp)
	public.POST("/auth/signin", authHandler.SignIn)

	protected.POST("/auth/signout", authHandler.SignOut)
}
