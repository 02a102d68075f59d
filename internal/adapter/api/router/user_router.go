package router

import (
	"github.com/labstack/echo/v4"

	"topicmeet/internal/adapter/api/handler"
)

func SetupUserRouter(protected *echo.Group, userHandler *handler.UserHandler, presenceHandler *handler.PresenceHandler) {
	users := protected.Group("/users")
	users.GET("/me", userHandler.GetProfile)
	users.PUT("/me", userHandler.UpdateProfile)
	users.POST("/me/image", userHandler.UploadProfileImage)
	users.GET("/me/topics", userHandler.ListJoinedTopics)
	users.GET("/:id", userHandler.GetPublicProfile)
	users.GET("/:id/presence", presenceHandler.GetStatus)
}
