package router

import (
	"github.com/labstack/echo/v4"

	"topicmeet/internal/adapter/api/handler"
)

func SetupFriendRouter(protected *echo.Group, friendHandler *handler.FriendHandler) {
	friends := protected.Group("/friends")
	friends.GET("", friendHandler.ListFriends)
	friends.DELETE("/:id", friendHandler.RemoveFriend)
	friends.POST("/chat-requests", friendHandler.RequestChat)

	requests := friends.Group("/requests")
	requests.POST("", friendHandler.SendRequest)
	requests.GET("/incoming", friendHandler.ListIncoming)
	requests.GET("/outgoing", friendHandler.ListOutgoing)
	requests.POST("/:id/accept", friendHandler.AcceptRequest)
	requests.POST("/:id/decline", friendHandler.DeclineRequest)
}
