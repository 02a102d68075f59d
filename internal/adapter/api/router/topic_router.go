package router

import (
	"github.com/labstack/echo/v4"

	"topicmeet/internal/adapter/api/handler"
)

func SetupTopicRouter(protected *echo.Group, topicHandler *handler.TopicHandler, membershipHandler *handler.MembershipHandler) {
	topics := protected.Group("/topics")
	topics.POST("", topicHandler.Create)
	topics.GET("", topicHandler.List)
	topics.GET("/:id", topicHandler.Get)
	topics.DELETE("/:id", topicHandler.Delete)
	topics.POST("/:id/hide", topicHandler.Hide)
	topics.GET("/:id/messages", topicHandler.ListMessages)
	topics.POST("/:id/messages", topicHandler.SendMessage)

	// Membership is keyed by topic name, not topic id.
	rooms := protected.Group("/rooms")
	rooms.POST("/:topic/join", membershipHandler.Join)
	rooms.POST("/:topic/heartbeat", membershipHandler.Heartbeat)
	rooms.DELETE("/:topic/join", membershipHandler.Leave)
	rooms.GET("/:topic/online", membershipHandler.ListOnline)
}
