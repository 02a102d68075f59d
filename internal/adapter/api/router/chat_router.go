package router

import (
	"github.com/labstack/echo/v4"

	"topicmeet/internal/adapter/api/handler"
)

func SetupChatRouter(protected *echo.Group, chatHandler *handler.ChatHandler) {
	chats := protected.Group("/chats")
	chats.GET("", chatHandler.ListChats)
	chats.GET("/:id", chatHandler.GetChat)
	chats.GET("/:id/messages", chatHandler.ListMessages)
	chats.POST("/:id/messages", chatHandler.SendMessage)
	chats.POST("/:id/read", chatHandler.MarkRead)
	chats.POST("/:id/typing", chatHandler.SetTyping)
	chats.POST("/:id/images", chatHandler.UploadImage)
}
