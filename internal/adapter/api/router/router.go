package router

import (
	"github.com/labstack/echo/v4"

	"topicmeet/internal/adapter/api/handler"
	"topicmeet/internal/adapter/api/middleware"
)

type Handlers struct {
	Auth       *handler.AuthHandler
	User       *handler.UserHandler
	Topic      *handler.TopicHandler
	Membership *handler.MembershipHandler
	Friend     *handler.FriendHandler
	Chat       *handler.ChatHandler
	Presence   *handler.PresenceHandler
	Health     *handler.HealthHandler
	WebSocket  *handler.WebSocketHandler
}

// Setup registers every route. Routes under /v1 other than sign-up and
// sign-in require a bearer token; rate limit runs after authentication so
// authenticated callers are limited per user.
func Setup(e *echo.Echo, h Handlers, authMiddleware *middleware.AuthMiddleware, rateLimit echo.MiddlewareFunc) {
	public := e.Group("/v1", rateLimit)
	protected := e.Group("/v1", authMiddleware.Authenticate, rateLimit)

	SetupAuthRouter(public, protected, h.Auth)
	SetupUserRouter(protected, h.User, h.Presence)
	SetupTopicRouter(protected, h.Topic, h.Membership)
	SetupFriendRouter(protected, h.Friend)
	SetupChatRouter(protected, h.Chat)
	SetupHealthRouter(e, h.Health)
	SetupWebSocketRouter(e, h.WebSocket)
}
