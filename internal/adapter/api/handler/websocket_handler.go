package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"topicmeet/internal/adapter/api/middleware"
	"topicmeet/internal/domain/entity"
	ws "topicmeet/internal/infrastructure/websocket"
	"topicmeet/internal/usecase"
	"topicmeet/pkg/errors"
	"topicmeet/pkg/logger"
	"topicmeet/pkg/response"
)

const (
	statusKey      = "status"
	topicKeyPrefix = "topic:"
	chatKeyPrefix  = "chat:"
	releaseTimeout = 10 * time.Second
)

// WebSocketHandler serves /ws. Each connection is one client session:
// joining a topic or opening a chat starts heartbeats and listeners that
// live until the matching leave/close message or the end of the
// connection.
type WebSocketHandler struct {
	wsManager  *ws.Manager
	router     *ws.Router
	verifier   middleware.TokenVerifier
	membership *usecase.MembershipUseCase
	presence   *usecase.PresenceUseCase
	chat       *usecase.ChatUseCase
	upgrader   gorillaws.Upgrader
}

func NewWebSocketHandler(
	wsManager *ws.Manager,
	verifier middleware.TokenVerifier,
	membership *usecase.MembershipUseCase,
	presence *usecase.PresenceUseCase,
	chat *usecase.ChatUseCase,
	allowedOrigins []string,
) *WebSocketHandler {
	h := &WebSocketHandler{
		wsManager:  wsManager,
		router:     ws.NewRouter(),
		verifier:   verifier,
		membership: membership,
		presence:   presence,
		chat:       chat,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}

	h.router.Handle(ws.MessageTypeJoinTopic, h.joinTopic)
	h.router.Handle(ws.MessageTypeLeaveTopic, h.leaveTopic)
	h.router.Handle(ws.MessageTypeOpenChat, h.openChat)
	h.router.Handle(ws.MessageTypeCloseChat, h.closeChat)
	h.router.Handle(ws.MessageTypeTyping, h.typing)
	h.router.Handle(ws.MessageTypeSendMessage, h.sendMessage)
	h.router.Handle(ws.MessageTypeMarkRead, h.markRead)
	return h
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleWebSocket authenticates with the token query parameter (browsers
// cannot set headers on the upgrade request) or a bearer header.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		token = middleware.BearerToken(c.Request())
	}

	if token == "" {
		return response.Error(c, errors.Unauthorized("Token is required", nil))
	}
	userID, err := h.verifier.VerifyToken(c.Request().Context(), token)
	if err != nil {
		return response.Error(c, err)
	}

	// Upgrade has already written the failure response.
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Warn("WebSocket upgrade for %s failed: %v", userID, err)
		return nil
	}

	// The request context ends when this handler returns.
	client := ws.NewClient(context.Background(), userID, conn)
	h.wsManager.Register(client)

	go client.WritePump()
	go client.ReadPump(h.wsManager, h.router)

	return nil
}

func decode(msg *ws.WSMessage, v interface{}) error {
	if len(msg.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return errors.BadRequest("Invalid message data", err)
	}
	return nil
}

func releaseContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), releaseTimeout)
}

func (h *WebSocketHandler) joinTopic(c *ws.Client, msg *ws.WSMessage) error {
	var data ws.JoinTopicData
	if err := decode(msg, &data); err != nil {
		return err
	}

	ctx := c.Context()
	p, err := h.membership.Join(ctx, msg.Topic, c.UserID, data.DisplayName)
	if err != nil {
		return err
	}
	key := p.TopicKey

	hb := h.presence.StartHeartbeat(entity.ParticipantScope(key, c.UserID))
	unsub, err := h.membership.WatchOnline(ctx, key, func(ps []*entity.Participant, err error) {
		if err != nil {
			c.Push(ws.MessageTypeError, "", key, ws.ErrorData{Code: errors.CodeInternal, Message: "Failed to load topic participants"})
			return
		}
		c.Push(ws.MessageTypeTopicOnlineUsers, "", key, ps)
	})
	if err != nil {
		rctx, cancel := releaseContext()
		defer cancel()
		h.membership.EndSession(rctx, hb)
		return err
	}

	c.Track(topicKeyPrefix+key, func() {
		unsub()
		rctx, cancel := releaseContext()
		defer cancel()
		if err := h.membership.EndSession(rctx, hb); err != nil {
			logger.Warn("Failed to end topic session %s for %s: %v", key, c.UserID, err)
		}
	})

	msg.Topic = key
	c.SendJSON(ws.MessageTypeTopicJoined, p, msg)
	return nil
}

func (h *WebSocketHandler) leaveTopic(c *ws.Client, msg *ws.WSMessage) error {
	key, err := usecase.TopicKey(msg.Topic)
	if err != nil {
		return err
	}

	if !c.Release(topicKeyPrefix + key) {
		// Not joined from this session; leave anyway.
		if err := h.membership.Leave(c.Context(), key, c.UserID); err != nil {
			return err
		}
	}

	msg.Topic = key
	c.SendJSON(ws.MessageTypeTopicLeft, nil, msg)
	return nil
}

// openChat puts the user online for the chat's lifetime and streams the
// chat's messages, the other member's typing flag and their presence.
func (h *WebSocketHandler) openChat(c *ws.Client, msg *ws.WSMessage) error {
	ctx := c.Context()
	chatID := msg.ChatID

	chat, err := h.chat.GetChat(ctx, c.UserID, chatID)
	if err != nil {
		return err
	}
	other := chat.Other(c.UserID)

	unsubMessages, err := h.chat.WatchMessages(ctx, c.UserID, chatID, func(msgs []*entity.Message, err error) {
		if err != nil {
			c.Push(ws.MessageTypeError, chatID, "", ws.ErrorData{Code: errors.CodeInternal, Message: "Failed to load messages"})
			return
		}
		c.Push(ws.MessageTypeMessages, chatID, "", msgs)
	})
	if err != nil {
		return err
	}

	unsubTyping, err := h.chat.WatchTyping(ctx, c.UserID, chatID, func(t *entity.Typing, err error) {
		if err != nil || t == nil {
			return
		}
		c.Push(ws.MessageTypeTyping, chatID, "", ws.TypingData{ChatID: chatID, UserID: t.UserID, Typing: t.Typing})
	})
	if err != nil {
		unsubMessages()
		return err
	}

	unsubPresence := h.presence.Subscribe(ctx, entity.StatusScope(other), func(ev *usecase.PresenceEvent, err error) {
		if err != nil {
			return
		}
		c.Push(ws.MessageTypePresence, chatID, "", ws.PresenceData{UserID: other, Online: ev.Online, LastActive: ev.LastActive})
	})

	if !c.Tracked(statusKey) {
		release := h.presence.HoldOnline(ctx, c.UserID)
		c.Track(statusKey, func() {
			rctx, cancel := releaseContext()
			defer cancel()
			release(rctx)
		})
	}

	uid := c.UserID
	c.Track(chatKeyPrefix+chatID, func() {
		unsubPresence()
		unsubTyping()
		unsubMessages()
		rctx, cancel := releaseContext()
		defer cancel()
		if err := h.chat.SetTyping(rctx, uid, chatID, false); err != nil {
			logger.Debug("Failed to clear typing of %s in %s: %v", uid, chatID, err)
		}
	})

	c.SendJSON(ws.MessageTypeChatOpened, chat, msg)
	return nil
}

func (h *WebSocketHandler) closeChat(c *ws.Client, msg *ws.WSMessage) error {
	c.Release(chatKeyPrefix + msg.ChatID)
	if c.CountPrefix(chatKeyPrefix) == 0 {
		c.Release(statusKey)
	}
	return nil
}

func (h *WebSocketHandler) typing(c *ws.Client, msg *ws.WSMessage) error {
	var data ws.TypingData
	if err := decode(msg, &data); err != nil {
		return err
	}
	chatID := msg.ChatID
	if chatID == "" {
		chatID = data.ChatID
	}
	return h.chat.SetTyping(c.Context(), c.UserID, chatID, data.Typing)
}

func (h *WebSocketHandler) sendMessage(c *ws.Client, msg *ws.WSMessage) error {
	var data ws.SendMessageData
	if err := decode(msg, &data); err != nil {
		return err
	}

	sent, err := h.chat.SendMessage(c.Context(), c.UserID, msg.ChatID, usecase.SendMessageInput{
		Text:     data.Text,
		ImageURL: data.ImageURL,
	})
	if err != nil {
		return err
	}

	c.SendJSON(ws.MessageTypeMessageSent, sent, msg)
	return nil
}

func (h *WebSocketHandler) markRead(c *ws.Client, msg *ws.WSMessage) error {
	n, err := h.chat.MarkRead(c.Context(), c.UserID, msg.ChatID)
	if err != nil {
		return err
	}
	c.SendJSON(ws.MessageTypeMarkedRead, map[string]int{"count": n}, msg)
	return nil
}

// DisconnectUser closes the user's sessions, releasing everything they
// held.
func (h *WebSocketHandler) DisconnectUser(uid string) {
	if n := h.wsManager.DisconnectUser(uid); n > 0 {
		logger.Info("Closed %d WebSocket session(s) of %s", n, uid)
	}
}
