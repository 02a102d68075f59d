package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"topicmeet/internal/infrastructure/metrics"
	apperrors "topicmeet/pkg/errors"
	"topicmeet/pkg/logger"
)

// Client to server
const (
	MessageTypePing        = "ping"
	MessageTypeJoinTopic   = "join_topic"
	MessageTypeLeaveTopic  = "leave_topic"
	MessageTypeOpenChat    = "open_chat"
	MessageTypeCloseChat   = "close_chat"
	MessageTypeTyping      = "typing"
	MessageTypeSendMessage = "send_message"
	MessageTypeMarkRead    = "mark_read"
)

// Server to client
const (
	MessageTypePong             = "pong"
	MessageTypeError            = "error"
	MessageTypeTopicOnlineUsers = "topic_online_users"
	MessageTypePresence         = "presence"
	MessageTypeMessages         = "messages"
	MessageTypeMessageSent      = "message_sent"
	MessageTypeTopicJoined      = "topic_joined"
	MessageTypeTopicLeft        = "topic_left"
	MessageTypeChatOpened       = "chat_opened"
	MessageTypeMarkedRead       = "marked_read"
)

type WSMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	ChatID    string          `json:"chat_id,omitempty"`
	Topic     string          `json:"topic,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Timestamp string          `json:"timestamp"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type TypingData struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id,omitempty"`
	Typing bool   `json:"typing"`
}

type SendMessageData struct {
	Text     string `json:"text"`
	ImageURL string `json:"image_url,omitempty"`
}

type JoinTopicData struct {
	DisplayName string `json:"display_name,omitempty"`
}

type PresenceData struct {
	UserID     string    `json:"user_id"`
	Online     bool      `json:"online"`
	LastActive time.Time `json:"last_active"`
}

// NewMessage builds an outgoing message with data encoded as JSON.
func NewMessage(msgType string, data interface{}) (*WSMessage, error) {
	msg := &WSMessage{
		Type:      msgType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return msg, nil
}

// SendJSON queues a message of msgType on the client. Send failures are
// logged; the client is closed when its buffer is full.
func (c *Client) SendJSON(msgType string, data interface{}, in *WSMessage) {
	msg, err := NewMessage(msgType, data)
	if err != nil {
		logger.Error("Failed to encode %s message: %v", msgType, err)
		return
	}
	if in != nil {
		msg.RequestID = in.RequestID
		if msg.ChatID == "" {
			msg.ChatID = in.ChatID
		}
		if msg.Topic == "" {
			msg.Topic = in.Topic
		}
	}
	c.sendMessage(msg)
}

// sendMessage queues msg as shaped by the caller.
func (c *Client) sendMessage(msg *WSMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		logger.Error("Failed to encode %s message: %v", msg.Type, err)
		return
	}
	if !c.Queue(raw) {
		logger.Warn("Send buffer full for %s, closing", c.UserID)
		c.Conn.Close()
	}
}

// Push sends an event tied to a chat or topic, outside any request.
func (c *Client) Push(msgType, chatID, topic string, data interface{}) {
	msg, err := NewMessage(msgType, data)
	if err != nil {
		logger.Error("Failed to encode %s message: %v", msgType, err)
		return
	}
	msg.ChatID = chatID
	msg.Topic = topic
	c.sendMessage(msg)
}

// SendError reports err to the client. AppError messages are passed
// through; anything else is reported as an internal error.
func (c *Client) SendError(in *WSMessage, err error) {
	data := ErrorData{Code: apperrors.CodeInternal, Message: "Internal server error"}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		data = ErrorData{Code: appErr.Code, Message: appErr.Message}
	}
	c.SendJSON(MessageTypeError, data, in)
}

// HandlerFunc handles one incoming message type. A returned error is sent
// back to the client as an error message.
type HandlerFunc func(c *Client, msg *WSMessage) error

// Router dispatches incoming messages by type.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

func (r *Router) Handle(msgType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[msgType] = h
}

func (r *Router) Dispatch(c *Client, raw []byte) {
	var msg WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.SendError(nil, apperrors.BadRequest("Invalid message format", err))
		return
	}

	if msg.Type == MessageTypePing {
		c.SendJSON(MessageTypePong, nil, &msg)
		return
	}

	r.mu.RLock()
	h, ok := r.handlers[msg.Type]
	r.mu.RUnlock()
	if !ok {
		c.SendError(&msg, apperrors.BadRequest("Unknown message type: "+msg.Type, nil))
		return
	}

	metrics.IncWSEvent(msg.Type)
	if err := h(c, &msg); err != nil {
		logger.Debug("WebSocket %s from %s failed: %v", msg.Type, c.UserID, err)
		c.SendError(&msg, err)
	}
}
