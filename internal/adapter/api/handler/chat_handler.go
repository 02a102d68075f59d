package handler

import (
	"github.com/labstack/echo/v4"

	"topicmeet/internal/usecase"
	"topicmeet/pkg/response"
)

type ChatHandler struct {
	chatUseCase   *usecase.ChatUseCase
	maxUploadSize int64
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase, maxUploadSize int64) *ChatHandler {
	return &ChatHandler{
		chatUseCase:   chatUseCase,
		maxUploadSize: maxUploadSize,
	}
}

type sendMessageRequest struct {
	Text     string `json:"text"`
	ImageURL string `json:"image_url" validate:"omitempty,url"`
}

type typingRequest struct {
	Typing bool `json:"typing"`
}

func (h *ChatHandler) ListChats(c echo.Context) error {
	chats, err := h.chatUseCase.ListChats(c.Request().Context(), currentUser(c))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, chats)
}

func (h *ChatHandler) GetChat(c echo.Context) error {
	chat, err := h.chatUseCase.GetChat(c.Request().Context(), currentUser(c), c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, chat)
}

func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := bind(c, &req); err != nil {
		return response.Error(c, err)
	}

	msg, err := h.chatUseCase.SendMessage(c.Request().Context(), currentUser(c), c.Param("id"), usecase.SendMessageInput{
		Text:     req.Text,
		ImageURL: req.ImageURL,
	})
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, msg)
}

func (h *ChatHandler) ListMessages(c echo.Context) error {
	limit, after, err := pageParams(c, 0)
	if err != nil {
		return response.Error(c, err)
	}

	page, err := h.chatUseCase.ListMessages(c.Request().Context(), currentUser(c), c.Param("id"), limit, after)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Paged(c, page.Messages, encodeCursor(page.Next))
}

func (h *ChatHandler) MarkRead(c echo.Context) error {
	n, err := h.chatUseCase.MarkRead(c.Request().Context(), currentUser(c), c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]int{"count": n})
}

func (h *ChatHandler) SetTyping(c echo.Context) error {
	var req typingRequest
	if err := bind(c, &req); err != nil {
		return response.Error(c, err)
	}
	if err := h.chatUseCase.SetTyping(c.Request().Context(), currentUser(c), c.Param("id"), req.Typing); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, req)
}

func (h *ChatHandler) UploadImage(c echo.Context) error {
	src, file, err := formImage(c, h.maxUploadSize)
	if err != nil {
		return response.Error(c, err)
	}
	defer src.Close()

	url, err := h.chatUseCase.UploadImage(c.Request().Context(), currentUser(c), c.Param("id"), file.Filename, src, file.Header.Get("Content-Type"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, map[string]string{"image_url": url})
}
