package handler

import (
	"github.com/labstack/echo/v4"

	"topicmeet/internal/usecase"
	"topicmeet/pkg/response"
)

type TopicHandler struct {
	topicUseCase *usecase.TopicUseCase
	pageSize     int
}

func NewTopicHandler(topicUseCase *usecase.TopicUseCase, pageSize int) *TopicHandler {
	return &TopicHandler{
		topicUseCase: topicUseCase,
		pageSize:     pageSize,
	}
}

type createTopicRequest struct {
	Title     string   `json:"title" validate:"required,max=200"`
	Question  string   `json:"question" validate:"required,max=1000"`
	RadiusKm  *float64 `json:"radius_km" validate:"omitempty,gt=0"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type topicMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

func (h *TopicHandler) Create(c echo.Context) error {
	var req createTopicRequest
	if err := bind(c, &req); err != nil {
		return response.Error(c, err)
	}

	topic, err := h.topicUseCase.Create(c.Request().Context(), currentUser(c), usecase.CreateTopicInput{
		Title:     req.Title,
		Question:  req.Question,
		RadiusKm:  req.RadiusKm,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, topic)
}

// List accepts optional lat/lng to filter topics by their radius.
func (h *TopicHandler) List(c echo.Context) error {
	limit, after, err := pageParams(c, h.pageSize)
	if err != nil {
		return response.Error(c, err)
	}
	lat, err := queryFloat(c, "lat")
	if err != nil {
		return response.Error(c, err)
	}
	lng, err := queryFloat(c, "lng")
	if err != nil {
		return response.Error(c, err)
	}

	page, err := h.topicUseCase.List(c.Request().Context(), currentUser(c), usecase.ListTopicsInput{
		Limit:     limit,
		After:     after,
		Latitude:  lat,
		Longitude: lng,
	})
	if err != nil {
		return response.Error(c, err)
	}
	return response.Paged(c, page.Topics, encodeCursor(page.Next))
}

func (h *TopicHandler) Get(c echo.Context) error {
	topic, err := h.topicUseCase.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, topic)
}

func (h *TopicHandler) Hide(c echo.Context) error {
	if err := h.topicUseCase.Hide(c.Request().Context(), currentUser(c), c.Param("id")); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"message": "Topic hidden"})
}

func (h *TopicHandler) Delete(c echo.Context) error {
	if err := h.topicUseCase.Delete(c.Request().Context(), currentUser(c), c.Param("id")); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"message": "Topic deleted"})
}

func (h *TopicHandler) SendMessage(c echo.Context) error {
	var req topicMessageRequest
	if err := bind(c, &req); err != nil {
		return response.Error(c, err)
	}

	msg, err := h.topicUseCase.SendMessage(c.Request().Context(), currentUser(c), c.Param("id"), req.Text)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, msg)
}

func (h *TopicHandler) ListMessages(c echo.Context) error {
	limit, after, err := pageParams(c, 0)
	if err != nil {
		return response.Error(c, err)
	}

	page, err := h.topicUseCase.ListMessages(c.Request().Context(), c.Param("id"), limit, after)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Paged(c, page.Messages, encodeCursor(page.Next))
}
