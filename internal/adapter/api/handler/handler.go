package handler

import (
	"io"
	"mime/multipart"
	"strconv"

	"github.com/labstack/echo/v4"

	"topicmeet/internal/adapter/api/middleware"
	"topicmeet/internal/domain/repository"
	"topicmeet/pkg/errors"
	"topicmeet/pkg/utils"
)

// bind decodes and validates the request body into req.
func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return errors.BadRequest("Invalid request body", err)
	}
	return c.Validate(req)
}

func currentUser(c echo.Context) string {
	return middleware.UserID(c)
}

// pageParams reads limit and cursor query parameters.
func pageParams(c echo.Context, defaultLimit int) (int, *repository.PageCursor, error) {
	p := utils.GetPaginationParams(c, defaultLimit)
	if p.Cursor == "" {
		return p.Limit, nil, nil
	}
	at, id, err := utils.DecodeCursor(p.Cursor)
	if err != nil {
		return 0, nil, errors.BadRequest("Invalid cursor", err)
	}
	return p.Limit, &repository.PageCursor{At: at, ID: id}, nil
}

func encodeCursor(cur *repository.PageCursor) string {
	if cur == nil {
		return ""
	}
	return utils.EncodeCursor(cur.At, cur.ID)
}

func queryFloat(c echo.Context, name string) (*float64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, errors.BadRequest(name+" must be a number", err)
	}
	return &v, nil
}

// formImage opens the "image" multipart field, bounded by maxSize.
func formImage(c echo.Context, maxSize int64) (io.ReadCloser, *multipart.FileHeader, error) {
	file, err := c.FormFile("image")
	if err != nil {
		return nil, nil, errors.BadRequest("Image file is required", err)
	}
	if maxSize > 0 && file.Size > maxSize {
		return nil, nil, errors.BadRequest("Image is too large", nil)
	}
	src, err := file.Open()
	if err != nil {
		return nil, nil, errors.Internal("Failed to read image", err)
	}
	return src, file, nil
}
