package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 30, 0, 123, time.UTC)

	gotAt, gotID, err := DecodeCursor(EncodeCursor(at, "msg-1"))
	require.NoError(t, err)
	assert.True(t, at.Equal(gotAt))
	assert.Equal(t, "msg-1", gotID)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, _, err := DecodeCursor("%%%")
	assert.Error(t, err)

	_, _, err = DecodeCursor(EncodeCursor(time.Now(), ""))
	assert.Error(t, err)
}

func TestGetPaginationParamsClampsLimit(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/?limit=500&cursor=abc", nil)
	p := GetPaginationParams(e.NewContext(req, httptest.NewRecorder()), 20)
	assert.Equal(t, 20, p.Limit)
	assert.Equal(t, "abc", p.Cursor)

	req = httptest.NewRequest(http.MethodGet, "/?limit=5", nil)
	p = GetPaginationParams(e.NewContext(req, httptest.NewRecorder()), 20)
	assert.Equal(t, 5, p.Limit)
}
