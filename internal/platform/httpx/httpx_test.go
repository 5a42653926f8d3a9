package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("users: %w", ErrNotFound): http.StatusNotFound,
		fmt.Errorf("x: %w", ErrConflict):     http.StatusConflict,
		ErrValidation:                        http.StatusBadRequest,
		ErrForbidden:                         http.StatusForbidden,
		ErrUnauthorized:                      http.StatusUnauthorized,
		fmt.Errorf("db exploded"):            http.StatusInternalServerError,
	}
	for err, status := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, err)
		assert.Equal(t, status, rr.Code, err.Error())
		assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, fmt.Errorf("password=hunter2"))
	var p ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	assert.Empty(t, p.Detail)
	assert.Equal(t, 500, p.Status)
}

func TestDecodeJSONRejectsUnknownAndTrailing(t *testing.T) {
	var dst struct {
		Key string `json:"key"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"key":"a"}`))
	require.NoError(t, DecodeJSON(req, &dst))
	assert.Equal(t, "a", dst.Key)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"key":"a","extra":1}`))
	assert.Error(t, DecodeJSON(req, &dst))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"key":"a"}{"key":"b"}`))
	assert.Error(t, DecodeJSON(req, &dst))
}
