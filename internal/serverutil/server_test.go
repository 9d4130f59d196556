package serverutil

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	seyerrs "github.com/jdholdren/classfeed/internal/errors"
	"github.com/jdholdren/classfeed/internal/logger"
)

func TestHandlerFuncE(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "structured errors keep their status",
			err:        fmt.Errorf("wrapped: %w", seyerrs.E("post not found", http.StatusNotFound)),
			wantStatus: http.StatusNotFound,
			wantBody:   `{"message": "post not found", "details": null, "status": 404}`,
		},
		{
			name:       "anything else is a 500",
			err:        errors.New("disk on fire"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"message": "internal server error", "details": null, "status": 500}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HandlerFuncE(func(w http.ResponseWriter, r *http.Request) error {
				return tt.err
			}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

type limitReq struct {
	Limit int `json:"limit"`
}

func (l limitReq) Validate() error {
	if l.Limit > 10 {
		return seyerrs.E("limit too high", http.StatusBadRequest)
	}
	return nil
}

func TestDecodeValid(t *testing.T) {
	v, err := DecodeValid[limitReq](strings.NewReader(`{"limit": 5}`))
	require.NoError(t, err)
	assert.Equal(t, 5, v.Limit)

	v, err = DecodeValid[limitReq](strings.NewReader(``))
	require.NoError(t, err)
	assert.Zero(t, v.Limit)

	_, err = DecodeValid[limitReq](strings.NewReader(`{"limit": 50}`))
	assert.Equal(t, http.StatusBadRequest, seyerrs.StatusOf(err))

	_, err = DecodeValid[limitReq](strings.NewReader(`{"limit": "five"}`))
	assert.Equal(t, http.StatusBadRequest, seyerrs.StatusOf(err))
}

func TestRequestIDMiddleware(t *testing.T) {
	var got string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, attr := range logger.Attrs(r.Context()) {
			if attr.Key == "request_id" {
				got = attr.Value.String()
			}
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, got)
	assert.Equal(t, got, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", got)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestAccessLogMiddleware_DefaultsToOK(t *testing.T) {
	var code int
	h := AccessLogMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
		code = w.(*respCodeWriter).code
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", rec.Body.String())
}
