package serverutil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wserrs "github.com/jdholdren/wishsync/internal/errors"
	"github.com/jdholdren/wishsync/internal/logger"
)

type nameRequest struct {
	Name string `json:"name"`
}

func (n nameRequest) Validate() error {
	if n.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func TestDecodeValid(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "valid", body: `{"name": "Birthday"}`},
		{name: "bad json", body: `{"name":`, wantStatus: http.StatusBadRequest},
		{name: "invalid", body: `{}`, wantStatus: http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeValid[nameRequest](strings.NewReader(tt.body))
			if tt.wantStatus == 0 {
				require.NoError(t, err)
				assert.Equal(t, "Birthday", got.Name)
				return
			}

			var sErr *wserrs.Error
			require.ErrorAs(t, err, &sErr)
			assert.Equal(t, tt.wantStatus, sErr.Status)
		})
	}
}

func TestHandlerFuncE(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{name: "structured", err: wserrs.E("nope", http.StatusTeapot), wantStatus: http.StatusTeapot, wantMsg: "nope"},
		{name: "unstructured", err: errors.New("db exploded"), wantStatus: http.StatusInternalServerError, wantMsg: "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HandlerFuncE(func(http.ResponseWriter, *http.Request) error {
				return tt.err
			}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body wserrs.Error
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantMsg, body.Err.Error())
		})
	}
}

func TestAccessLogMiddleware(t *testing.T) {
	var gotID string
	h := AccessLogMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, attr := range logger.Attrs(r.Context()) {
			if attr.Key == "request_id" {
				gotID = attr.Value.String()
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("generates an id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.NotEmpty(t, gotID)
		assert.Equal(t, gotID, rec.Header().Get(RequestIDHeader))
	})

	t.Run("keeps the caller's id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "abc", gotID)
		assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
	})
}
