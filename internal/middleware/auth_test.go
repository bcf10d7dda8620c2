package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIKeyAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	serve := func(h http.Handler, target string, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	api := APIKeyAuth("secret-key", "X-API-Key")(ok)
	stream := APIKeyAuth("secret-key", "X-API-Key", QueryKey("api_key"))(ok)

	t.Run("requires the key", func(t *testing.T) {
		rec := serve(api, "/api/sync/status", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
		assert.JSONEq(t, `{"error":"API key is required"}`, rec.Body.String())

		assert.Equal(t, http.StatusUnauthorized, serve(api, "/api/sync/status", map[string]string{"X-API-Key": "wrong"}).Code)
		assert.Equal(t, http.StatusOK, serve(api, "/api/sync/status", map[string]string{"X-API-Key": "secret-key"}).Code)
	})

	t.Run("accepts a bearer token", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve(api, "/api/places", map[string]string{"Authorization": "Bearer secret-key"}).Code)
		assert.Equal(t, http.StatusUnauthorized, serve(api, "/api/places", map[string]string{"Authorization": "Basic secret-key"}).Code)
	})

	t.Run("query key only where allowed", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve(stream, "/ws?api_key=secret-key", nil).Code)
		assert.Equal(t, http.StatusUnauthorized, serve(stream, "/ws", nil).Code)
		assert.Equal(t, http.StatusUnauthorized, serve(api, "/api/locations?api_key=secret-key", nil).Code)
	})

	t.Run("empty key disables the check", func(t *testing.T) {
		open := APIKeyAuth("", "X-API-Key")(ok)
		assert.Equal(t, http.StatusOK, serve(open, "/api/sync/status", nil).Code)
	})
}
