package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/locationtracker/agent/internal/models"
)

// KeyOption adjusts where APIKeyAuth looks for the key
type KeyOption func(*keyAuth)

// QueryKey also accepts the key as a query parameter. Browsers cannot set
// headers on WebSocket upgrades, so the observer stream needs this.
func QueryKey(param string) KeyOption {
	return func(a *keyAuth) { a.query = param }
}

type keyAuth struct {
	key    []byte
	header string
	query  string
}

// APIKeyAuth rejects requests that do not present apiKey, either in header or
// as an Authorization bearer token. An empty apiKey disables the check.
func APIKeyAuth(apiKey, header string, opts ...KeyOption) func(http.Handler) http.Handler {
	a := &keyAuth{key: []byte(apiKey), header: header}
	for _, opt := range opts {
		opt(a)
	}

	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := a.presented(r)
			switch {
			case presented == "":
				deny(w, "API key is required")
			case subtle.ConstantTimeCompare(a.key, []byte(presented)) != 1:
				deny(w, "invalid API key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func (a *keyAuth) presented(r *http.Request) string {
	if v := r.Header.Get(a.header); v != "" {
		return v
	}
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	if a.query != "" {
		return r.URL.Query().Get(a.query)
	}
	return ""
}

func deny(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="location-tracker"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: msg})
}
