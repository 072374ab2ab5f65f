package middleware

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"algopilot/pkg/crypto"
)

// Auth - проверка bearer-токена API.
//
// Токен сравнивается с bcrypt-хешем API_TOKEN_HASH. Пустой хеш
// отключает проверку (локальная разработка); об этом пишется WARN
// при создании middleware.
//
// Использование:
//
//	api := router.PathPrefix("/api/v1").Subrouter()
//	api.Use(middleware.Auth(cfg.Security.APITokenHash, logger))
func Auth(tokenHash string, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokenHash == "" {
		logger.Warn("API_TOKEN_HASH is not set, API authentication disabled")
		return func(next http.Handler) http.Handler { return next }
	}

	// bcrypt дорог на каждый запрос: принятые токены запоминаются по sha256
	var verified sync.Map
	matches := func(token string) bool {
		digest := sha256.Sum256([]byte(token))
		if _, ok := verified.Load(digest); ok {
			return true
		}
		if !crypto.TokenMatches(token, tokenHash) {
			return false
		}
		verified.Store(digest, struct{}{})
		return true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok || !matches(token) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `","code":"` + code + `"}`))
}
