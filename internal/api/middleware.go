package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/reclaim/internal/models"
	"github.com/shohag/reclaim/internal/storage"
)

type contextKey string

const accountContextKey contextKey = "account"

func AccountFromContext(ctx context.Context) *models.Account {
	acct, _ := ctx.Value(accountContextKey).(*models.Account)
	return acct
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	return token, auth != "" && token != auth
}

// AuthMiddleware resolves the merchant account from its API key.
func AuthMiddleware(store storage.Storage) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "invalid authorization format, use: Bearer <api_key>")
				return
			}

			acct, err := store.GetAccountByAPIKey(r.Context(), apiKey)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if acct == nil {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			ctx := context.WithValue(r.Context(), accountContextKey, acct)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminMiddleware guards account management. An empty token leaves it open.
func AdminMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				got, ok := bearerToken(r)
				if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
					writeError(w, http.StatusUnauthorized, "invalid admin token")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func LoggingMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.statusCode).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
