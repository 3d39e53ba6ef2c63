package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/mediafetch/backend/internal/errors"
	"github.com/mediafetch/backend/internal/logger"
)

type contextKey string

const keyContextKey contextKey = "api_key"

var log = logger.WithComponent("auth")

// KeyContext identifies the API key behind a request
type KeyContext struct {
	ID   string
	Name string
}

// APIKeyMiddleware requires a valid API key in X-API-Key, an
// "Authorization: Bearer mfk_..." header, or a key query parameter (for
// WebSocket clients that cannot set headers).
func APIKeyMiddleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := apperrors.GetRequestID(r.Context())

			raw := presentedKey(r)
			if raw == "" {
				apperrors.WriteError(w, requestID, apperrors.Unauthorized("missing API key"))
				return
			}

			key, err := svc.VerifyKey(r.Context(), raw)
			if err != nil {
				if errors.Is(err, ErrInvalidKey) {
					apperrors.WriteError(w, requestID, apperrors.InvalidAPIKey())
					return
				}
				apperrors.WriteError(w, requestID, apperrors.DatabaseError("failed to verify API key").WithCause(err))
				return
			}

			ctx := context.WithValue(r.Context(), keyContextKey, &KeyContext{ID: key.ID.String(), Name: key.Name})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminMiddleware requires an admin bearer JWT
func AdminMiddleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := apperrors.GetRequestID(r.Context())

			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				apperrors.WriteError(w, requestID, apperrors.Unauthorized("missing bearer token"))
				return
			}

			if _, err := svc.ValidateAdminToken(parts[1]); err != nil {
				switch {
				case errors.Is(err, ErrTokenExpired):
					apperrors.WriteError(w, requestID, apperrors.TokenExpired())
				case errors.Is(err, ErrNotAdmin):
					apperrors.WriteError(w, requestID, apperrors.Forbidden("admin role required"))
				default:
					apperrors.WriteError(w, requestID, apperrors.InvalidToken("invalid access token"))
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func presentedKey(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	if parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2); len(parts) == 2 &&
		strings.ToLower(parts[0]) == "bearer" && strings.HasPrefix(parts[1], KeyPrefix) {
		return parts[1]
	}
	return r.URL.Query().Get("key")
}

// GetKeyFromContext returns the API key of the request, if any
func GetKeyFromContext(ctx context.Context) *KeyContext {
	key, ok := ctx.Value(keyContextKey).(*KeyContext)
	if !ok {
		return nil
	}
	return key
}

// WithKey attaches key identity to ctx; used by background jobs that act on
// behalf of a key
func WithKey(ctx context.Context, key *KeyContext) context.Context {
	return context.WithValue(ctx, keyContextKey, key)
}
