package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/go4it/marketplace/internal/api/response"
)

type contextKey string

const userIDKey contextKey = "user_id"

// UserHeader carries the caller identity established by the gateway in
// front of the API.
const UserHeader = "X-User-ID"

// Identity rejects requests without a caller identity and stores it on the
// context.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			response.WriteError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		logger := zerolog.Ctx(r.Context()).With().Str("user_id", userID).Logger()
		ctx := logger.WithContext(WithUserID(r.Context(), userID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID returns the caller identity, or "" outside Identity.
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
