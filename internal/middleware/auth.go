package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"thinknet-backend/internal/errors"
	"thinknet-backend/pkg/api"
	"thinknet-backend/pkg/auth"
)

// Authenticator validates request tokens.
type Authenticator interface {
	Authenticate(r *http.Request) (*auth.Claims, error)
}

// Authenticate rejects requests without a valid token and stores the caller
// on the context.
func Authenticate(authenticator Authenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := authenticator.Authenticate(r)
			if err != nil {
				logger.Debug("rejected request token",
					zap.Error(err),
					zap.String("requestID", GetRequestID(r.Context())),
				)
				api.WriteError(w, errors.Unauthorized(errors.CodeInvalidToken, "authentication required").Build(), GetRequestID(r.Context()))
				return
			}
			ctx := auth.WithUser(r.Context(), &auth.UserContext{UserID: claims.UserID, Username: claims.Username})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
