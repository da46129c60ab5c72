package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"accountlink/pkg/platform/httputil"
	request "accountlink/pkg/platform/middleware/request"
	"accountlink/pkg/requestcontext"
)

// TokenValidator validates a bearer token and returns the calling service.
type TokenValidator interface {
	ValidateCaller(tokenString string) (string, error)
}

// ValidatorFunc adapts a function to TokenValidator.
type ValidatorFunc func(tokenString string) (string, error)

func (f ValidatorFunc) ValidateCaller(tokenString string) (string, error) {
	return f(tokenString)
}

// RequireServiceToken rejects requests without a valid bearer token and
// records the caller in the request context.
func RequireServiceToken(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", request.GetRequestID(ctx),
				)
				httputil.WriteError(w, httputil.CodeUnauthorized, "Missing or invalid Authorization header")
				return
			}

			caller, err := validator.ValidateCaller(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", request.GetRequestID(ctx),
				)
				httputil.WriteError(w, httputil.CodeUnauthorized, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithCaller(ctx, caller)))
		})
	}
}
