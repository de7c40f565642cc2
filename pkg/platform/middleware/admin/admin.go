package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"visitorpass/pkg/requestcontext"
)

const (
	AdminTokenHeader = "X-Admin-Token"
	StaffTokenHeader = "X-Staff-Token"
)

// RequireAdminToken guards operator endpoints with a shared secret in X-Admin-Token.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return RequireToken(AdminTokenHeader, expectedToken, "admin", logger)
}

// RequireStaffToken guards the gate scanner endpoint. An empty expected token
// leaves the endpoint open.
func RequireStaffToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return RequireToken(StaffTokenHeader, expectedToken, "staff", logger)
}

// RequireToken compares header against expectedToken in constant time and
// records actor on success. An empty expectedToken disables the check.
func RequireToken(header, expectedToken, actor string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if expectedToken == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(header)
			ctx := r.Context()
			if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				logger.WarnContext(ctx, "token mismatch",
					"request_id", requestcontext.RequestID(ctx),
					"header", header,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + actor + ` token required"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(ctx, actor)))
		})
	}
}
