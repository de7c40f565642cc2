package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"visitorpass/pkg/requestcontext"
)

func TestRequireToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var actor string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = requestcontext.Actor(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	t.Run("rejects missing token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		RequireAdminToken("secret", logger)(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"error":"unauthorized","error_description":"admin token required"}`, rr.Body.String())
	})

	t.Run("accepts matching token and records actor", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(AdminTokenHeader, "secret")
		rr := httptest.NewRecorder()
		RequireAdminToken("secret", logger)(next).ServeHTTP(rr, r)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "admin", actor)
	})

	t.Run("empty expected token disables staff check", func(t *testing.T) {
		rr := httptest.NewRecorder()
		RequireStaffToken("", logger)(next).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/scan", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}
