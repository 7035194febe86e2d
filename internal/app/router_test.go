package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/quotedesk/internal/auth"
	"github.com/odyssey-erp/quotedesk/internal/observability"
	"github.com/odyssey-erp/quotedesk/internal/shared"
	"github.com/odyssey-erp/quotedesk/internal/testing/sessiontest"
	_ "github.com/odyssey-erp/quotedesk/testing"
)

type noUsers struct{}

func (noUsers) FindByEmail(context.Context, string) (*auth.User, error) { return nil, auth.ErrUserNotFound }
func (noUsers) CreateUser(_ context.Context, u auth.User) (*auth.User, error) {
	return &u, nil
}
func (noUsers) CreateSession(context.Context, string, int64, time.Time, string, string) error {
	return nil
}
func (noUsers) DeleteSession(context.Context, string) error { return nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := sessiontest.NewManager(t)
	csrf := shared.NewCSRFManager("csrf-secret")
	return NewRouter(RouterParams{
		Logger:         logger,
		Config:         &Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second},
		SessionManager: sessions,
		CSRFManager:    csrf,
		Metrics:        observability.NewMetrics(),
		AuthHandler:    auth.NewHandler(logger, auth.NewService(noUsers{}), sessions, csrf),
	})
}

func TestHealthAndMetrics(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "quotedesk_http_requests_total")
}

func TestUnsafeMethodsRequireCSRFToken(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/logout", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.NotEmpty(t, body.CSRFToken)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.Header.Set("X-CSRF-Token", body.CSRFToken)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestRootRedirectsToBrowseList(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/quotes", rec.Header().Get("Location"))
}
