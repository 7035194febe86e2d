// Package sessiontest drives handlers through a Redis-backed session the way
// a browser would, carrying the session cookie between requests.
package sessiontest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/quotedesk/internal/shared"
)

// NewManager returns a session manager backed by a throwaway miniredis.
func NewManager(t *testing.T) *shared.SessionManager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return shared.NewSessionManager(client, "quotedesk_session", "test-secret", time.Hour, false)
}

// Browser is one visitor with its own cookie jar of size one.
type Browser struct {
	t        *testing.T
	handler  http.Handler
	sessions *shared.SessionManager
	cookie   *http.Cookie

	// Session is the session used by the most recent request.
	Session *shared.Session
}

// NewBrowser binds a visitor to handler.
func NewBrowser(t *testing.T, handler http.Handler, sessions *shared.SessionManager) *Browser {
	return &Browser{t: t, handler: handler, sessions: sessions}
}

// Login attaches userID to the visitor's session.
func (b *Browser) Login(userID string) {
	b.t.Helper()
	req := b.request(http.MethodGet, "/", nil, "")
	sess, err := b.sessions.Load(req.Context(), req)
	require.NoError(b.t, err)
	sess.SetUser(userID)
	b.commit(req, sess)
}

// Get issues a GET.
func (b *Browser) Get(path string) *httptest.ResponseRecorder {
	return b.Do(http.MethodGet, path, nil, "")
}

// PostForm issues a form-encoded POST.
func (b *Browser) PostForm(path string, body io.Reader) *httptest.ResponseRecorder {
	return b.Do(http.MethodPost, path, body, "application/x-www-form-urlencoded")
}

// Do loads the session, serves the request and commits the session.
func (b *Browser) Do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	b.t.Helper()
	req := b.request(method, path, body, contentType)
	sess, err := b.sessions.Load(req.Context(), req)
	require.NoError(b.t, err)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))

	rec := httptest.NewRecorder()
	b.handler.ServeHTTP(rec, req)
	b.commit(req, sess)
	return rec
}

func (b *Browser) request(method, path string, body io.Reader, contentType string) *http.Request {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if b.cookie != nil {
		req.AddCookie(b.cookie)
	}
	return req
}

func (b *Browser) commit(req *http.Request, sess *shared.Session) {
	jar := httptest.NewRecorder()
	require.NoError(b.t, b.sessions.Commit(context.Background(), jar, req, sess))
	for _, c := range jar.Result().Cookies() {
		if c.Name == b.sessions.CookieName() {
			b.cookie = c
		}
	}
	b.Session = sess
}
