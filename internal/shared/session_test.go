package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestSessionManager(t *testing.T) *SessionManager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "quotedesk_session", "secret", time.Hour, false)
}

func TestSessionRoundTripKeepsClaimantID(t *testing.T) {
	sm := newTestSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	sess.SetUser("42")
	sess.AddFlash(FlashMessage{Kind: FlashSuccess, Message: "hello"})

	rr := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rr, httptest.NewRequest(http.MethodGet, "/", nil), sess))
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	require.Equal(t, sess.ID, loaded.ID)
	require.Equal(t, "42", loaded.User())
	flash := loaded.PopFlash()
	require.NotNil(t, flash)
	require.Equal(t, "hello", flash.Message)
	require.Nil(t, loaded.PopFlash())
}

func TestSessionRememberQuoteDedupesAndOrders(t *testing.T) {
	sess := &Session{}
	sess.RememberQuote("a")
	sess.RememberQuote("b")
	sess.RememberQuote("a")
	require.Equal(t, []string{"a", "b"}, sess.VisitedQuotes())

	for i := 0; i < maxVisitedQuotes+5; i++ {
		sess.RememberQuote(string(rune('c' + i)))
	}
	require.Len(t, sess.VisitedQuotes(), maxVisitedQuotes)
}

func TestCSRFTokenVerification(t *testing.T) {
	m := NewCSRFManager("secret")
	sess := &Session{ID: "abc"}
	ctx := context.Background()

	token, err := m.EnsureToken(ctx, sess)
	require.NoError(t, err)
	again, err := m.EnsureToken(ctx, sess)
	require.NoError(t, err)
	require.Equal(t, token, again)

	require.NoError(t, m.VerifyToken(ctx, sess, token))
	require.ErrorIs(t, m.VerifyToken(ctx, sess, "nope"), ErrCSRFTokenMismatch)
	require.ErrorIs(t, m.VerifyToken(ctx, sess, ""), ErrCSRFTokenMissing)
}

func TestUserIDFromContext(t *testing.T) {
	sess := &Session{}
	ctx := ContextWithSession(context.Background(), sess)
	_, ok := UserIDFromContext(ctx)
	require.False(t, ok)

	sess.SetUser("7")
	id, ok := UserIDFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, int64(7), id)
}
