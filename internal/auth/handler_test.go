package auth_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/quotedesk/internal/auth"
	"github.com/odyssey-erp/quotedesk/internal/shared"
	"github.com/odyssey-erp/quotedesk/internal/testing/sessiontest"
	_ "github.com/odyssey-erp/quotedesk/testing"
)

type stubRepo struct {
	mu       sync.Mutex
	users    map[string]*auth.User
	sessions map[string]int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{users: map[string]*auth.User{}, sessions: map[string]int64{}}
}

func (s *stubRepo) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return u, nil
}

func (s *stubRepo) CreateUser(_ context.Context, u auth.User) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Email]; ok {
		return nil, auth.ErrEmailTaken
	}
	u.ID = int64(len(s.users) + 1)
	s.users[u.Email] = &u
	return &u, nil
}

func (s *stubRepo) CreateSession(_ context.Context, id string, userID int64, _ time.Time, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = userID
	return nil
}

func (s *stubRepo) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func newAuth(t *testing.T) (*stubRepo, *auth.Service, *sessiontest.Browser) {
	t.Helper()
	repo := newStubRepo()
	svc := auth.NewService(repo).WithCost(bcrypt.MinCost)
	sessions := sessiontest.NewManager(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	auth.NewHandler(logger, svc, sessions, shared.NewCSRFManager("csrf")).MountRoutes(r)
	return repo, svc, sessiontest.NewBrowser(t, r, sessions)
}

func loginBody(email, password string) io.Reader {
	return strings.NewReader(url.Values{"email": {email}, "password": {password}}.Encode())
}

func TestLoginSetsSessionUser(t *testing.T) {
	repo, svc, b := newAuth(t)
	user, err := svc.Register(context.Background(), " Ada@Example.com ", "Ada", "correct-horse")
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", user.Email)

	rec := b.PostForm("/login", loginBody("ADA@example.com", "correct-horse"))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "1", b.Session.User())
	require.Equal(t, user.ID, repo.sessions[b.Session.ID])
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	_, svc, b := newAuth(t)
	_, err := svc.Register(context.Background(), "ada@example.com", "Ada", "correct-horse")
	require.NoError(t, err)

	require.Equal(t, http.StatusUnauthorized, b.PostForm("/login", loginBody("ada@example.com", "wrong-pass")).Code)
	require.Equal(t, http.StatusUnauthorized, b.PostForm("/login", loginBody("nobody@example.com", "whatever1")).Code)
	require.Equal(t, http.StatusBadRequest, b.PostForm("/login", loginBody("not-an-email", "x")).Code)
	require.Empty(t, b.Session.User())
}

func TestLogoutDestroysSession(t *testing.T) {
	repo, svc, b := newAuth(t)
	_, err := svc.Register(context.Background(), "ada@example.com", "Ada", "correct-horse")
	require.NoError(t, err)
	require.Equal(t, http.StatusSeeOther, b.PostForm("/login", loginBody("ada@example.com", "correct-horse")).Code)

	require.Equal(t, http.StatusSeeOther, b.PostForm("/logout", nil).Code)
	require.Empty(t, repo.sessions)
}

func TestRegisterValidates(t *testing.T) {
	_, svc, _ := newAuth(t)
	_, err := svc.Register(context.Background(), "bad", "", "short")
	require.Error(t, err)
	_, err = svc.Register(context.Background(), "ada@example.com", "", "long-enough")
	require.NoError(t, err)
	_, err = svc.Register(context.Background(), "ADA@example.com", "", "long-enough")
	require.ErrorIs(t, err, auth.ErrEmailTaken)
}
