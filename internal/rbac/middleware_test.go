package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/quotedesk/internal/shared"
)

type fakeSource map[int64][]string

func (f fakeSource) EffectivePermissions(_ context.Context, userID int64) ([]string, error) {
	if userID == 500 {
		return nil, errors.New("boom")
	}
	return f[userID], nil
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, user string) int {
	t.Helper()
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if user != "" {
		sess := &shared.Session{ID: "s"}
		sess.SetUser(user)
		req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	}
	rec := httptest.NewRecorder()
	mw(ok).ServeHTTP(rec, req)
	return rec.Code
}

func TestRequireAnyAndAll(t *testing.T) {
	m := Middleware{Service: fakeSource{
		1: {"invoices.manage"},
		2: {"permissions.view"},
		3: {"invoices.manage", "permissions.view"},
	}}

	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAny(" Invoices.Manage "), "1"))
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAny(PermInvoicesManage), "2"))
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAny(PermInvoicesManage), ""))
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAll(PermInvoicesManage, PermPermissionsView), "1"))
	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAll(PermInvoicesManage, PermPermissionsView), "3"))
	require.Equal(t, http.StatusInternalServerError, serve(t, m.RequireAny(PermInvoicesManage), "500"))
}

func TestRequireUser(t *testing.T) {
	m := Middleware{}
	require.Equal(t, http.StatusUnauthorized, serve(t, m.RequireUser(), ""))
	require.Equal(t, http.StatusUnauthorized, serve(t, m.RequireUser(), "not-a-number"))
	require.Equal(t, http.StatusNoContent, serve(t, m.RequireUser(), "7"))
}
