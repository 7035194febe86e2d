package quotes_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/quotedesk/internal/quotes"
	"github.com/odyssey-erp/quotedesk/internal/rbac"
	"github.com/odyssey-erp/quotedesk/internal/shared"
	"github.com/odyssey-erp/quotedesk/internal/testing/sessiontest"
)

type pageBody struct {
	Quote struct {
		Reference   string                  `json:"reference"`
		Available   bool                    `json:"available"`
		Totals      map[string]string       `json:"totals"`
		Reservation quotes.ReservationState `json:"reservation"`
	} `json:"quote"`
	CSRFToken     string                `json:"csrf_token"`
	Flashes       []shared.FlashMessage `json:"flashes"`
	InvoiceNumber string                `json:"invoice_number"`
	Errors        map[string]string     `json:"errors"`
}

type operatorPerms struct{}

func (operatorPerms) EffectivePermissions(_ context.Context, userID int64) ([]string, error) {
	if userID == 1 {
		return []string{rbac.PermQuotesManage}, nil
	}
	return nil, nil
}

func decodePage(t *testing.T, body io.Reader) pageBody {
	t.Helper()
	var out pageBody
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func newHandlerEnv(t *testing.T) (*fixture, http.Handler, *shared.SessionManager) {
	t.Helper()
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := rbac.Middleware{Service: operatorPerms{}, Logger: logger}
	h := quotes.NewHandler(logger, f.svc, shared.NewCSRFManager("csrf-secret"), mw)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return f, r, sessiontest.NewManager(t)
}

func acceptanceBody() io.Reader {
	form := url.Values{
		"full_name":     {"Ada Lovelace"},
		"email":         {"ada@example.com"},
		"phone":         {"07700 900000"},
		"address_line1": {"1 Analytical Row"},
		"city":          {"London"},
		"postcode":      {"SW1A 1AA"},
	}
	return strings.NewReader(form.Encode())
}

func TestQuotePageShowsTotalsAndRemembersVisit(t *testing.T) {
	f, router, sessions := newHandlerEnv(t)
	q := f.repo.Seed(gpuQuote())
	alice := sessiontest.NewBrowser(t, router, sessions)

	rec := alice.Get("/q/" + q.Token.String())
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodePage(t, rec.Body)
	require.Equal(t, q.Reference, page.Quote.Reference)
	require.True(t, page.Quote.Available)
	require.Equal(t, "720", page.Quote.Totals["total"])
	require.False(t, page.Quote.Reservation.Active)
	require.NotEmpty(t, page.CSRFToken)
	require.Equal(t, []string{q.Token.String()}, alice.Session.VisitedQuotes())
}

func TestUnknownOrMalformedTokensAre404(t *testing.T) {
	_, router, sessions := newHandlerEnv(t)
	b := sessiontest.NewBrowser(t, router, sessions)

	require.Equal(t, http.StatusNotFound, b.Get("/q/not-a-uuid").Code)
	require.Equal(t, http.StatusNotFound, b.Get("/q/"+uuid.NewString()).Code)
	require.Equal(t, http.StatusNotFound, b.Get("/q/"+uuid.NewString()+"/accept").Code)
}

func TestAcceptFlowAcrossTwoVisitors(t *testing.T) {
	f, router, sessions := newHandlerEnv(t)
	q := f.repo.Seed(gpuQuote())
	base := "/q/" + q.Token.String()
	alice := sessiontest.NewBrowser(t, router, sessions)
	bob := sessiontest.NewBrowser(t, router, sessions)

	rec := alice.Get(base + "/accept")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodePage(t, rec.Body)
	require.True(t, page.Quote.Reservation.OwnedByMe)
	require.Equal(t, 900, page.Quote.Reservation.SecondsRemaining)

	rec = bob.Get(base + "/accept")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, base, rec.Header().Get("Location"))
	page = decodePage(t, bob.Get(base).Body)
	require.Len(t, page.Flashes, 1)
	require.Equal(t, "This quote is currently reserved. Please try again soon.", page.Flashes[0].Message)
	require.True(t, page.Quote.Reservation.Active)
	require.False(t, page.Quote.Reservation.OwnedByMe)

	rec = bob.PostForm(base+"/accept", acceptanceBody())
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, base, rec.Header().Get("Location"))

	rec = alice.PostForm(base+"/accept", strings.NewReader(url.Values{"email": {"nope"}}.Encode()))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	page = decodePage(t, rec.Body)
	require.Equal(t, "This field is required.", page.Errors["full_name"])
	require.Equal(t, "Enter a valid email address.", page.Errors["email"])

	rec = alice.PostForm(base+"/accept", acceptanceBody())
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, base+"/thanks", rec.Header().Get("Location"))

	rec = alice.Get(base + "/thanks")
	require.Equal(t, http.StatusOK, rec.Code)
	page = decodePage(t, rec.Body)
	require.Regexp(t, `^INV-\d{8}-[0-9A-F]{6}$`, page.InvoiceNumber)
	require.Equal(t, "Thank you. Your acceptance has been recorded.", page.Flashes[0].Message)

	rec = bob.Get(base + "/accept")
	require.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestExpiredReservationRedirectsOnSubmit(t *testing.T) {
	f, router, sessions := newHandlerEnv(t)
	q := f.repo.Seed(gpuQuote())
	base := "/q/" + q.Token.String()
	alice := sessiontest.NewBrowser(t, router, sessions)

	require.Equal(t, http.StatusOK, alice.Get(base+"/accept").Code)
	f.advance(15*time.Minute + time.Second)

	rec := alice.PostForm(base+"/accept", acceptanceBody())
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, base, rec.Header().Get("Location"))
	page := decodePage(t, alice.Get(base).Body)
	require.Equal(t, "Your reservation expired. Please start acceptance again.", page.Flashes[0].Message)
	require.Zero(t, f.repo.Acceptances())
}

func TestBrowseListsPublicQuotes(t *testing.T) {
	f, router, sessions := newHandlerEnv(t)
	public := f.repo.Seed(gpuQuote())
	private := gpuQuote()
	private.IsPublic = false
	f.repo.Seed(private)

	rec := sessiontest.NewBrowser(t, router, sessions).Get("/quotes")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Browse quotes.BrowseView `json:"browse"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Browse.Quotes, 1)
	require.Equal(t, public.Token, body.Browse.Quotes[0].Token)
	require.Equal(t, 1, body.Browse.AvailableCount)
}

func TestOperatorReleasesReservation(t *testing.T) {
	f, router, sessions := newHandlerEnv(t)
	q := f.repo.Seed(gpuQuote())
	base := "/q/" + q.Token.String()
	alice := sessiontest.NewBrowser(t, router, sessions)
	bob := sessiontest.NewBrowser(t, router, sessions)
	require.Equal(t, http.StatusOK, alice.Get(base+"/accept").Code)

	visitor := sessiontest.NewBrowser(t, router, sessions)
	visitor.Login("2")
	release := "/admin/quotes/" + q.Token.String() + "/release-reservation"
	require.Equal(t, http.StatusForbidden, visitor.PostForm(release, nil).Code)

	operator := sessiontest.NewBrowser(t, router, sessions)
	operator.Login("1")
	rec := operator.PostForm(release, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","released":true}`, rec.Body.String())

	require.Equal(t, http.StatusOK, bob.Get(base+"/accept").Code)
}
