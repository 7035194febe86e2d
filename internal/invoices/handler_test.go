package invoices_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/quotedesk/internal/invoices"
	"github.com/odyssey-erp/quotedesk/internal/invoices/invoicestest"
	"github.com/odyssey-erp/quotedesk/internal/rbac"
	"github.com/odyssey-erp/quotedesk/internal/testing/sessiontest"
)

const webhookSecret = "whsec_generic"

type permissions map[int64][]string

func (p permissions) EffectivePermissions(_ context.Context, userID int64) ([]string, error) {
	return p[userID], nil
}

func newRouter(t *testing.T, f *fixture) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := rbac.Middleware{Service: permissions{1: {rbac.PermInvoicesManage}}, Logger: logger}
	h := invoices.NewHandler(logger, f.svc, mw, webhookSecret)
	r := chi.NewRouter()
	h.MountRoutes(r)
	h.MountWebhooks(r)
	return r
}

func postWebhook(router http.Handler, secret, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(invoices.WebhookSecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPaymentWebhookRejectsBadSecret(t *testing.T) {
	f := newFixture(t)
	router := newRouter(t, f)
	inv := f.invoice(t, "100.00")
	body := `{"invoice_number":"` + inv.Number + `","amount":"100.00"}`

	require.Equal(t, http.StatusForbidden, postWebhook(router, "", body).Code)
	require.Equal(t, http.StatusForbidden, postWebhook(router, "wrong", body).Code)
	require.Empty(t, f.repo.Payments(inv.ID))
}

func TestPaymentWebhookDuplicateDeliverySettlesOnce(t *testing.T) {
	f := newFixture(t)
	router := newRouter(t, f)
	inv := f.invoice(t, "100.00")
	body := `{"invoice_number":"` + inv.Number + `","method":"card","amount":100.00,"provider":"acme","provider_reference":"evt_1"}`

	for i, wantCreated := range []bool{true, false} {
		rec := postWebhook(router, webhookSecret, body)
		require.Equal(t, http.StatusOK, rec.Code, "delivery %d", i)
		var resp struct {
			Created       bool   `json:"created"`
			InvoiceStatus string `json:"invoice_status"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Equal(t, wantCreated, resp.Created)
		require.Equal(t, "paid", resp.InvoiceStatus)
	}

	require.Len(t, f.repo.Payments(inv.ID), 1)
	require.Equal(t, 1, invoicestest.CountEvents(f.repo.Events(inv.ID), invoices.EventPaid))
	require.Len(t, f.notifier.Sent, 1)
}

func TestPaymentWebhookValidatesPayload(t *testing.T) {
	f := newFixture(t)
	router := newRouter(t, f)
	inv := f.invoice(t, "100.00")

	require.Equal(t, http.StatusBadRequest, postWebhook(router, webhookSecret, `{`).Code)
	require.Equal(t, http.StatusBadRequest, postWebhook(router, webhookSecret, `{"amount":"1.00"}`).Code)
	require.Equal(t, http.StatusBadRequest, postWebhook(router, webhookSecret, `{"invoice_number":"`+inv.Number+`","amount":"-5"}`).Code)
	require.Equal(t, http.StatusNotFound, postWebhook(router, webhookSecret, `{"invoice_number":"INV-00000000-000000","amount":"5"}`).Code)
}

func TestAdminRoutesRequirePermission(t *testing.T) {
	f := newFixture(t)
	router := newRouter(t, f)
	inv := f.invoice(t, "100.00")
	sessions := sessiontest.NewManager(t)

	anon := sessiontest.NewBrowser(t, router, sessions)
	require.Equal(t, http.StatusForbidden, anon.PostForm("/admin/invoices/"+inv.Number+"/mark-paid", nil).Code)

	customer := sessiontest.NewBrowser(t, router, sessions)
	customer.Login("2")
	require.Equal(t, http.StatusForbidden, customer.PostForm("/admin/invoices/"+inv.Number+"/mark-paid", nil).Code)

	operator := sessiontest.NewBrowser(t, router, sessions)
	operator.Login("1")
	rec := operator.PostForm("/admin/invoices/"+inv.Number+"/mark-paid", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"invoice_status":"paid"`)
	rec = operator.PostForm("/admin/invoices/"+inv.Number+"/mark-paid", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, invoicestest.CountEvents(f.repo.Events(inv.ID), invoices.EventPaid))
}

func TestAdminAddPayment(t *testing.T) {
	f := newFixture(t)
	router := newRouter(t, f)
	inv := f.invoice(t, "100.00")
	operator := sessiontest.NewBrowser(t, router, sessiontest.NewManager(t))
	operator.Login("1")
	path := "/admin/invoices/" + inv.Number + "/payments"

	rec := operator.PostForm(path, strings.NewReader(url.Values{"amount": {"abc"}}.Encode()))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"Invalid amount"}`, rec.Body.String())

	rec = operator.PostForm(path, strings.NewReader(url.Values{
		"amount": {"40.00"}, "status": {"completed"}, "method": {"cash"},
	}.Encode()))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"invoice_status":"unpaid"`)

	rec = operator.PostForm(path, strings.NewReader(url.Values{
		"amount": {"60.00"}, "status": {"completed"},
	}.Encode()))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"invoice_status":"paid"`)

	rec = operator.PostForm("/admin/invoices/"+inv.Number+"/bank-transfer", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdminMilestones(t *testing.T) {
	f := newFixture(t)
	router := newRouter(t, f)
	inv := f.invoice(t, "100.00")
	operator := sessiontest.NewBrowser(t, router, sessiontest.NewManager(t))
	operator.Login("1")
	base := "/admin/invoices/" + inv.Number

	rec := operator.PostForm(base+"/build-date", strings.NewReader("date=tomorrow"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	for i := 0; i < 2; i++ {
		rec = operator.PostForm(base+"/build-date", strings.NewReader("date=2026-04-01"))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec = operator.PostForm(base+"/stock-confirmed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = operator.PostForm(base+"/shipping-date", strings.NewReader("date=2026-04-03"))
	require.Equal(t, http.StatusOK, rec.Code)

	events := f.repo.Events(inv.ID)
	require.Equal(t, 1, invoicestest.CountEvents(events, invoices.EventBuildScheduled))
	require.Equal(t, 1, invoicestest.CountEvents(events, invoices.EventStockOK))
	require.Equal(t, 1, invoicestest.CountEvents(events, invoices.EventShipScheduled))
}

func TestCustomerSeesOnlyOwnInvoices(t *testing.T) {
	f := newFixture(t)
	router := newRouter(t, f)
	inv := f.invoice(t, "100.00")
	f.repo.AddUser(7, "ada@example.com")
	f.repo.AddUser(8, "eve@example.com")
	sessions := sessiontest.NewManager(t)

	anon := sessiontest.NewBrowser(t, router, sessions)
	require.Equal(t, http.StatusUnauthorized, anon.Get("/account/invoices").Code)

	ada := sessiontest.NewBrowser(t, router, sessions)
	ada.Login("7")
	rec := ada.Get("/account/invoices/" + inv.Number)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"can_pay":true`)
	require.Contains(t, ada.Get("/account/invoices").Body.String(), inv.Number)

	eve := sessiontest.NewBrowser(t, router, sessions)
	eve.Login("8")
	require.Equal(t, http.StatusNotFound, eve.Get("/account/invoices/"+inv.Number).Code)
	require.JSONEq(t, `{"invoices":[]}`, eve.Get("/account/invoices").Body.String())
}
