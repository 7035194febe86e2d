package report

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/quotedesk/internal/company"
	"github.com/odyssey-erp/quotedesk/internal/invoices"
	"github.com/odyssey-erp/quotedesk/internal/rbac"
	"github.com/odyssey-erp/quotedesk/internal/testing/sessiontest"
)

type capturePDF struct {
	html   string
	assets map[string][]byte
	err    error
}

func (c *capturePDF) RenderHTML(_ context.Context, html string, assets map[string][]byte, _ PageOptions) ([]byte, error) {
	c.html = html
	c.assets = assets
	if c.err != nil {
		return nil, c.err
	}
	return []byte("%PDF"), nil
}

func (c *capturePDF) Ping(context.Context) error { return c.err }

type fakeInvoices struct {
	detail *invoices.Detail
	owner  int64
}

func (f *fakeInvoices) FindForCustomer(_ context.Context, number string, userID int64) (*invoices.Detail, error) {
	if number != f.detail.Invoice.Number || userID != f.owner {
		return nil, invoices.ErrInvoiceNotFound
	}
	return f.detail, nil
}

func (f *fakeInvoices) Detail(_ context.Context, number string) (*invoices.Detail, error) {
	if number != f.detail.Invoice.Number {
		return nil, invoices.ErrInvoiceNotFound
	}
	return f.detail, nil
}

func (f *fakeInvoices) Document(_ context.Context, d *invoices.Detail) (*invoices.Document, error) {
	return &invoices.Document{Detail: *d, Items: []invoices.LineItem{{
		Description: "Workstation build",
		Quantity:    2,
		UnitPrice:   decimal.RequireFromString("40.00"),
		VATRate:     decimal.RequireFromString("20"),
		Total:       decimal.RequireFromString("96.00"),
	}}}, nil
}

type staticCompany company.Details

func (s staticCompany) Details(context.Context) company.Details { return company.Details(s) }

type permissions map[int64][]string

func (p permissions) EffectivePermissions(_ context.Context, userID int64) ([]string, error) {
	return p[userID], nil
}

func sampleDetail(status invoices.Status) *invoices.Detail {
	return &invoices.Detail{
		Invoice: invoices.Invoice{
			Number:      "INV-20260301-000001",
			ClientName:  "Ada Lovelace",
			ClientEmail: "ada@example.com",
			Subtotal:    decimal.RequireFromString("80.00"),
			Delivery:    decimal.RequireFromString("4.00"),
			VAT:         decimal.RequireFromString("16.00"),
			Total:       decimal.RequireFromString("100.00"),
			Status:      status,
			CreatedAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		PaidSoFar:   decimal.RequireFromString("40.00"),
		Outstanding: decimal.RequireFromString("60.00"),
	}
}

func seller() company.Details {
	return company.Details{
		Name:         "Quotedesk Ltd",
		AddressLine1: "1 High Street",
		City:         "Leeds",
		Bank:         company.Bank{AccountNumber: "12345678", SortCode: "12-34-56"},
	}
}

func TestInvoiceHTML(t *testing.T) {
	pdf := &capturePDF{}
	renderer, err := NewInvoiceRenderer(pdf)
	require.NoError(t, err)
	inv := &fakeInvoices{detail: sampleDetail(invoices.StatusUnpaid)}
	doc, err := inv.Document(context.Background(), inv.detail)
	require.NoError(t, err)

	out, err := renderer.PDF(context.Background(), doc, seller())
	require.NoError(t, err)
	require.Equal(t, "%PDF", string(out))
	require.Contains(t, pdf.assets, "invoice.css")
	require.Contains(t, pdf.html, "UNPAID")
	require.Contains(t, pdf.html, "Workstation build")
	require.Contains(t, pdf.html, "£100.00")
	require.Contains(t, pdf.html, "Sort code: 12-34-56")
	require.Contains(t, pdf.html, "Quotedesk Ltd")
	require.Contains(t, pdf.html, "20%")

	doc.Invoice.Status = invoices.StatusPaid
	html, err := renderer.HTML(doc, seller())
	require.NoError(t, err)
	require.Contains(t, html, `watermark-PAID`)
	require.NotContains(t, html, "Pay by bank transfer")
}

func newRouter(t *testing.T, pdf *capturePDF, inv *fakeInvoices) http.Handler {
	t.Helper()
	renderer, err := NewInvoiceRenderer(pdf)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := rbac.Middleware{Service: permissions{1: {rbac.PermInvoicesManage}}, Logger: logger}
	h := NewHandler(logger, inv, staticCompany(seller()), renderer, pdf, mw)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func TestCustomerDownload(t *testing.T) {
	pdf := &capturePDF{}
	inv := &fakeInvoices{detail: sampleDetail(invoices.StatusUnpaid), owner: 7}
	router := newRouter(t, pdf, inv)
	sessions := sessiontest.NewManager(t)
	path := "/account/invoices/" + inv.detail.Invoice.Number + "/pdf"

	anon := sessiontest.NewBrowser(t, router, sessions)
	require.Equal(t, http.StatusUnauthorized, anon.Get(path).Code)

	other := sessiontest.NewBrowser(t, router, sessions)
	other.Login("8")
	require.Equal(t, http.StatusNotFound, other.Get(path).Code)

	owner := sessiontest.NewBrowser(t, router, sessions)
	owner.Login("7")
	rec := owner.Get(path)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.True(t, strings.Contains(rec.Header().Get("Content-Disposition"), "invoice-INV-20260301-000001.pdf"))
	require.Equal(t, "%PDF", rec.Body.String())
}

func TestAdminDownloadAndRenderFailure(t *testing.T) {
	pdf := &capturePDF{}
	inv := &fakeInvoices{detail: sampleDetail(invoices.StatusPaid)}
	router := newRouter(t, pdf, inv)
	sessions := sessiontest.NewManager(t)
	path := "/admin/invoices/" + inv.detail.Invoice.Number + "/pdf"

	customer := sessiontest.NewBrowser(t, router, sessions)
	customer.Login("2")
	require.Equal(t, http.StatusForbidden, customer.Get(path).Code)

	operator := sessiontest.NewBrowser(t, router, sessions)
	operator.Login("1")
	require.Equal(t, http.StatusOK, operator.Get(path).Code)
	require.Equal(t, http.StatusOK, operator.Get("/admin/report/ping").Code)

	pdf.err = ErrRender
	require.Equal(t, http.StatusServiceUnavailable, operator.Get(path).Code)
	require.Equal(t, http.StatusServiceUnavailable, operator.Get("/admin/report/ping").Code)
}
