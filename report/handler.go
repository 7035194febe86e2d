package report

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/quotedesk/internal/company"
	"github.com/odyssey-erp/quotedesk/internal/invoices"
	"github.com/odyssey-erp/quotedesk/internal/platform/httpx"
	"github.com/odyssey-erp/quotedesk/internal/rbac"
	"github.com/odyssey-erp/quotedesk/internal/shared"
)

// InvoiceSource loads invoice documents.
type InvoiceSource interface {
	FindForCustomer(ctx context.Context, number string, userID int64) (*invoices.Detail, error)
	Detail(ctx context.Context, number string) (*invoices.Detail, error)
	Document(ctx context.Context, d *invoices.Detail) (*invoices.Document, error)
}

// CompanySource supplies seller details.
type CompanySource interface {
	Details(ctx context.Context) company.Details
}

// Pinger reports renderer health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler exposes invoice PDF downloads.
type Handler struct {
	logger   *slog.Logger
	invoices InvoiceSource
	company  CompanySource
	renderer *InvoiceRenderer
	pinger   Pinger
	rbac     rbac.Middleware
}

// NewHandler constructs the PDF handler.
func NewHandler(logger *slog.Logger, inv InvoiceSource, companySrc CompanySource, renderer *InvoiceRenderer, pinger Pinger, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, invoices: inv, company: companySrc, renderer: renderer, pinger: pinger, rbac: rbac}
}

// MountRoutes registers the customer and operator download routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireUser())
		r.Get("/account/invoices/{number}/pdf", h.customerPDF)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermInvoicesManage))
		r.Get("/admin/invoices/{number}/pdf", h.adminPDF)
		r.Get("/admin/report/ping", h.ping)
	})
}

func (h *Handler) customerPDF(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	detail, err := h.invoices.FindForCustomer(r.Context(), chi.URLParam(r, "number"), userID)
	if err != nil {
		h.fail(w, "customer pdf", err)
		return
	}
	h.serve(w, r, detail)
}

func (h *Handler) adminPDF(w http.ResponseWriter, r *http.Request) {
	detail, err := h.invoices.Detail(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.fail(w, "admin pdf", err)
		return
	}
	h.serve(w, r, detail)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, detail *invoices.Detail) {
	doc, err := h.invoices.Document(r.Context(), detail)
	if err != nil {
		h.fail(w, "load document", err)
		return
	}
	pdf, err := h.renderer.PDF(r.Context(), doc, h.company.Details(r.Context()))
	if err != nil {
		h.fail(w, "render pdf", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+Filename(doc.Invoice.Number)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	if err := h.pinger.Ping(r.Context()); err != nil {
		h.logger.Warn("gotenberg ping", slog.Any("error", err))
		httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
