package invoices

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/quotedesk/internal/platform/httpx"
	"github.com/odyssey-erp/quotedesk/internal/rbac"
	"github.com/odyssey-erp/quotedesk/internal/shared"
)

// WebhookSecretHeader authenticates the generic payment webhook.
const WebhookSecretHeader = "X-Webhook-Secret"

// Handler serves customer invoice pages, operator actions and the generic
// payment webhook.
type Handler struct {
	logger        *slog.Logger
	service       *Service
	rbac          rbac.Middleware
	webhookSecret string
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, webhookSecret string) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, webhookSecret: webhookSecret}
}

// MountRoutes registers browser-facing invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireUser())
		r.Get("/account/invoices", h.listInvoices)
		r.Get("/account/invoices/{number}", h.showInvoice)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermInvoicesManage))
		r.Get("/admin/invoices/{number}", h.adminShowInvoice)
		r.Post("/admin/invoices/{number}/mark-paid", h.markPaid)
		r.Post("/admin/invoices/{number}/payments", h.addPayment)
		r.Post("/admin/invoices/{number}/payments/{paymentID}/{status}", h.transitionPayment)
		r.Post("/admin/invoices/{number}/bank-transfer", h.bankTransfer)
		r.Post("/admin/invoices/{number}/stock-confirmed", h.stockConfirmed)
		r.Post("/admin/invoices/{number}/build-date", h.buildDate)
		r.Post("/admin/invoices/{number}/shipping-date", h.shippingDate)
	})
}

// MountWebhooks registers machine-to-machine routes. They sit outside the
// session and CSRF middleware.
func (h *Handler) MountWebhooks(r chi.Router) {
	r.Post("/webhooks/payments", h.paymentWebhook)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	list, err := h.service.ListForCustomer(r.Context(), userID)
	if err != nil {
		h.fail(w, "list invoices", err)
		return
	}
	if list == nil {
		list = []Invoice{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": list})
}

func (h *Handler) showInvoice(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	detail, err := h.service.FindForCustomer(r.Context(), chi.URLParam(r, "number"), userID)
	if err != nil {
		h.fail(w, "show invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detailResponse(detail))
}

func (h *Handler) adminShowInvoice(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.Detail(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.fail(w, "admin show invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detailResponse(detail))
}

func detailResponse(d *Detail) map[string]any {
	return map[string]any{
		"invoice":     d.Invoice,
		"payments":    d.Payments,
		"events":      d.Events,
		"paid_so_far": d.PaidSoFar,
		"outstanding": d.Outstanding,
		"can_pay":     d.CanPay(),
	}
}

func (h *Handler) markPaid(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.MarkPaid(r.Context(), chi.URLParam(r, "number"), actor(r))
	if err != nil {
		h.fail(w, "mark paid", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"invoice_status": inv.Status,
		"paid_at":        inv.PaidAt,
	})
}

type paymentRequest struct {
	Method            string `json:"method"`
	Amount            string `json:"amount"`
	Status            string `json:"status"`
	Provider          string `json:"provider"`
	ProviderReference string `json:"provider_reference"`
}

func (h *Handler) addPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if isJSON(r) {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.JSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			httpx.JSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid form"})
			return
		}
		req = paymentRequest{
			Method:            r.PostFormValue("method"),
			Amount:            r.PostFormValue("amount"),
			Status:            r.PostFormValue("status"),
			Provider:          r.PostFormValue("provider"),
			ProviderReference: r.PostFormValue("provider_reference"),
		}
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		httpx.JSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid amount"})
		return
	}
	pay, inv, err := h.service.RecordPayment(r.Context(), chi.URLParam(r, "number"), PaymentInput{
		Method:            req.Method,
		Amount:            amount,
		Status:            PaymentStatus(strings.TrimSpace(req.Status)),
		Provider:          req.Provider,
		ProviderReference: req.ProviderReference,
		Actor:             actor(r),
	})
	if err != nil {
		h.fail(w, "add payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"payment_id":     pay.ID,
		"invoice_status": inv.Status,
	})
}

func (h *Handler) transitionPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := strconv.ParseInt(chi.URLParam(r, "paymentID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, ErrPaymentNotFound)
		return
	}
	to := PaymentStatus(chi.URLParam(r, "status"))
	pay, inv, err := h.service.TransitionPayment(r.Context(), chi.URLParam(r, "number"), paymentID, to)
	if err != nil {
		h.fail(w, "transition payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"payment":        pay,
		"invoice_status": inv.Status,
	})
}

func (h *Handler) bankTransfer(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed form")
		return
	}
	pay, inv, err := h.service.RecordBankTransfer(r.Context(), chi.URLParam(r, "number"), r.PostFormValue("reference"), actor(r))
	if err != nil {
		h.fail(w, "bank transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"payment_id":     pay.ID,
		"amount":         pay.Amount,
		"invoice_status": inv.Status,
	})
}

func (h *Handler) stockConfirmed(w http.ResponseWriter, r *http.Request) {
	inv, changed, err := h.service.ConfirmItemsInStock(r.Context(), chi.URLParam(r, "number"), actor(r))
	h.milestoneResponse(w, "confirm stock", inv, changed, err)
}

func (h *Handler) buildDate(w http.ResponseWriter, r *http.Request) {
	date, ok := formDate(w, r)
	if !ok {
		return
	}
	inv, changed, err := h.service.ScheduleBuild(r.Context(), chi.URLParam(r, "number"), date, actor(r))
	h.milestoneResponse(w, "schedule build", inv, changed, err)
}

func (h *Handler) shippingDate(w http.ResponseWriter, r *http.Request) {
	date, ok := formDate(w, r)
	if !ok {
		return
	}
	inv, changed, err := h.service.ScheduleShipping(r.Context(), chi.URLParam(r, "number"), date, actor(r))
	h.milestoneResponse(w, "schedule shipping", inv, changed, err)
}

func (h *Handler) milestoneResponse(w http.ResponseWriter, op string, inv *Invoice, changed bool, err error) {
	if err != nil {
		h.fail(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok", "changed": changed, "invoice": inv})
}

func formDate(w http.ResponseWriter, r *http.Request) (date time.Time, ok bool) {
	if err := r.ParseForm(); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed form")
		return date, false
	}
	date, err := ParseDate(strings.TrimSpace(r.PostFormValue("date")))
	if err != nil {
		httpx.RespondError(w, httpx.FieldErrors{"date": "Enter a date as YYYY-MM-DD."})
		return date, false
	}
	return date, true
}

type webhookPayload struct {
	InvoiceNumber     string          `json:"invoice_number"`
	Method            string          `json:"method"`
	Amount            decimal.Decimal `json:"amount"`
	Status            PaymentStatus   `json:"status"`
	Provider          string          `json:"provider"`
	ProviderReference string          `json:"provider_reference"`
}

func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	given := r.Header.Get(WebhookSecretHeader)
	if h.webhookSecret == "" || subtle.ConstantTimeCompare([]byte(given), []byte(h.webhookSecret)) != 1 {
		httpx.JSON(w, http.StatusForbidden, map[string]string{"error": "Forbidden"})
		return
	}
	var payload webhookPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.JSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}
	number := strings.TrimSpace(payload.InvoiceNumber)
	if number == "" {
		httpx.JSON(w, http.StatusBadRequest, map[string]string{"error": "invoice_number required"})
		return
	}
	pay, created, inv, err := h.service.RecordExternalPayment(r.Context(), number, PaymentInput{
		Method:            payload.Method,
		Amount:            payload.Amount,
		Status:            payload.Status,
		Provider:          payload.Provider,
		ProviderReference: payload.ProviderReference,
	})
	if err != nil {
		h.fail(w, "payment webhook", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"payment_id":     pay.ID,
		"created":        created,
		"invoice_status": inv.Status,
	})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !errors.Is(err, httpx.ErrNotFound) && !errors.Is(err, httpx.ErrValidation) && !errors.Is(err, httpx.ErrConflict) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// actor names the signed-in operator for the audit trail.
func actor(r *http.Request) string {
	if id, ok := shared.UserIDFromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(id, 10)
	}
	return "system"
}
