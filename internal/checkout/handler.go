package checkout

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/quotedesk/internal/platform/httpx"
	"github.com/odyssey-erp/quotedesk/internal/rbac"
	"github.com/odyssey-erp/quotedesk/internal/shared"
)

// SignatureHeader carries the provider's webhook signature.
const SignatureHeader = "Stripe-Signature"

const maxWebhookBody = 64 << 10

// Handler serves the customer payment pages and the provider webhook.
type Handler struct {
	logger  *slog.Logger
	service *Service
	csrf    *shared.CSRFManager
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, csrf *shared.CSRFManager, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, csrf: csrf, rbac: rbac}
}

// MountRoutes registers customer checkout routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireUser())
		r.Get("/account/invoices/{number}/payment-methods", h.paymentMethods)
		r.Post("/account/invoices/{number}/pay", h.pay)
		r.Get("/account/invoices/{number}/pay/success", h.success)
		r.Get("/account/invoices/{number}/pay/cancel", h.cancel)
	})
}

// MountWebhooks registers the signed provider webhook.
func (h *Handler) MountWebhooks(r chi.Router) {
	r.Post("/webhooks/checkout", h.webhook)
}

func (h *Handler) paymentMethods(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	opts, err := h.service.Options(r.Context(), chi.URLParam(r, "number"), userID)
	if err != nil {
		h.fail(w, "payment methods", err)
		return
	}
	data := map[string]any{"payment_methods": opts}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		if token, err := h.csrf.EnsureToken(r.Context(), sess); err == nil {
			data["csrf_token"] = token
		}
		if flashes := sess.Flashes(); len(flashes) > 0 {
			data["flashes"] = flashes
		}
	}
	httpx.JSON(w, http.StatusOK, data)
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	number := chi.URLParam(r, "number")
	sess, err := h.service.Start(r.Context(), number, userID)
	switch {
	case err == nil:
		http.Redirect(w, r, sess.URL, http.StatusSeeOther)
	case errors.Is(err, ErrAlreadyPaid):
		h.redirectWithFlash(w, r, invoicePath(number), shared.FlashInfo, "Invoice already paid.")
	case errors.Is(err, ErrNothingToPay):
		h.redirectWithFlash(w, r, invoicePath(number), shared.FlashInfo, "Nothing to pay.")
	case errors.Is(err, ErrDisabled):
		h.redirectWithFlash(w, r, methodsPath(number), shared.FlashError, "Card payments are not available right now.")
	case errors.Is(err, httpx.ErrUpstream):
		h.logger.Error("checkout start", slog.String("invoice", number), slog.Any("error", err))
		h.redirectWithFlash(w, r, methodsPath(number), shared.FlashError, shared.UserSafeMessage(err))
	default:
		h.fail(w, "checkout start", err)
	}
}

func (h *Handler) success(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	number := chi.URLParam(r, "number")
	paid, err := h.service.ConfirmReturn(r.Context(), number, userID, r.URL.Query().Get("session_id"))
	switch {
	case err == nil && paid:
		h.redirectWithFlash(w, r, invoicePath(number), shared.FlashSuccess, "Payment received. Thank you.")
	case err == nil:
		h.redirectWithFlash(w, r, invoicePath(number), shared.FlashInfo, "Your payment is being processed.")
	case errors.Is(err, httpx.ErrNotFound):
		h.fail(w, "checkout return", err)
	default:
		h.logger.Warn("checkout return", slog.String("invoice", number), slog.Any("error", err))
		h.redirectWithFlash(w, r, invoicePath(number), shared.FlashError, shared.UserSafeMessage(err))
	}
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	number := chi.URLParam(r, "number")
	if _, err := h.service.invoices.FindForCustomer(r.Context(), number, userID); err != nil {
		h.fail(w, "checkout cancel", err)
		return
	}
	h.redirectWithFlash(w, r, methodsPath(number), shared.FlashWarning, "Payment cancelled. You have not been charged.")
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	if !h.service.WebhooksEnabled() {
		w.WriteHeader(http.StatusOK)
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httpx.JSON(w, http.StatusBadRequest, map[string]string{"error": "Unreadable body"})
		return
	}
	err = h.service.HandleWebhook(r.Context(), payload, r.Header.Get(SignatureHeader))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, ErrInvalidSignature):
		httpx.JSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid signature"})
	default:
		h.logger.Error("checkout webhook", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	httpx.Redirect(w, r, location)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	var fields httpx.FieldErrors
	if !errors.Is(err, httpx.ErrNotFound) && !errors.As(err, &fields) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func invoicePath(number string) string {
	return "/account/invoices/" + url.PathEscape(number)
}

func methodsPath(number string) string {
	return invoicePath(number) + "/payment-methods"
}
