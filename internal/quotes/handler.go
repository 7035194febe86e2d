package quotes

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/quotedesk/internal/platform/httpx"
	"github.com/odyssey-erp/quotedesk/internal/rbac"
	"github.com/odyssey-erp/quotedesk/internal/shared"
)

// Handler serves the public quote pages.
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

// MountRoutes registers public quote routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/quotes", h.browse)
	r.Route("/q/{token}", func(r chi.Router) {
		r.Get("/", h.showQuote)
		r.Get("/accept", h.showAcceptForm)
		r.Post("/accept", h.submitAcceptance)
		r.Get("/thanks", h.showThanks)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermQuotesManage))
		r.Post("/admin/quotes/{token}/release-reservation", h.releaseReservation)
	})
}

func (h *Handler) releaseReservation(w http.ResponseWriter, r *http.Request) {
	token, ok := h.token(w, r)
	if !ok {
		return
	}
	released, err := h.service.ReleaseReservation(r.Context(), token)
	if err != nil {
		h.fail(w, "release reservation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok", "released": released})
}

type itemResponse struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VATRate     decimal.Decimal `json:"vat_rate"`
	LineTotal   decimal.Decimal `json:"line_total"`
	VAT         decimal.Decimal `json:"vat"`
}

type quoteResponse struct {
	Token            uuid.UUID        `json:"token"`
	Reference        string           `json:"reference"`
	Title            string           `json:"title"`
	Notes            string           `json:"notes,omitempty"`
	Status           Status           `json:"status"`
	NotVATRegistered bool             `json:"not_vat_registered"`
	ValidUntil       *time.Time       `json:"valid_until,omitempty"`
	Expired          bool             `json:"expired"`
	Available        bool             `json:"available"`
	Items            []itemResponse   `json:"items"`
	Totals           Totals           `json:"totals"`
	Reservation      ReservationState `json:"reservation"`
}

func newQuoteResponse(v *View) quoteResponse {
	q := v.Quote
	items := make([]itemResponse, 0, len(q.Items))
	for _, it := range q.Items {
		items = append(items, itemResponse{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			VATRate:     it.VATRate,
			LineTotal:   it.LineTotal(),
			VAT:         it.VATAmount(),
		})
	}
	return quoteResponse{
		Token:            q.Token,
		Reference:        q.Reference,
		Title:            q.Title,
		Notes:            q.Notes,
		Status:           q.Status,
		NotVATRegistered: q.NotVATRegistered,
		ValidUntil:       q.ValidUntil,
		Expired:          v.Expired,
		Available:        v.Available,
		Items:            items,
		Totals:           v.Totals,
		Reservation:      v.Reservation,
	}
}

func (h *Handler) browse(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	var (
		claimant string
		visited  []string
	)
	if sess != nil {
		claimant = sess.ID
		visited = sess.VisitedQuotes()
	}
	view, err := h.service.Browse(r.Context(), claimant, visited)
	if err != nil {
		h.logger.Error("browse quotes", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.respond(w, r, http.StatusOK, map[string]any{"browse": view})
}

func (h *Handler) showQuote(w http.ResponseWriter, r *http.Request) {
	token, ok := h.token(w, r)
	if !ok {
		return
	}
	sess := shared.SessionFromContext(r.Context())
	claimant := ""
	if sess != nil {
		claimant = sess.ID
	}
	view, err := h.service.View(r.Context(), token, claimant)
	if err != nil {
		h.fail(w, "view quote", err)
		return
	}
	if sess != nil {
		sess.RememberQuote(token.String())
	}
	h.respond(w, r, http.StatusOK, map[string]any{"quote": newQuoteResponse(view)})
}

func (h *Handler) showAcceptForm(w http.ResponseWriter, r *http.Request) {
	token, ok := h.token(w, r)
	if !ok {
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.RespondError(w, ErrClaimantRequired)
		return
	}
	view, err := h.service.BeginAcceptance(r.Context(), token, sess.ID)
	switch {
	case errors.Is(err, ErrUnavailable):
		h.redirectWithFlash(w, r, detailPath(token), shared.FlashError, "This quote is not available for acceptance.")
		return
	case errors.Is(err, ErrReservationHeld):
		h.redirectWithFlash(w, r, detailPath(token), shared.FlashError, "This quote is currently reserved. Please try again soon.")
		return
	case err != nil:
		h.fail(w, "begin acceptance", err)
		return
	}
	sess.RememberQuote(token.String())
	h.respond(w, r, http.StatusOK, map[string]any{
		"quote":  newQuoteResponse(view),
		"fields": acceptanceFields,
	})
}

var acceptanceFields = map[string][]string{
	"contact": {"full_name", "email", "phone", "company"},
	"address": {"address_line1", "address_line2", "city", "postcode"},
	"other":   {"notes"},
}

func (h *Handler) submitAcceptance(w http.ResponseWriter, r *http.Request) {
	token, ok := h.token(w, r)
	if !ok {
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.RespondError(w, ErrClaimantRequired)
		return
	}
	form, err := decodeAcceptance(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed acceptance form")
		return
	}

	var userID *int64
	if id, ok := shared.UserIDFromContext(r.Context()); ok {
		userID = &id
	}

	_, err = h.service.SubmitAcceptance(r.Context(), token, sess.ID, form, userID)
	switch {
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrAlreadyAccepted):
		h.redirectWithFlash(w, r, detailPath(token), shared.FlashError, "This quote is not available for acceptance.")
		return
	case errors.Is(err, ErrReservationLost):
		h.redirectWithFlash(w, r, detailPath(token), shared.FlashError, "Your reservation expired. Please start acceptance again.")
		return
	case err != nil:
		h.fail(w, "submit acceptance", err)
		return
	}
	h.redirectWithFlash(w, r, detailPath(token)+"/thanks", shared.FlashSuccess, "Thank you. Your acceptance has been recorded.")
}

func (h *Handler) showThanks(w http.ResponseWriter, r *http.Request) {
	token, ok := h.token(w, r)
	if !ok {
		return
	}
	q, inv, err := h.service.Thanks(r.Context(), token)
	if err != nil {
		h.fail(w, "quote thanks", err)
		return
	}
	data := map[string]any{
		"reference": q.Reference,
		"title":     q.Title,
	}
	if inv != nil {
		data["invoice_number"] = inv.Number
	}
	h.respond(w, r, http.StatusOK, data)
}

func decodeAcceptance(r *http.Request) (AcceptanceForm, error) {
	var form AcceptanceForm
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		err := httpx.DecodeJSON(r, &form)
		return form, err
	}
	if err := r.ParseForm(); err != nil {
		return form, err
	}
	form = AcceptanceForm{
		FullName:     r.PostFormValue("full_name"),
		Email:        r.PostFormValue("email"),
		Phone:        r.PostFormValue("phone"),
		Company:      r.PostFormValue("company"),
		AddressLine1: r.PostFormValue("address_line1"),
		AddressLine2: r.PostFormValue("address_line2"),
		City:         r.PostFormValue("city"),
		Postcode:     r.PostFormValue("postcode"),
		Notes:        r.PostFormValue("notes"),
	}
	return form, nil
}

// token parses the URL capability. Malformed tokens get the same 404 as
// unknown ones.
func (h *Handler) token(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	token, err := uuid.Parse(chi.URLParam(r, "token"))
	if err != nil {
		httpx.RespondError(w, ErrQuoteNotFound)
		return uuid.Nil, false
	}
	return token, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !errors.Is(err, httpx.ErrNotFound) && !errors.Is(err, httpx.ErrValidation) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, data map[string]any) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if token, err := h.csrf.EnsureToken(r.Context(), sess); err == nil {
			data["csrf_token"] = token
		}
		if flashes := sess.Flashes(); len(flashes) > 0 {
			data["flashes"] = flashes
		}
	}
	httpx.JSON(w, status, data)
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	httpx.Redirect(w, r, location)
}

func detailPath(token uuid.UUID) string {
	return "/q/" + token.String()
}
