package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/quotedesk/internal/platform/httpx"
	"github.com/odyssey-erp/quotedesk/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		if token, err := h.csrfManager.EnsureToken(r.Context(), sess); err == nil {
			data["csrf_token"] = token
		}
		if flashes := sess.Flashes(); len(flashes) > 0 {
			data["flashes"] = flashes
		}
		data["signed_in"] = sess.User() != ""
	}
	httpx.JSON(w, http.StatusOK, data)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form loginForm
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := httpx.DecodeJSON(r, &form); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid form body")
			return
		}
		form = loginForm{Email: r.PostFormValue("email"), Password: r.PostFormValue("password")}
	}

	if err := h.validator.Struct(form); err != nil {
		fields := httpx.FieldErrors{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[strings.ToLower(fe.Field())] = "Enter a valid " + strings.ToLower(fe.Field()) + "."
			}
		}
		httpx.RespondError(w, fields)
		return
	}

	user, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			h.logger.Error("authenticate", slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Invalid email or password.")
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	sess.SetUser(strconv.FormatInt(user.ID, 10))
	sess.AddFlash(shared.FlashMessage{Kind: shared.FlashSuccess, Message: "Welcome back."})
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
	httpx.Redirect(w, r, "/account/invoices")
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	httpx.Redirect(w, r, "/quotes")
}
