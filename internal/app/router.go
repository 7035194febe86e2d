package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/quotedesk/internal/auth"
	"github.com/odyssey-erp/quotedesk/internal/checkout"
	"github.com/odyssey-erp/quotedesk/internal/invoices"
	"github.com/odyssey-erp/quotedesk/internal/observability"
	"github.com/odyssey-erp/quotedesk/internal/platform/httpx"
	"github.com/odyssey-erp/quotedesk/internal/quotes"
	"github.com/odyssey-erp/quotedesk/internal/rbac"
	"github.com/odyssey-erp/quotedesk/internal/shared"
	"github.com/odyssey-erp/quotedesk/jobs"
	"github.com/odyssey-erp/quotedesk/report"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Metrics        *observability.Metrics

	AuthHandler        *auth.Handler
	QuotesHandler      *quotes.Handler
	InvoicesHandler    *invoices.Handler
	CheckoutHandler    *checkout.Handler
	ReportHandler      *report.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router with quotedesk defaults. Provider
// webhooks share the base stack but skip the session and CSRF layers.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	mwCfg := MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}
	for _, mw := range BaseStack(mwCfg) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	if params.InvoicesHandler != nil {
		params.InvoicesHandler.MountWebhooks(r)
	}
	if params.CheckoutHandler != nil {
		params.CheckoutHandler.MountWebhooks(r)
	}

	r.Group(func(r chi.Router) {
		for _, mw := range BrowserStack(mwCfg) {
			r.Use(mw)
		}
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/quotes", http.StatusSeeOther)
		})
		if params.AuthHandler != nil {
			params.AuthHandler.MountRoutes(r)
		}
		if params.QuotesHandler != nil {
			params.QuotesHandler.MountRoutes(r)
		}
		if params.InvoicesHandler != nil {
			params.InvoicesHandler.MountRoutes(r)
		}
		if params.CheckoutHandler != nil {
			params.CheckoutHandler.MountRoutes(r)
		}
		if params.ReportHandler != nil {
			params.ReportHandler.MountRoutes(r)
		}
		if params.PermissionsHandler != nil {
			params.PermissionsHandler.MountRoutes(r)
		}
	})

	return r
}
