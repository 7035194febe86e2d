package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/quotedesk/internal/app"
	"github.com/odyssey-erp/quotedesk/internal/auth"
	"github.com/odyssey-erp/quotedesk/internal/checkout"
	"github.com/odyssey-erp/quotedesk/internal/invoices"
	"github.com/odyssey-erp/quotedesk/internal/notify"
	"github.com/odyssey-erp/quotedesk/internal/observability"
	"github.com/odyssey-erp/quotedesk/internal/quotes"
	"github.com/odyssey-erp/quotedesk/internal/rbac"
	"github.com/odyssey-erp/quotedesk/internal/shared"
	"github.com/odyssey-erp/quotedesk/jobs"
	"github.com/odyssey-erp/quotedesk/report"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	rt, err := openRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger := rt.cfg, rt.logger

	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(rt.redis, "quotedesk_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(rt.tx)
	idempotencyStore := shared.NewIdempotencyStore(rt.tx)
	companyResolver := rt.companyResolver()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queue, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()
	dispatcher := notify.NewDispatcher(queue, cfg.AppBaseURL, logger,
		notify.WithSMS(cfg.NotifySMSEnabled),
		notify.WithCompany(companyResolver),
		notify.WithMetrics(metrics.Jobs()),
	)

	invoiceService := invoices.NewService(invoices.NewRepository(rt.tx), rt.tx, dispatcher, logger,
		invoices.WithAudit(auditLogger),
		invoices.WithMetrics(metrics),
	)
	quoteService := quotes.NewService(quotes.NewRepository(rt.tx), rt.tx, invoiceService, logger,
		quotes.WithReservationWindow(cfg.ReservationWindow),
		quotes.WithMetrics(metrics),
	)

	rbacService := rbac.NewService(rbac.NewRepository(rt.tx), rt.tx)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	authService := auth.NewService(auth.NewRepository(rt.tx)).WithCost(cfg.PasswordBcryptCost)

	fees, err := cfg.FeeSchedule()
	if err != nil {
		return err
	}
	var gateway checkout.Gateway
	if cfg.CheckoutEnabled() {
		gateway = checkout.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.CheckoutTimeout)
	} else {
		logger.Warn("card checkout disabled: STRIPE_SECRET_KEY or STRIPE_PUBLIC_KEY missing")
	}
	checkoutService := checkout.NewService(invoiceService, gateway, companyResolver, idempotencyStore, checkout.Config{
		Fees:      fees,
		BaseURL:   cfg.AppBaseURL,
		PublicKey: cfg.StripePublicKey,
		Timeout:   cfg.CheckoutTimeout,
	}, logger)

	pdfClient := report.NewClient(cfg.GotenbergURL, cfg.GotenbergTimeout)
	invoiceRenderer, err := report.NewInvoiceRenderer(pdfClient)
	if err != nil {
		return err
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		Metrics:            metrics,
		AuthHandler:        auth.NewHandler(logger, authService, sessionManager, csrfManager),
		QuotesHandler:      quotes.NewHandler(logger, quoteService, csrfManager, rbacMiddleware),
		InvoicesHandler:    invoices.NewHandler(logger, invoiceService, rbacMiddleware, cfg.PaymentWebhookSecret),
		CheckoutHandler:    checkout.NewHandler(logger, checkoutService, csrfManager, rbacMiddleware),
		ReportHandler:      report.NewHandler(logger, invoiceService, companyResolver, invoiceRenderer, pdfClient, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
