package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	alerthttp "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/interfaces/http"
	"github.com/getdatasurge/fresh-staged-sub013/internal/audit"
	"github.com/getdatasurge/fresh-staged-sub013/internal/auth"
	"github.com/getdatasurge/fresh-staged-sub013/internal/config"
	"github.com/getdatasurge/fresh-staged-sub013/internal/gateway/transport"
	"github.com/getdatasurge/fresh-staged-sub013/internal/logging"
	notifyhttp "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/interfaces/http"
	"github.com/getdatasurge/fresh-staged-sub013/internal/storage/migrations"
)

var (
	configPath  string
	apiOnly     bool
	metricsAddr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "freshtrack",
		Short:         "Temperature alerting, live broadcast and notification delivery",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, ingest endpoint and live gateway",
		RunE:  runServe,
	}
	serveCmd.Flags().BoolVar(&apiOnly, "api-only", false, "Do not consume the notification queue or deliver jobs in this process")

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume alert events and deliver notification jobs",
		RunE:  runWorker,
	}
	workerCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9091", "Address serving /metrics and /healthz")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded postgres schema",
		RunE:  runMigrate,
	}

	rootCmd.AddCommand(serveCmd, workerCmd, migrateCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	app, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer app.close()
	cfg := app.cfg
	logger := app.logger

	if err := app.buildAlerting(ctx); err != nil {
		return err
	}
	if !apiOnly {
		if err := app.startIntake(ctx); err != nil {
			return err
		}
		if err := app.startWorker(ctx); err != nil {
			return err
		}
	} else if cfg.Events.Queue == config.QueueMemory {
		logger.Warn().Msg("memory queue with --api-only: alert events will not be delivered")
	}

	router, err := app.router()
	if err != nil {
		return err
	}
	go app.gateway.RunRevocationSweep(ctx, 30*time.Second)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	// Streams never go idle, so Shutdown would wait out its timeout without this.
	server.RegisterOnShutdown(app.gateway.DisconnectAll)
	return serveUntilDone(ctx, server, cfg.HTTP.ShutdownTimeout, logger, func(shutdownCtx context.Context) {
		if err := app.publisher.Close(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("publisher drain incomplete")
		}
		if err := app.gateway.Close(); err != nil {
			logger.Warn().Err(err).Msg("gateway close failed")
		}
	})
}

func runWorker(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	app, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer app.close()
	if app.cfg.Events.Queue == config.QueueMemory {
		return errors.New("worker: the memory queue is process-local; run serve instead")
	}
	if err := app.startIntake(ctx); err != nil {
		return err
	}
	if err := app.startWorker(ctx); err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Get("/healthz", healthz)
	r.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: metricsAddr, Handler: r, ReadTimeout: app.cfg.HTTP.ReadTimeout}
	return serveUntilDone(ctx, server, app.cfg.HTTP.ShutdownTimeout, app.logger, nil)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.Init(cfg.Log.Level, cfg.Log.Format)
	db, err := openDB(cmd.Context(), cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	applied, err := migrations.Apply(cmd.Context(), db, logger)
	if err != nil {
		return err
	}
	logger.Info().Strs("applied", applied).Msg("migrations complete")
	return nil
}

func (a *app) router() (http.Handler, error) {
	cfg := a.cfg
	logger := a.logger

	alertHandler, err := alerthttp.NewHandler(a.service,
		alerthttp.WithDeliveryHistory(deliveryHistory(a.jobs)),
		alerthttp.WithLogger(logging.WithComponent("alerts-http")),
	)
	if err != nil {
		return nil, err
	}
	ingestHandler, err := alerthttp.NewIngestHandler(a.service, a.directory, logging.WithComponent("ingest"))
	if err != nil {
		return nil, err
	}
	opsHandler, err := notifyhttp.NewHandler(a.jobs, a.suppressions,
		notifyhttp.WithAuditor(a.auditor),
		notifyhttp.WithLogger(logging.WithComponent("notifications-http")),
	)
	if err != nil {
		return nil, err
	}
	wsHandler, err := transport.NewWebSocketHandler(a.gateway,
		transport.WithClientBuffer(cfg.Gateway.ClientBuffer),
		transport.WithWebSocketLogger(logging.WithComponent("websocket")),
	)
	if err != nil {
		return nil, err
	}
	sseHandler, err := transport.NewStreamHandler(a.gateway, cfg.Gateway.ClientBuffer, logging.WithComponent("sse"))
	if err != nil {
		return nil, err
	}

	verifier, err := auth.NewVerifier([]byte(cfg.Auth.JWTSecret), a.revocations)
	if err != nil {
		return nil, err
	}
	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/", "/api/v1/live"})
	authMiddleware := auth.NewMiddleware(verifier, policy, logging.WithComponent("auth"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(audit.Middleware)
	r.Use(authMiddleware.Wrap)

	r.Get("/healthz", healthz)
	r.Handle("/metrics", promhttp.Handler())
	if cfg.Ingest.HMACSecret == "" {
		logger.Warn().Msg("ingest.hmac_secret not set: /ingest/readings disabled")
	} else {
		r.Method(http.MethodPost, "/ingest/readings", auth.NewIngestAuthMiddleware([]byte(cfg.Ingest.HMACSecret), cfg.Ingest.MaxSkew).Wrap(ingestHandler))
	}
	alertHandler.RegisterRoutes(r)
	opsHandler.RegisterRoutes(r)
	r.Handle("/api/v1/live", wsHandler)
	r.Handle("/api/v1/live/stream", sseHandler)
	return r, nil
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func serveUntilDone(ctx context.Context, server *http.Server, timeout time.Duration, logger zerolog.Logger, onShutdown func(context.Context)) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if onShutdown != nil {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), timeout)
		defer drainCancel()
		onShutdown(drainCtx)
	}
	return nil
}
