package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"courier/internal/config"
	"courier/internal/httpserver"
	"courier/internal/logging"
	"courier/internal/observability"
	"courier/internal/reconcile"
	"courier/internal/sns"
	"courier/internal/store/pg"
)

func main() {
	cfg := config.LoadEvents()
	logging.Init("events", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns:          cfg.DBPoolMaxConns,
		MinConns:          cfg.DBPoolMinConns,
		MaxConnLifetime:   cfg.DBPoolMaxConnLifetime,
		MaxConnIdleTime:   cfg.DBPoolMaxConnIdleTime,
		HealthCheckPeriod: cfg.DBPoolHealthCheckPeriod,
	})
	if err != nil {
		slog.Error("events db connect failed", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	verifier := &sns.Verifier{
		HTTP:    &http.Client{Timeout: time.Duration(cfg.SNSSignatureTimeoutSeconds) * time.Second},
		Timeout: time.Duration(cfg.SNSSignatureTimeoutSeconds) * time.Second,
	}

	reconciler := &reconcile.Reconciler{
		Store:    pg.New(db),
		Verifier: verifier,
		Policy: reconcile.Policy{
			AllowedTopicARNs: cfg.SNSAllowedTopicARNs,
			VerifySignatures: cfg.SNSVerifySignatures,
			SkipVerification: cfg.SNSSkipSignatureVerify,
			Development:      cfg.Environment == "development",
		},
	}

	s := httpserver.New()
	wh := &httpserver.Webhook{Reconciler: reconciler}
	wh.Register(s.Mux)

	s.Mux.HandleFunc("/healthz", httpserver.Healthz())
	s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, func(ctx context.Context) error {
		return db.Ping(ctx)
	}))

	go serveMetrics(cfg.MetricsPort)

	handler := httpserver.Logging(httpserver.Metrics(observability.APIRequests)(s.Mux))
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("events shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("events listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("events server failed", "err", err)
		os.Exit(1)
	}

	db.Close()
}

func serveMetrics(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(":"+port, mux); err != nil && err != http.ErrServerClosed {
		slog.Error("metrics server failed", "err", err)
	}
}
