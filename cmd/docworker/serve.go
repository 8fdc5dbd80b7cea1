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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tsawler/docworker/config"
	"github.com/tsawler/docworker/rpc"
	"github.com/tsawler/docworker/source"
	"github.com/tsawler/docworker/store"
	"github.com/tsawler/docworker/telemetry"
	"github.com/tsawler/docworker/worker"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve hosts over stdio or RabbitMQ",
		Long: "Serve runs the worker until interrupted. With the pipe transport the\n" +
			"host talks newline-delimited JSON on stdin and stdout; with amqp the\n" +
			"worker consumes transport.queue and replies on transport.peer_queue.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.log
	logger.Info("starting docworker", "version", version, "transport", cfg.Transport.Kind)

	var port rpc.Port
	switch cfg.Transport.Kind {
	case config.TransportAMQP:
		p, err := rpc.DialAMQP(cfg.Transport.AMQPURL, cfg.Transport.Queue, cfg.Transport.PeerQueue, logger)
		if err != nil {
			return err
		}
		port = p
	default:
		port = rpc.NewIOPort(os.Stdin, os.Stdout)
	}

	opts := worker.Options{
		Logger:  logger,
		Metrics: telemetry.NewMetrics(prometheus.DefaultRegisterer),
		HTTP: source.HTTPOptions{
			RequestsPerSecond: cfg.HTTP.RateLimit,
			Burst:             cfg.HTTP.Burst,
		},
		RangeChunkSize: cfg.RangeChunkSize,
		EnableXFA:      cfg.EnableXFA,
	}
	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			port.Close()
			return err
		}
		defer st.Close()
		opts.Revisions = st
		logger.Info("recording revisions", "path", st.Path())
	}

	srv := worker.NewServer(port, opts)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok sessions=%d\n", srv.Sessions())
	})
	mux.Handle("/metrics", promhttp.Handler())
	httpSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if cfg.Metrics.Addr != "" {
		go func() {
			logger.Info("listening", "addr", cfg.Metrics.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	if err := srv.Start(ctx); err != nil {
		srv.Close(ctx)
		return fmt.Errorf("failed to announce worker: %w", err)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-srv.Done():
		logger.Info("host went away")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if cfg.Metrics.Addr != "" {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
	}
	if err := srv.Close(shutdownCtx); err != nil && !errors.Is(err, rpc.ErrClosed) {
		return err
	}
	logger.Info("docworker stopped")
	return nil
}
