package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"pocket-ledger/pkg/api"
	promcollector "pocket-ledger/pkg/metrics/prometheus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ledger and the box registry over HTTP",
		Long: `Start the HTTP API. Metrics are exposed at /metrics; SIGINT or SIGTERM
drain in-flight requests before the store is closed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.API.Addr = addr
			}
			return a.serve(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides api.addr)")
	return cmd
}

func (a *app) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := promcollector.NewPrometheusCollector("ledger")
	if err := collector.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	s, err := a.open(ctx, collector)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			a.logger.Warn("close store", zap.Error(err))
		}
	}()

	sc := api.DefaultServerConfig()
	sc.Address = a.cfg.API.Addr
	sc.ReadTimeout = a.cfg.API.ReadTimeout
	sc.WriteTimeout = a.cfg.API.WriteTimeout
	sc.Registerer = reg
	sc.Gatherer = reg
	sc.Logger = a.logger.Named("api")

	server, err := api.NewServer(s.ledger, s.boxes, sc)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down", zap.Duration("timeout", a.cfg.API.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.API.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
