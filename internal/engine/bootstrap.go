package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tributary/internal/pipeline"
	"tributary/internal/telemetry"
	"tributary/internal/transport"
)

type Config struct {
	GRPCAddr    string // health and control services
	MetricsAddr string // empty disables /metrics
	PipelineYml string
}

func Bootstrap(ctx context.Context, cfg Config, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	// 1. transport server
	srv, err := transport.StartServer(cfg.GRPCAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	// 2. metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	// 3. pipeline runner
	runner, err := pipeline.Compile(ctx, cfg.PipelineYml, pipeline.Options{
		Logger:        log,
		Metrics:       metrics,
		OnStateChange: srv.ObserveState,
	})
	if err != nil {
		srv.Stop()
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	srv.RegisterControl(runner)

	e := &Engine{transport: srv, runner: runner, log: log}
	if cfg.MetricsAddr != "" {
		addr, err := telemetry.Expose(ctx, cfg.MetricsAddr, reg)
		if err != nil {
			srv.Stop()
			_ = runner.Close()
			return nil, fmt.Errorf("metrics: %w", err)
		}
		log.Info("serving metrics", "addr", addr.String())
	}
	log.Info("serving health", "addr", srv.Addr().String())
	return e, nil
}
