package engine

import (
	"context"
	"log/slog"
	"net"

	"tributary/internal/pipeline"
	"tributary/internal/transport"
)

type Engine struct {
	transport *transport.Server
	runner    *pipeline.Runner
	log       *slog.Logger
}

// HealthAddr is where the gRPC health service listens.
func (e *Engine) HealthAddr() net.Addr { return e.transport.Addr() }

// Runner exposes the pipeline, e.g. to pause it.
func (e *Engine) Runner() *pipeline.Runner { return e.runner }

// Run blocks until the reader exits: nil after ctx is cancelled, the reader's
// error when it fails.
func (e *Engine) Run(ctx context.Context) error {
	go func() {
		if err := e.transport.Serve(); err != nil {
			e.log.Warn("health server stopped", "error", err)
		}
	}()
	defer e.transport.Stop()

	return e.runner.Run(ctx)
}
