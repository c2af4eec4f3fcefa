// Copyright 2025 Casey Haldane
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry bootstraps span export and the Prometheus metrics
// endpoint for a stepflow process. Both are optional: with a zero Options
// the engine's tracer stays a no-op and no listener is opened.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	internallog "github.com/haldane/stepflow/internal/log"
)

const serviceName = "stepflow"

// Options configures telemetry for one process.
type Options struct {
	// ServiceVersion is stamped on every exported span.
	ServiceVersion string

	// TracesEnabled turns on span export.
	TracesEnabled bool

	// TraceWriter receives exported spans. Defaults to os.Stdout.
	TraceWriter io.Writer

	// MetricsAddr serves the Prometheus /metrics endpoint when non-empty.
	MetricsAddr string

	// Logger receives lifecycle messages. Defaults to a logger built
	// from the environment.
	Logger *slog.Logger
}

// Provider owns the tracer provider and the metrics listener.
type Provider struct {
	logger *slog.Logger

	tp *sdktrace.TracerProvider

	server *http.Server
	ln     net.Listener
}

// New installs the global tracer provider when traces are enabled and
// starts the metrics endpoint when an address is configured. Callers must
// Shutdown the returned provider to flush pending spans.
func New(opts Options) (*Provider, error) {
	logger := opts.Logger
	if logger == nil {
		logger = internallog.WithComponent(internallog.New(internallog.FromEnv()), "telemetry")
	}

	p := &Provider{logger: logger}

	if opts.TracesEnabled {
		tp, err := newTracerProvider(opts)
		if err != nil {
			return nil, err
		}
		// Instrumented code reaches the provider through otel.Tracer,
		// so it has to be installed globally.
		otel.SetTracerProvider(tp)
		p.tp = tp
		logger.Info("trace export enabled",
			slog.String("exporter", "stdout"))
	}

	if opts.MetricsAddr != "" {
		if err := p.startMetrics(opts.MetricsAddr); err != nil {
			if p.tp != nil {
				_ = p.tp.Shutdown(context.Background())
			}
			return nil, err
		}
	}

	return p, nil
}

// newTracerProvider builds a provider that batches spans to the stdout
// exporter, tagged with the service name and version.
func newTracerProvider(opts Options) (*sdktrace.TracerProvider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"", // empty schema URL to avoid merge conflicts with the default resource
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	writer := opts.TraceWriter
	if writer == nil {
		writer = os.Stdout
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(writer))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

// startMetrics binds the listener synchronously so configuration errors
// surface at startup, then serves in the background.
func (p *Provider) startMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	p.ln = ln

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	p.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := p.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			p.logger.Error("metrics server failed", internallog.Error(err))
		}
	}()

	p.logger.Info("metrics endpoint listening",
		slog.String("listen_addr", ln.Addr().String()))
	return nil
}

// MetricsAddr returns the bound metrics address, or empty when the
// endpoint is not running. With a ":0" configuration this reports the
// actual port.
func (p *Provider) MetricsAddr() string {
	if p.ln == nil {
		return ""
	}
	return p.ln.Addr().String()
}

// ForceFlush exports all pending spans synchronously.
func (p *Provider) ForceFlush(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.ForceFlush(ctx)
}

// Shutdown stops the metrics endpoint and flushes pending spans. It
// respects the context deadline for both.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.server != nil {
		p.server.SetKeepAlivesEnabled(false)
		if err := p.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		p.logger.Info("metrics endpoint stopped")
	}
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			return fmt.Errorf("tracer provider shutdown: %w", err)
		}
	}
	return nil
}
