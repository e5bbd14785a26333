// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package edge is the composition root of the FieldOps edge service.
//
// The edge service sits between the field-operations UI and the backend
// API. It serves resource actions from either the local store or the
// remote API, proxies raw API calls, aggregates the dashboard and stores
// task images.
//
// # Usage
//
//	cfg, err := config.Load(path, os.Getenv)
//	svc, err := edge.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//	return svc.Run(ctx)
//
// Every collaborator is built here and passed down. Nothing below this
// package reads configuration or holds global state.
package edge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/FieldOps/services/edge/bridge"
	"github.com/AleutianAI/FieldOps/services/edge/client"
	"github.com/AleutianAI/FieldOps/services/edge/config"
	"github.com/AleutianAI/FieldOps/services/edge/dashboard"
	"github.com/AleutianAI/FieldOps/services/edge/middleware"
	"github.com/AleutianAI/FieldOps/services/edge/mode"
	"github.com/AleutianAI/FieldOps/services/edge/observability"
	"github.com/AleutianAI/FieldOps/services/edge/proxy"
	"github.com/AleutianAI/FieldOps/services/edge/resources"
	"github.com/AleutianAI/FieldOps/services/edge/routes"
	"github.com/AleutianAI/FieldOps/services/edge/store"
	"github.com/AleutianAI/FieldOps/services/edge/uploads"
	"github.com/AleutianAI/FieldOps/services/edge/viewcache"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the edge service lifecycle.
//
// # Thread Safety
//
// Run is called at most once. Close may be called more than once.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the listener fails.
	// Cancellation triggers a graceful shutdown.
	Run(ctx context.Context) error

	// Router exposes the gin engine for tests.
	Router() *gin.Engine

	// Close releases the store, caches, object store and tracer.
	Close() error
}

// Option customizes New.
type Option func(*options)

type options struct {
	objects  uploads.ObjectStore
	registry *prometheus.Registry
}

// WithObjectStore replaces the GCS object store.
func WithObjectStore(s uploads.ObjectStore) Option {
	return func(o *options) { o.objects = s }
}

// WithRegistry sets the Prometheus registry. Default: a fresh registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(o *options) { o.registry = r }
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	cfg     config.EdgeConfig
	logger  *slog.Logger
	router  *gin.Engine
	closers []func() error
}

// New builds every collaborator described by cfg.
//
// # Description
//
// Build order: tracer, metrics, local store (local mode only), view
// cache, outbound client, bridge, resource modules, dashboard, uploads,
// router. A failure part-way closes what was already opened.
//
// # Inputs
//
//   - ctx: Bounds startup I/O (Redis ping, GCS client).
//   - cfg: Validated configuration.
//   - logger: Base logger. Nil uses slog.Default.
func New(ctx context.Context, cfg config.EdgeConfig, logger *slog.Logger, opts ...Option) (Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &service{cfg: cfg, logger: logger}
	if err := s.build(ctx, o); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *service) build(ctx context.Context, o options) error {
	cfg := s.cfg
	sel := mode.New(cfg.Mode.External)

	if cfg.Telemetry.OTLPEndpoint != "" {
		cleanup, err := initTracer(ctx, cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.closers = append(s.closers, cleanup)
	}

	var (
		metrics        *observability.Metrics
		metricsHandler http.Handler
	)
	if cfg.Telemetry.MetricsEnabled {
		reg := o.registry
		if reg == nil {
			reg = prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
		}
		metrics = observability.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	var st *store.Store
	if !sel.IsExternalMode() {
		var err error
		st, err = store.Open(store.Config{
			Path:           cfg.Store.Path,
			InMemory:       cfg.Store.InMemory,
			SyncWrites:     true,
			Logger:         s.logger.With("component", "badger"),
			GCInterval:     cfg.Store.GCInterval,
			GCDiscardRatio: 0.5,
		})
		if err != nil {
			return fmt.Errorf("failed to open local store: %w", err)
		}
		s.closers = append(s.closers, st.Close)
		s.logger.Info("local store opened", "path", cfg.Store.Path, "in_memory", cfg.Store.InMemory)
	}

	cache, err := s.openCache(ctx)
	if err != nil {
		return err
	}

	clientOpts := []client.Option{
		client.WithTimeout(cfg.Backend.Timeout),
		client.WithMetrics(metrics),
		client.WithLogger(s.logger),
	}
	if cfg.Backend.APIToken != "" {
		clientOpts = append(clientOpts, client.WithTokenSource(
			oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Backend.APIToken, TokenType: "Bearer"})))
	}
	remote := client.New(cfg.Backend.BaseURL, clientOpts...)

	br := bridge.New(bridge.Config{
		BaseURL:    cfg.Backend.BaseURL,
		CookieName: cfg.Backend.SessionCookie,
		Timeout:    cfg.Backend.BridgeTimeout,
		Metrics:    metrics,
		Logger:     s.logger,
	})

	set := resources.NewSet(resources.Deps{
		Mode:    sel,
		Store:   st,
		Client:  remote,
		Cache:   viewcache.NewLoader(cache, metrics),
		Metrics: metrics,
		Logger:  s.logger,
	})

	up, err := s.openUploads(ctx, o.objects)
	if err != nil {
		return err
	}

	if cfg.Server.GinMode != "" {
		gin.SetMode(cfg.Server.GinMode)
	}
	s.router = gin.New()
	s.router.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.Telemetry.ServiceName),
		middleware.RequestID(s.logger),
	)
	routes.SetupRoutes(s.router, routes.Deps{
		Mode:          sel,
		SessionCookie: cfg.Backend.SessionCookie,
		ServiceToken:  cfg.Backend.APIToken != "",
		Resources:     set,
		Dashboard:     dashboard.NewService(br, s.logger),
		Uploads:       up,
		Proxy: proxy.Handler(proxy.Config{
			BaseURL: cfg.Backend.BaseURL,
			Timeout: cfg.Backend.ProxyTimeout,
			Metrics: metrics,
			Logger:  s.logger,
		}),
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
	})

	s.logger.Info("edge service initialized",
		"mode", sel.String(),
		"backend", cfg.Backend.BaseURL,
		"cache", cfg.Cache.Backend,
		"uploads", up != nil,
		"service_token", cfg.Backend.APIToken != "")
	return nil
}

// openCache returns nil for the "none" backend.
func (s *service) openCache(ctx context.Context) (viewcache.Cache, error) {
	c := s.cfg.Cache
	switch c.Backend {
	case "redis":
		r, err := viewcache.NewRedis(ctx, viewcache.RedisConfig{
			Address:  c.Redis.Address,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Prefix:   c.Redis.Prefix,
			TTL:      c.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect view cache: %w", err)
		}
		s.closers = append(s.closers, r.Close)
		return r, nil
	case "none":
		return nil, nil
	default:
		return viewcache.NewMemory(c.TTL), nil
	}
}

// openUploads returns nil when no bucket and no override are configured.
func (s *service) openUploads(ctx context.Context, objects uploads.ObjectStore) (*uploads.Service, error) {
	u := s.cfg.Uploads
	if objects == nil {
		if u.Bucket == "" {
			s.logger.Info("image uploads disabled: no bucket configured")
			return nil, nil
		}
		gcs, err := uploads.NewGCSStore(ctx, uploads.GCSConfig{
			Bucket:          u.Bucket,
			ProjectID:       u.ProjectID,
			CredentialsFile: u.CredentialsFile,
			PublicBaseURL:   u.PublicBaseURL,
		}, s.logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, gcs.Close)
		objects = gcs
	}
	return uploads.NewService(objects, u.MaxBytes), nil
}

// Run serves until ctx is done, then shuts down within 10s.
func (s *service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting edge server", "port", s.cfg.Server.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down edge server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// Close runs the closers in reverse order of acquisition.
func (s *service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// =============================================================================
// Tracing
// =============================================================================

func initTracer(ctx context.Context, tc config.TelemetryConfig) (func() error, error) {
	conn, err := grpc.NewClient(tc.OTLPEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(tc.ServiceName)))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter))

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
		return conn.Close()
	}, nil
}

var _ Service = (*service)(nil)
