// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/CampaignAdvisor/pkg/logging"
	"github.com/AleutianAI/CampaignAdvisor/services/advisor/config"
	"github.com/AleutianAI/CampaignAdvisor/services/advisor/handlers"
	"github.com/AleutianAI/CampaignAdvisor/services/advisor/pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the advisor HTTP service",
	Long: `Starts the HTTP service: POST /v1/campaigns/:id/recommendation runs the
pipeline synchronously, /healthz reports liveness, /metrics exposes
Prometheus metrics. Gate thresholds hot-reload when the config file
changes.`,
	RunE: runServe,
}

// initTracer wires the OTLP trace exporter. Skipped entirely when no
// collector endpoint is configured.
func initTracer(ctx context.Context, log *logging.Logger) (func(context.Context), error) {
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		log.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing disabled")
		return func(context.Context) {}, nil
	}

	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("campaign-advisor")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			log.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := buildLogger(cfg.Log, false)
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cleanup, err := initTracer(ctx, log)
	if err != nil {
		return fmt.Errorf("setup OTLP tracer: %w", err)
	}
	defer cleanup(context.Background())

	eng, err := buildEngine(cfg.Engine)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	cache, closeCache, err := buildCache(cfg.Cache, log)
	if err != nil {
		return err
	}
	defer closeCache()

	pipe, err := buildPipeline(cfg, eng, cache, log)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	// Hot reload: gate threshold changes apply to subsequent runs
	// without a restart. Only the gate section is applied live.
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, func(next config.Config) {
			gate := pipeline.GateConfig{
				MaxIterations:       next.Gate.MaxIterations,
				ConfidenceThreshold: next.Gate.ConfidenceThreshold,
			}
			if err := pipe.SetGateConfig(gate); err != nil {
				log.Warn("reloaded gate config rejected", "error", err)
			}
		}, log)
		if err != nil {
			return fmt.Errorf("create config watcher: %w", err)
		}
		defer watcher.Stop()
		go watcher.Start(ctx)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("campaign-advisor"))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.NewHandlers(pipe, eng.Name(), log).RegisterRoutes(router)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("advisor service listening",
			"addr", cfg.Server.Addr,
			"engine", eng.Name(),
			"model", eng.Model(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down", "grace", cfg.Server.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
