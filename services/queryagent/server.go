// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package queryagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/guard"
	"github.com/AleutianAI/AleutianQuery/services/queryagent/routes"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const serviceName = "queryagent"

// InitTracer configures the OTLP trace exporter and registers the
// global tracer provider. The returned function flushes and shuts the
// provider down.
//
// When OTEL_EXPORTER_OTLP_ENDPOINT is unset tracing stays on the no-op
// provider and the returned function does nothing.
func InitTracer(ctx context.Context) (func(), error) {
	endpoint := getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if endpoint == "" {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set. Tracing disabled.")
		return func() {}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP trace exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down tracer provider", "error", err)
		}
	}, nil
}

// Run starts the HTTP server plus the background workers (policy hot
// reload when a policy file is configured, session janitor) and blocks
// until ctx is cancelled or the server fails.
func Run(ctx context.Context, svc *Service) error {
	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))
	routes.SetupRoutes(router, svc)

	server := &http.Server{
		Addr:    ":" + svc.config.Port,
		Handler: router,
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		slog.Info("Query agent listening", "port", svc.config.Port, "variant", svc.config.Variant)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if svc.config.PolicyPath != "" {
		watcher, err := guard.NewPolicyWatcher(svc.guard, svc.config.PolicyPath)
		if err != nil {
			slog.Warn("policy hot reload unavailable", "path", svc.config.PolicyPath, "error", err)
		} else {
			group.Go(func() error {
				if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("policy watcher: %w", err)
				}
				return nil
			})
		}
	}

	group.Go(func() error {
		svc.sessions.RunJanitor(ctx, svc.config.JanitorInterval, svc.config.SessionTTL)
		return nil
	})

	return group.Wait()
}
