/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for the rebelz client.
//
// Spans follow the OTel HTTP semantic conventions where applicable:
//   - http.request.method
//   - url.path: the route template, never the expanded path
//   - http.response.status_code
//
// Custom span attributes use the `rebelz.` prefix.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/KobaKhit/rebelzapp-sub001"
)

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// SetLogger routes the SDK's internal diagnostics (export failures and the
// like) to l.
func SetLogger(l logr.Logger) {
	otel.SetLogger(l)
}

// InitTraceProvider installs a batching OTLP gRPC provider and the W3C trace
// context propagator. An empty endpoint leaves the noop provider in place.
// endpoint is either host:port (plaintext) or a URL whose scheme picks TLS.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx, exporterOptions(endpoint)...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("rebelz-cli"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(time.Second)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

func exporterOptions(endpoint string) []otlptracegrpc.Option {
	if strings.Contains(endpoint, "://") {
		return []otlptracegrpc.Option{otlptracegrpc.WithEndpointURL(endpoint)}
	}
	return []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure()}
}

// Inject writes the span context of ctx into h (traceparent) so the backend
// can join the client's trace.
func Inject(ctx context.Context, h http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}

// StartRequestSpan creates a client span for one API request.
func StartRequestSpan(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, method+" "+route,
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", route),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndRequestSpan records the outcome and ends the span. status is 0 when no
// response was received.
func EndRequestSpan(span trace.Span, status int, requestID string, err error) {
	span.SetAttributes(attribute.String("rebelz.request_id", requestID))
	if status > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case status >= 500:
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
	}
	span.End()
}

// StartStreamSpan creates a span covering one connection of a live stream.
func StartStreamSpan(ctx context.Context, stream string, attempt int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "stream.connect",
		trace.WithAttributes(
			attribute.String("rebelz.stream", stream),
			attribute.Int("rebelz.attempt", attempt),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartCommandSpan creates the root span for one CLI command.
func StartCommandSpan(ctx context.Context, command string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "cli."+command,
		trace.WithAttributes(
			attribute.String("rebelz.command", command),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}
