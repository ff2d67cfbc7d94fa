// Package telemetry bridges the auction engine's minimal Tracer interface
// to OpenTelemetry, grounded directly on the teacher's
// `backend/auction/internal/bidders/otel_tracer.go`: same OTLP-HTTP
// exporter, same env-var surface (OTEL_EXPORTER_OTLP_ENDPOINT,
// OTEL_SERVICE_NAME, OTEL_RESOURCE_ATTRIBUTES), same install-returns-bool
// shape. Narrowed from that file's richer Span interface (End/SetAttr/
// SetAttributes, trace-id/span-id exposure) down to auction.Tracer's single
// StartSpan(name) func(err) shape, since nothing downstream of the auction
// engine consumes span attributes or IDs.
package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Tracer bridges an oteltrace.Tracer to auction.Engine's local Tracer
// interface (StartSpan(name) func(err)), satisfied structurally.
type Tracer struct {
	tr oteltrace.Tracer
}

// StartSpan begins a span named name and returns a closer that ends it,
// recording err (if non-nil) as the span's status.
func (t *Tracer) StartSpan(name string) func(err error) {
	_, span := t.tr.Start(context.Background(), name)
	return func(err error) {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}
}

// Install builds a Tracer from OTEL_EXPORTER_OTLP_ENDPOINT if set, returning
// (nil, false) when tracing is not configured — callers pass a nil Tracer
// straight into auction.New, which already treats nil as "disabled".
func Install(endpoint, serviceName, resourceAttrs string) (*Tracer, bool) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, false
	}

	exp, err := otlptracehttp.New(context.Background(), otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, false
	}

	if serviceName == "" {
		serviceName = "auctionhouse"
	}
	attrs := []attribute.KeyValue{attribute.String("service.name", serviceName)}
	for _, part := range strings.Split(resourceAttrs, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) == 2 && kv[0] != "" {
			attrs = append(attrs, attribute.String(kv[0], kv[1]))
		}
	}

	res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes("", attrs...))
	tp := trace.NewTracerProvider(trace.WithBatcher(exp), trace.WithResource(res))
	otel.SetTracerProvider(tp)

	return &Tracer{tr: otel.Tracer(serviceName)}, true
}
