package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes stay bounded: operation names, status values, and
// component names only. Dataset IDs, file names, and URLs are unbounded and
// belong in logs, never in metric-contributing attributes.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span and records its outcome.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", duration.Seconds()),
	)

	return err
}

// InstrumentCatalogOperation instruments one catalog client call.
func (t *Telemetry) InstrumentCatalogOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "catalog_"+operation, "catalog", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordCatalogOperation(operation, status)

	return err
}

// InstrumentDownload instruments one file download and keeps the active
// download gauge in step.
func (t *Telemetry) InstrumentDownload(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	t.IncrementActiveDownloads()
	defer t.DecrementActiveDownloads()

	return t.InstrumentOperation(ctx, "download_file", "downloader", fn)
}

// InstrumentSyncPass instruments one full synchronization pass over a
// dataset.
func (t *Telemetry) InstrumentSyncPass(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "sync_pass", "downloader", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordSyncPass(status)

	return err
}

// InstrumentToolCall instruments one MCP tool invocation.
func (t *Telemetry) InstrumentToolCall(ctx context.Context, tool string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "tool_"+tool, "mcp", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordToolCall(tool, status)

	return err
}
