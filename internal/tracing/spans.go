package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrScriptPath    = "script.path"
	AttrScriptName    = "script.name"
	AttrScriptType    = "script.type"
	AttrScriptBackend = "script.backend"
	AttrRoot          = "script.root"
	AttrFileCount     = "script.file_count"
	AttrFailedCount   = "script.failed_count"
)

// Span names.
const (
	SpanLoadFile      = "engine.load_file"
	SpanLoadSource    = "engine.load_source"
	SpanLoadDirectory = "engine.load_directory"
	SpanReloadAll     = "engine.reload_all"
	SpanWatchSettle   = "watcher.settle"
)

// Event names for span events.
const (
	EventRegistered   = "script.registered"
	EventReplaced     = "script.replaced"
	EventSkipped      = "script.skipped"
	EventListingError = "directory.listing_error"
)

// Start opens an internal span on tracer.
func Start(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// End records err on span, sets its status and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
