// Package tracing provides OpenTelemetry tracing for HTTP handlers.
//
// Middleware extracts the incoming trace context with the global
// propagator, starts a server span per request, records method, path and
// status code as span attributes, and returns the trace ID in the
// X-Trace-Id response header. GetTracer returns the package tracer for
// creating spans elsewhere. The package does not set up a tracer provider
// or an exporter; spans go to whatever global provider is installed.
//
// Example usage:
//
//	import "newsrun/internal/observability/tracing"
//
//	handler := tracing.Middleware(mux)
//
//	func processRequest(ctx context.Context) {
//	    ctx, span := tracing.GetTracer().Start(ctx, "process-request")
//	    defer span.End()
//	    // ... process request ...
//	}
package tracing
