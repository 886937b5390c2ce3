// Package spanlog is a lightweight distributed-tracing and structured-logging
// engine.
//
// spanlog instruments nested units of work ("spans"), threads a
// causally-consistent 128-bit trace identifier through parent/child spans and
// across process boundaries, measures busy versus idle time per span, and
// emits each span close and each event as a single structured JSON line
// without blocking the caller.
//
// Core Components:.
//   - Tracer: drives the span lifecycle and emits events.
//   - ActiveSpan: thread-safe handle for an open span.
//   - Generator: supplies fresh, practically-unique 128-bit identifiers.
//   - Emitter: renders records to JSON and writes them asynchronously.
//
// Basic Usage:.
//
//	tracer, err := spanlog.New()
//	if err != nil {
//		// no node identity available for ID generation; supply one with
//		// spanlog.WithGenerator.
//	}
//	defer tracer.Close()
//
//	ctx, span := tracer.StartSpan(ctx, "operation-name")
//	defer span.End()
//
//	// Attach typed fields.
//	span.Record(spanlog.String("user", "123"))
//
//	// Bracket suspension points so waiting counts as idle time.
//	span.Exit()
//	<-done
//	span.Enter()
//
//	// Emit a correlated event.
//	tracer.Info(ctx, spanlog.String("message", "done"))
//
// Context Propagation:.
//
// Spans are linked via context.Context. Child spans inherit their parent's
// trace ID and reference the parent's span ID. Across processes the trace ID
// travels in the X-Trace-Id header; see the httptrace subpackage.
//
// Thread Safety:.
//
// Tracer is safe for concurrent use by multiple goroutines. ActiveSpan
// operations are safe for concurrent use. A single span's Enter/Exit busy
// windows belong to its owning goroutine.
package spanlog

// Key represents a span operation name.
type Key = string

// Level is the severity attached to spans and events.
type Level string

// Levels, most to least verbose.
const (
	LevelTrace Level = "TRACE"
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)
