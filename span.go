package spanlog

import (
	"context"
	"sync"
	"time"
)

// bundleKeyType is a private type for context keys to avoid collisions.
type bundleKeyType string

const (
	bundleKey bundleKeyType = "spanlog"
)

// Span holds the state of one tracked unit of nested work. Parent/child
// linkage is by identifier value, never by reference to the live parent.
type Span struct {
	Name      string
	Level     Level
	Target    string
	File      string
	Line      int
	TraceID   ID
	SpanID    ID
	ParentID  ID // zero for root spans
	CreatedAt time.Time
	BusyTime  time.Duration

	enteredAt time.Time // nonzero while a busy window is open
	fields    *fieldSet
	handle    uint64
}

// ActiveSpan wraps a Span with thread-safe recording and lifecycle
// management. Safe for concurrent use by multiple goroutines.
type ActiveSpan struct {
	span   *Span
	tracer *Tracer
	mu     sync.Mutex
	ended  bool
}

// Record merges fields into the span, overwriting on key collision.
// No-op if the span is already ended.
func (a *ActiveSpan) Record(fields ...Field) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ended {
		return
	}
	a.span.fields.record(fields)
}

// Enter opens a busy-time accounting window. StartSpan opens the first
// window; call Enter after resuming from a suspension point closed with
// Exit. Windows are re-entrant across the span's lifetime, each Enter/Exit
// pair contributes one busy interval.
func (a *ActiveSpan) Enter() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ended {
		return
	}
	a.span.enteredAt = a.tracer.clock.Now()
}

// Exit closes the current busy window and accumulates its duration. Call it
// before suspending (waiting on I/O, channels, locks) so the wait counts as
// idle time.
//
// Exit without an open window is an integration bug and panics.
func (a *ActiveSpan) Exit() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ended {
		return
	}
	if a.span.enteredAt.IsZero() {
		panic("spanlog: Exit called without a matching Enter")
	}
	a.span.BusyTime += a.tracer.clock.Now().Sub(a.span.enteredAt)
	a.span.enteredAt = time.Time{}
}

// End closes the span: any open busy window is folded in, idle time is
// computed, the close record is emitted, and the span is evicted from the
// trace table. Safe to call multiple times - subsequent calls are no-ops.
// Defer it at span creation so cleanup runs even when the owning goroutine
// is cancelled.
func (a *ActiveSpan) End() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ended {
		return
	}
	a.ended = true

	now := a.tracer.clock.Now()
	if !a.span.enteredAt.IsZero() {
		a.span.BusyTime += now.Sub(a.span.enteredAt)
		a.span.enteredAt = time.Time{}
	}
	idle := now.Sub(a.span.CreatedAt) - a.span.BusyTime
	a.tracer.closeSpan(a.span, idle)
}

// TraceID returns the trace ID of this span.
func (a *ActiveSpan) TraceID() ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.TraceID
}

// SpanID returns the span ID of this span.
func (a *ActiveSpan) SpanID() ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.SpanID
}

// contextBundle holds both tracer and span to reduce context allocations.
type contextBundle struct {
	tracer *Tracer
	span   *Span
}

// Context creates a new context with this span embedded.
// The returned context can be used to start child spans.
func (a *ActiveSpan) Context(parent context.Context) context.Context {
	bundle := &contextBundle{tracer: a.tracer, span: a.span}
	return context.WithValue(parent, bundleKey, bundle)
}

// GetSpan extracts the current span from a context.
// Returns nil if no span is present.
func GetSpan(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}

	if bundle, ok := ctx.Value(bundleKey).(*contextBundle); ok {
		return bundle.span
	}

	return nil
}
