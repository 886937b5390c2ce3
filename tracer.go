package spanlog

import (
	"context"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// Tracer drives the span lifecycle: it assigns identifiers, links children
// to parents, tracks busy/idle time through ActiveSpan, and hands closed
// spans and events to its Emitter.
//
// Safe for concurrent use by multiple goroutines.
type Tracer struct {
	emitter    *Emitter
	gen        *Generator
	ids        *IDPool
	clock      clockz.Clock
	idPoolOnce sync.Once
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithEmitter sets the emitter for closed spans and events.
// The default emits to stdout.
func WithEmitter(e *Emitter) Option {
	return func(t *Tracer) {
		t.emitter = e
	}
}

// WithGenerator sets the identifier generator, e.g. one constructed with
// WithNode(RandomNode()) on hosts without a hardware address.
func WithGenerator(g *Generator) Option {
	return func(t *Tracer) {
		t.gen = g
	}
}

// WithClock sets the clock used for span timestamps and busy/idle
// accounting. Enables clock injection for deterministic testing.
func WithClock(clock clockz.Clock) Option {
	return func(t *Tracer) {
		t.clock = clock
	}
}

// New creates a tracer. It fails when no identifier generator was supplied
// and none can be constructed, so hosts get an explicit startup error
// instead of a crash deep inside request handling.
func New(opts ...Option) (*Tracer, error) {
	t := &Tracer{clock: clockz.RealClock}
	for _, opt := range opts {
		opt(t)
	}
	if t.emitter == nil {
		t.emitter = NewEmitter(os.Stdout)
	}
	if t.gen == nil {
		gen, err := NewGenerator(WithGeneratorClock(t.clock))
		if err != nil {
			return nil, err
		}
		t.gen = gen
	}
	return t, nil
}

// StartSpan creates a new span and returns it wrapped in an ActiveSpan.
//
// If the context contains an open span, the new span inherits its trace ID
// and records it as parent - an explicit trace_id field is ignored in that
// case. On a root span, an IDField("trace_id", ...) field seeds the trace ID
// (e.g. one decoded from an inbound header); otherwise a fresh trace ID is
// generated. The span ID is always freshly generated.
//
// The span's first busy window is open on return.
func (t *Tracer) StartSpan(ctx context.Context, name Key, fields ...Field) (context.Context, *ActiveSpan) {
	// Handle nil context by creating a new one.
	if ctx == nil {
		ctx = context.Background()
	}

	fs := newFieldSet()
	fs.record(fields)

	now := t.clock.Now()
	span := &Span{
		Name:      string(name),
		Level:     LevelTrace,
		SpanID:    t.generateID(),
		CreatedAt: now,
		enteredAt: now,
		fields:    fs,
		handle:    nextSpanHandle.Add(1),
	}
	span.Target, span.File, span.Line = callerInfo(2)

	if parent := GetSpan(ctx); parent != nil {
		// Inheritance wins over an explicitly recorded trace_id.
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	} else if !fs.traceID.IsZero() {
		span.TraceID = fs.traceID
	} else {
		span.TraceID = t.generateID()
	}

	spanTraceIDs.set(span.handle, span.TraceID)

	activeSpan := &ActiveSpan{span: span, tracer: t}
	bundle := &contextBundle{tracer: t, span: span}
	return context.WithValue(ctx, bundleKey, bundle), activeSpan
}

// closeSpan emits the close record and evicts the span from the trace table.
// Runs exactly once per span, from ActiveSpan.End.
func (t *Tracer) closeSpan(span *Span, idle time.Duration) {
	t.emitter.emitSpan(span, idle)
	spanTraceIDs.remove(span.handle)
}

// Event emits a point-in-time structured record at the given level. When ctx
// carries an open span, the record is stamped with that span's trace and
// span IDs for correlation.
func (t *Tracer) Event(ctx context.Context, level Level, fields ...Field) {
	t.event(ctx, level, 3, fields)
}

// Trace emits an event at TRACE level.
func (t *Tracer) Trace(ctx context.Context, fields ...Field) {
	t.event(ctx, LevelTrace, 3, fields)
}

// Debug emits an event at DEBUG level.
func (t *Tracer) Debug(ctx context.Context, fields ...Field) {
	t.event(ctx, LevelDebug, 3, fields)
}

// Info emits an event at INFO level.
func (t *Tracer) Info(ctx context.Context, fields ...Field) {
	t.event(ctx, LevelInfo, 3, fields)
}

// Warn emits an event at WARN level.
func (t *Tracer) Warn(ctx context.Context, fields ...Field) {
	t.event(ctx, LevelWarn, 3, fields)
}

// Error emits an event at ERROR level.
func (t *Tracer) Error(ctx context.Context, fields ...Field) {
	t.event(ctx, LevelError, 3, fields)
}

func (t *Tracer) event(ctx context.Context, level Level, skip int, fields []Field) {
	fs := newFieldSet()
	fs.record(fields)

	ev := &Event{Level: level, fields: fs}
	ev.Target, ev.File, ev.Line = callerInfo(skip)
	if span := GetSpan(ctx); span != nil {
		ev.TraceID = span.TraceID
		ev.SpanID = span.SpanID
	}
	t.emitter.emitEvent(ev)
}

// Event is a single point-in-time structured record. Constructed and emitted
// atomically, never mutated afterward.
type Event struct {
	Level   Level
	Target  string
	File    string
	Line    int
	TraceID ID // zero when emitted outside any span
	SpanID  ID
	fields  *fieldSet
}

// Close shuts down the tracer gracefully: the ID pool stops and the emitter
// drains buffered records to the sink.
func (t *Tracer) Close() {
	if t.ids != nil {
		t.ids.Close()
	}
	t.emitter.Close()
}

// generateID returns a fresh identifier from the pooled generator.
func (t *Tracer) generateID() ID {
	t.idPoolOnce.Do(func() {
		// Pool size based on number of CPUs for optimal contention balance.
		t.ids = NewIDPool(runtime.NumCPU()*100, t.gen.Next)
	})
	return t.ids.Get()
}

// callerInfo resolves the emitting call site: the enclosing function's
// package path plus source file and line.
func callerInfo(skip int) (target, file string, line int) {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "", "", 0
	}
	if fn := runtime.FuncForPC(pc); fn != nil {
		target = fn.Name()
		if i := strings.LastIndexByte(target, '.'); i >= 0 {
			target = target[:i]
		}
	}
	return target, file, line
}
