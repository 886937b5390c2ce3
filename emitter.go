package spanlog

import (
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Emitter renders span-close and event records into fixed-schema JSON lines
// and writes them to a sink without blocking the caller: lines pass through
// a buffered channel drained by a background goroutine, and are dropped
// (counted) when the buffer is full.
//
// Safe for concurrent use by multiple goroutines.
type Emitter struct {
	log zerolog.Logger
	w   *asyncWriter
}

// defaultBufferSize is the line buffer between record rendering and the sink.
const defaultBufferSize = 1024

// EmitterOption configures an Emitter.
type EmitterOption func(*asyncWriter)

// WithBufferSize sets the number of rendered lines buffered before writes to
// the sink start dropping.
func WithBufferSize(n int) EmitterOption {
	return func(w *asyncWriter) {
		w.lines = make(chan []byte, n)
	}
}

// NewEmitter creates an emitter writing JSON lines to sink.
func NewEmitter(sink io.Writer, opts ...EmitterOption) *Emitter {
	w := newAsyncWriter(sink, opts...)
	return &Emitter{log: zerolog.New(w), w: w}
}

// SetSyncMode makes the emitter write records to the sink synchronously.
// This makes tests deterministic by eliminating async behavior.
func (e *Emitter) SetSyncMode(sync bool) {
	e.w.syncMode = sync
}

// DroppedCount returns the total number of records dropped because the line
// buffer was full or the emitter was closed.
func (e *Emitter) DroppedCount() int64 {
	return e.w.dropped.Load()
}

// Close drains buffered records to the sink and stops the writer goroutine.
func (e *Emitter) Close() {
	e.w.close()
}

// emitSpan renders a span-close record.
func (e *Emitter) emitSpan(s *Span, idle time.Duration) {
	defer e.recoverRender("span", s.Name)

	ev := e.log.Log().
		Str("type", "span").
		Str("name", s.Name).
		Str("level", string(s.Level)).
		Str("target", s.Target)
	ev = location(ev, s.File, s.Line)
	ev = ev.Dict("fields", s.fields.dict()).
		Str("trace_id", s.TraceID.String()).
		Str("span_id", s.SpanID.String())
	if !s.ParentID.IsZero() {
		ev = ev.Str("parent_id", s.ParentID.String())
	}
	ev.Str("busy_time", s.BusyTime.String()).
		Str("idle_time", idle.String()).
		Send()
}

// emitEvent renders an event record.
func (e *Emitter) emitEvent(event *Event) {
	defer e.recoverRender("event", string(event.Level))

	ev := e.log.Log().
		Str("type", "event").
		Str("level", string(event.Level)).
		Str("target", event.Target)
	ev = location(ev, event.File, event.Line)
	ev = ev.Dict("fields", event.fields.dict())
	if !event.TraceID.IsZero() {
		ev = ev.
			Str("trace_id", event.TraceID.String()).
			Str("span_id", event.SpanID.String())
	}
	ev.Send()
}

// recoverRender keeps a failed render from taking the process down: a
// one-line diagnostic naming the record replaces the structured record.
func (e *Emitter) recoverRender(recordType, name string) {
	if r := recover(); r != nil {
		fmt.Fprintf(e.w, "failed to serialize %s record, error: %v, name: %s\n", recordType, r, name)
	}
}

func location(ev *zerolog.Event, file string, line int) *zerolog.Event {
	if file == "" {
		return ev.Interface("file", nil).Interface("line", nil)
	}
	return ev.Str("file", file).Int("line", line)
}

// dict renders the field set ordered by key, matching each value's tag.
func (fs *fieldSet) dict() *zerolog.Event {
	d := zerolog.Dict()
	for _, k := range fs.sortedKeys() {
		f := fs.fields[k]
		switch f.kind {
		case kindFloat64:
			d.Float64(k, math.Float64frombits(f.num))
		case kindInt64:
			d.Int64(k, int64(f.num))
		case kindUint64:
			d.Uint64(k, f.num)
		case kindID:
			d.Str(k, f.id.String())
		case kindBool:
			d.Bool(k, f.num != 0)
		case kindString:
			d.Str(k, f.str)
		}
	}
	return d
}

// asyncWriter decouples record rendering from sink I/O. Lines are queued on
// a channel and written by a single goroutine; a full queue drops the line
// rather than block the caller.
type asyncWriter struct {
	sink     io.Writer
	lines    chan []byte
	stopCh   chan struct{}
	done     chan struct{}
	dropped  atomic.Int64
	mu       sync.Mutex
	closed   atomic.Bool
	syncMode bool // Bypass channel for synchronous writes.
}

func newAsyncWriter(sink io.Writer, opts ...EmitterOption) *asyncWriter {
	w := &asyncWriter{
		sink:   sink,
		lines:  make(chan []byte, defaultBufferSize),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.start()
	return w
}

// Write queues one rendered line. It never blocks and never returns an
// error; sink failures surface only through the drop counter.
func (w *asyncWriter) Write(p []byte) (int, error) {
	if w.closed.Load() {
		w.dropped.Add(1)
		return len(p), nil
	}

	if w.syncMode {
		w.writeLine(p)
		return len(p), nil
	}

	// The caller reuses p after Write returns.
	line := make([]byte, len(p))
	copy(line, p)

	select {
	case w.lines <- line:
	default:
		// Queue full - drop the record to avoid blocking.
		w.dropped.Add(1)
	}
	return len(p), nil
}

// start runs the writer's main loop, draining queued lines to the sink.
func (w *asyncWriter) start() {
	defer close(w.done)

	for {
		select {
		case <-w.stopCh:
			// Drain remaining lines before shutdown.
			for {
				select {
				case line := <-w.lines:
					w.writeLine(line)
				default:
					return // Clean shutdown.
				}
			}
		case line := <-w.lines:
			w.writeLine(line)
		}
	}
}

func (w *asyncWriter) writeLine(line []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.sink.Write(line); err != nil {
		w.dropped.Add(1)
	}
}

// close shuts down the writer gracefully.
func (w *asyncWriter) close() {
	if w.closed.Swap(true) {
		return
	}
	close(w.stopCh)
	select {
	case <-w.done:
		// Clean shutdown completed.
	case <-time.After(100 * time.Millisecond):
		// Timeout - records may remain queued.
	}
}
