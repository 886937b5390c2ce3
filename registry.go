package spanlog

import (
	"context"
	"sync"
	"sync/atomic"
)

// spanTraceIDs is the process-wide span-handle → trace-ID table. It bridges
// call sites that hold only a context (e.g. an outbound HTTP client
// middleware) to the trace ID of the innermost open span, without reaching
// into span storage.
//
// One entry per currently-open span: inserted at span creation, removed at
// close, including close via cancellation. Critical sections are O(1) map
// operations only.
var spanTraceIDs = newTraceTable()

// nextSpanHandle issues process-unique span handles.
var nextSpanHandle atomic.Uint64

type traceTable struct {
	mu  sync.Mutex
	ids map[uint64]ID
}

func newTraceTable() *traceTable {
	return &traceTable{ids: make(map[uint64]ID)}
}

func (t *traceTable) set(handle uint64, traceID ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids[handle] = traceID
}

func (t *traceTable) remove(handle uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ids, handle)
}

func (t *traceTable) get(handle uint64) (ID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	traceID, ok := t.ids[handle]
	return traceID, ok
}

func (t *traceTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}

// CurrentTraceID resolves the trace ID of the innermost open span in ctx.
// It reports false when ctx carries no span or the span has already closed.
func CurrentTraceID(ctx context.Context) (ID, bool) {
	span := GetSpan(ctx)
	if span == nil {
		return ID{}, false
	}
	return spanTraceIDs.get(span.handle)
}
