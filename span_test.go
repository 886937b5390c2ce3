package spanlog

import (
	"context"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func TestRecordMergesFields(t *testing.T) {
	tracer, _ := newTestTracer(t)
	defer tracer.Close()

	_, span := tracer.StartSpan(context.Background(), "work", String("a", "1"))
	defer span.End()

	span.Record(String("b", "2"))
	span.Record(String("a", "overwritten"), Int64("c", 3))

	fields := span.span.fields.fields
	if len(fields) != 3 {
		t.Fatalf("Expected 3 fields, got %d", len(fields))
	}
	if fields["a"].str != "overwritten" {
		t.Errorf("Expected later record to overwrite, got %q", fields["a"].str)
	}
}

func TestRecordAfterEndIsNoOp(t *testing.T) {
	tracer, _ := newTestTracer(t)
	defer tracer.Close()

	_, span := tracer.StartSpan(context.Background(), "work")
	span.End()
	span.Record(String("late", "value"))

	if _, present := span.span.fields.fields["late"]; present {
		t.Error("Expected Record after End to be a no-op")
	}
}

func TestEndIdempotent(t *testing.T) {
	tracer, buf := newTestTracer(t)
	defer tracer.Close()

	_, span := tracer.StartSpan(context.Background(), "work")
	span.End()
	span.End()
	span.End()

	recs := decodeRecords(t, buf)
	if len(recs) != 1 {
		t.Errorf("Expected exactly one close record, got %d", len(recs))
	}
}

func TestReentrantBusyWindows(t *testing.T) {
	fakeClock := clockz.NewFakeClockAt(clockz.RealClock.Now())
	tracer, _ := newTestTracer(t, WithClock(fakeClock))
	defer tracer.Close()

	_, span := tracer.StartSpan(context.Background(), "work")
	defer span.End()

	fakeClock.Advance(10 * time.Millisecond)
	span.Exit()
	fakeClock.Advance(100 * time.Millisecond)

	span.Enter()
	fakeClock.Advance(20 * time.Millisecond)
	span.Exit()

	span.Enter()
	fakeClock.Advance(30 * time.Millisecond)
	span.Exit()

	if span.span.BusyTime != 60*time.Millisecond {
		t.Errorf("Expected 60ms accumulated busy time, got %v", span.span.BusyTime)
	}
}

func TestExitWithoutEnterPanics(t *testing.T) {
	tracer, _ := newTestTracer(t)
	defer tracer.Close()

	_, span := tracer.StartSpan(context.Background(), "work")
	defer span.End()
	span.Exit()

	defer func() {
		if recover() == nil {
			t.Error("Expected Exit without a matching Enter to panic")
		}
	}()
	span.Exit()
}

func TestBusyNeverExceedsElapsed(t *testing.T) {
	tracer, _ := newTestTracer(t)
	defer tracer.Close()

	_, span := tracer.StartSpan(context.Background(), "work")
	time.Sleep(time.Millisecond)
	span.Exit()
	span.Enter()
	time.Sleep(time.Millisecond)
	span.End()

	elapsed := time.Since(span.span.CreatedAt)
	if span.span.BusyTime > elapsed {
		t.Errorf("Busy time %v exceeds elapsed %v", span.span.BusyTime, elapsed)
	}
}

func TestActiveSpanContext(t *testing.T) {
	tracer, _ := newTestTracer(t)
	defer tracer.Close()

	_, span := tracer.StartSpan(context.Background(), "work")
	defer span.End()

	ctx := span.Context(context.Background())
	if GetSpan(ctx) != span.span {
		t.Error("Expected Context to embed the span")
	}
}

func TestGetSpanEmpty(t *testing.T) {
	if GetSpan(context.Background()) != nil {
		t.Error("Expected nil span for a bare context")
	}
	if GetSpan(nil) != nil {
		t.Error("Expected nil span for a nil context")
	}
}
