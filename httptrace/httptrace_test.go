package httptrace

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spanlog/spanlog"
)

func newTestTracer(t *testing.T) (*spanlog.Tracer, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	emitter := spanlog.NewEmitter(&buf)
	emitter.SetSyncMode(true)
	gen, err := spanlog.NewGenerator(spanlog.WithNode(spanlog.RandomNode()))
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}
	tracer, err := spanlog.New(spanlog.WithEmitter(emitter), spanlog.WithGenerator(gen))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return tracer, &buf
}

func decodeRecords(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var recs []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var rec map[string]interface{}
		if err := json.Unmarshal(line, &rec); err != nil {
			t.Fatalf("Invalid JSON line %q: %v", line, err)
		}
		recs = append(recs, rec)
	}
	return recs
}

func findSpan(recs []map[string]interface{}, name string) map[string]interface{} {
	for _, rec := range recs {
		if rec["type"] == "span" && rec["name"] == name {
			return rec
		}
	}
	return nil
}

// TestCrossProcessPropagation drives the full scenario: service A opens a
// root span, its client stamps X-Trace-Id on the outbound request, service
// B's middleware seeds its root span from the header, and both sides emit
// span records carrying the identical trace ID text.
func TestCrossProcessPropagation(t *testing.T) {
	tracerB, bufB := newTestTracer(t)
	defer tracerB.Close()

	var seenHeader string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenHeader = r.Header.Get(TraceIDHeader)
		w.Write([]byte("ok"))
	})
	serverB := httptest.NewServer(Middleware(tracerB, TraceOnly())(handler))
	defer serverB.Close()

	tracerA, bufA := newTestTracer(t)
	defer tracerA.Close()

	ctx, span := tracerA.StartSpan(context.Background(), "job")
	client := NewClient(tracerA, TraceOnly())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverB.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	span.End()
	serverB.Close() // waits for in-flight handlers, so bufB is complete

	wantTraceID := span.TraceID().String()
	if seenHeader != wantTraceID {
		t.Errorf("Expected header %q at service B, got %q", wantTraceID, seenHeader)
	}

	recsA := decodeRecords(t, bufA)
	recsB := decodeRecords(t, bufB)

	jobRec := findSpan(recsA, "job")
	clientRec := findSpan(recsA, "send http request")
	serverRec := findSpan(recsB, "handle http request")
	if jobRec == nil || clientRec == nil || serverRec == nil {
		t.Fatalf("Missing span records: A=%v B=%v", recsA, recsB)
	}

	if clientRec["trace_id"] != jobRec["trace_id"] {
		t.Error("Expected the client span to join the job's trace")
	}
	if clientRec["parent_id"] != jobRec["span_id"] {
		t.Error("Expected the client span to be a child of the job span")
	}
	if serverRec["trace_id"] != jobRec["trace_id"] {
		t.Errorf("Expected service B to join trace %v, got %v", jobRec["trace_id"], serverRec["trace_id"])
	}
	if serverRec["fields"].(map[string]interface{})["status"] != float64(200) {
		t.Errorf("Expected recorded status 200, got %v", serverRec["fields"])
	}
}

func TestMiddlewareFreshTraceWithoutHeader(t *testing.T) {
	tracer, buf := newTestTracer(t)
	defer tracer.Close()

	server := httptest.NewServer(Middleware(tracer, TraceOnly())(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	server.Close()

	rec := findSpan(decodeRecords(t, buf), "handle http request")
	if rec == nil {
		t.Fatal("Missing span record")
	}
	traceText, _ := rec["trace_id"].(string)
	if _, ok := spanlog.ParseID(traceText); !ok {
		t.Errorf("Expected a freshly generated trace ID, got %q", traceText)
	}
	if rec["fields"].(map[string]interface{})["status"] != float64(204) {
		t.Errorf("Expected recorded status 204, got %v", rec["fields"])
	}
}

func TestMiddlewareMalformedHeader(t *testing.T) {
	tracer, buf := newTestTracer(t)
	defer tracer.Close()

	server := httptest.NewServer(Middleware(tracer, TraceOnly())(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })))
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	req.Header.Set(TraceIDHeader, "NOT-AN-ID!")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	server.Close()

	rec := findSpan(decodeRecords(t, buf), "handle http request")
	if rec == nil {
		t.Fatal("Missing span record")
	}
	traceText, _ := rec["trace_id"].(string)
	if _, ok := spanlog.ParseID(traceText); !ok {
		t.Errorf("Expected a fresh trace for a malformed header, got %q", traceText)
	}
}

func TestMiddlewareBodyCapture(t *testing.T) {
	tracer, buf := newTestTracer(t)
	defer tracer.Close()

	server := httptest.NewServer(Middleware(tracer, LogAll(1024))(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"in":1}` {
				t.Errorf("Handler saw restored body %q", body)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"out":2}`))
		})))
	defer server.Close()

	resp, err := http.Post(server.URL, "application/json", strings.NewReader(`{"in":1}`))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	server.Close()

	recs := decodeRecords(t, buf)
	var gotReqBody, gotRespBody, gotReqHeaders bool
	for _, rec := range recs {
		if rec["type"] != "event" {
			continue
		}
		fields := rec["fields"].(map[string]interface{})
		if fields["req_body"] == `{"in":1}` {
			gotReqBody = true
		}
		if fields["resp_body"] == `{"out":2}` {
			gotRespBody = true
		}
		if s, ok := fields["req_headers"].(string); ok && strings.Contains(s, "Content-Type: application/json") {
			gotReqHeaders = true
		}
	}
	if !gotReqBody {
		t.Error("Expected a req_body capture event")
	}
	if !gotRespBody {
		t.Error("Expected a resp_body capture event")
	}
	if !gotReqHeaders {
		t.Error("Expected a req_headers capture event")
	}
}

func TestMiddlewareOversizedBodySkipped(t *testing.T) {
	tracer, buf := newTestTracer(t)
	defer tracer.Close()

	server := httptest.NewServer(Middleware(tracer, LogBody(4))(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })))
	defer server.Close()

	resp, err := http.Post(server.URL, "text/plain", strings.NewReader("well over the limit"))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	server.Close()

	for _, rec := range decodeRecords(t, buf) {
		if rec["type"] != "event" {
			continue
		}
		if _, present := rec["fields"].(map[string]interface{})["req_body"]; present {
			t.Error("Expected oversized body capture to be skipped")
		}
	}
}

func TestMiddlewareOnlyOnError(t *testing.T) {
	tracer, buf := newTestTracer(t)
	defer tracer.Close()

	cfg := LogHeaders()
	cfg.OnlyOnError = true

	serve := func(status int) {
		server := httptest.NewServer(Middleware(tracer, cfg)(http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(status) })))
		resp, err := http.Get(server.URL)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()
		server.Close()
	}

	serve(http.StatusOK)
	for _, rec := range decodeRecords(t, buf) {
		if rec["type"] == "event" {
			t.Errorf("Expected no capture events for a 200 response, got %v", rec)
		}
	}
	buf.Reset()

	serve(http.StatusInternalServerError)
	var captured bool
	for _, rec := range decodeRecords(t, buf) {
		if rec["type"] == "event" {
			captured = true
		}
	}
	if !captured {
		t.Error("Expected capture events for a 500 response")
	}
}

func TestTransportWithoutActiveSpan(t *testing.T) {
	tracer, buf := newTestTracer(t)
	defer tracer.Close()

	var seenHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenHeader = r.Header.Get(TraceIDHeader)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := NewClient(tracer, TraceOnly())
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()

	// The client span itself is root, so its own fresh trace ID travels.
	rec := findSpan(decodeRecords(t, buf), "send http request")
	if rec == nil {
		t.Fatal("Missing client span record")
	}
	if seenHeader != rec["trace_id"] {
		t.Errorf("Expected header %v, got %q", rec["trace_id"], seenHeader)
	}
	if _, present := rec["parent_id"]; present {
		t.Error("Expected the client span to be root")
	}
}
