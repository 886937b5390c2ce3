package httptrace

import (
	"bytes"
	"io"
	"net/http"

	"github.com/spanlog/spanlog"
)

// Transport is an http.RoundTripper that spans each outbound request and
// stamps the active trace ID onto the X-Trace-Id header, so the receiving
// service joins the same trace.
//
// The network wait is bracketed with Exit/Enter, so it accrues as the span's
// idle time rather than busy time.
type Transport struct {
	// Base performs the request; http.DefaultTransport when nil.
	Base http.RoundTripper

	Tracer *spanlog.Tracer
	Config Config
}

// NewClient returns an *http.Client using a traced transport.
func NewClient(tracer *spanlog.Tracer, cfg Config) *http.Client {
	return &http.Client{Transport: &Transport{Tracer: tracer, Config: cfg}}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := t.Tracer.StartSpan(req.Context(), "send http request",
		spanlog.String("uri", req.URL.String()),
		spanlog.String("method", req.Method),
	)
	defer span.End()

	req = req.Clone(ctx)
	if traceID, ok := spanlog.CurrentTraceID(ctx); ok {
		req.Header.Set(TraceIDHeader, traceID.String())
	}

	reqHeaders := ""
	if t.Config.LogRequestHeaders {
		reqHeaders = formatHeaders(req.Header)
	}
	reqBody := captureOutboundBody(req, t.Config.LogRequestBodySize)

	span.Exit()
	resp, err := t.base().RoundTrip(req)
	span.Enter()
	if err != nil {
		t.Tracer.Error(ctx, spanlog.Any("error", err))
		return nil, err
	}
	span.Record(spanlog.Int64("status", int64(resp.StatusCode)))

	shouldLog := (resp.StatusCode >= 400 && resp.StatusCode < 500) || !t.Config.OnlyOnError
	shouldLogHeaders := shouldLog || t.Config.AlwaysLogHeaders

	if t.Config.LogRequestHeaders && shouldLogHeaders {
		t.Tracer.Trace(ctx, spanlog.String("req_headers", reqHeaders))
	}
	if reqBody != nil && shouldLog {
		t.Tracer.Trace(ctx, spanlog.String("req_body", string(reqBody)))
	}
	if t.Config.LogResponseHeaders && shouldLogHeaders {
		t.Tracer.Trace(ctx, spanlog.String("resp_headers", formatHeaders(resp.Header)))
	}
	if t.Config.LogResponseBodySize > 0 && shouldLog {
		if body := captureResponseBody(resp, t.Config.LogResponseBodySize); body != nil {
			t.Tracer.Trace(ctx, spanlog.String("resp_body", string(body)))
		}
	}

	return resp, nil
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// captureOutboundBody reads a sized text request body up to maxSize bytes
// and restores it for the transport.
func captureOutboundBody(req *http.Request, maxSize int64) []byte {
	if maxSize == 0 || req.Body == nil || !isText(req.Header) {
		return nil
	}
	if req.ContentLength < 0 || req.ContentLength > maxSize {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, maxSize))
	if err != nil {
		return nil
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	return body
}

// captureResponseBody reads a sized text response body up to maxSize bytes
// and restores it for the caller.
func captureResponseBody(resp *http.Response, maxSize int64) []byte {
	if resp.Body == nil || !isText(resp.Header) {
		return nil
	}
	if resp.ContentLength < 0 || resp.ContentLength > maxSize {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSize))
	if err != nil {
		return nil
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return body
}
