package httptrace

import (
	"bytes"
	"io"
	"net/http"

	"github.com/spanlog/spanlog"
)

// Middleware wraps handlers in a root span per request. An X-Trace-Id header
// seeds the trace ID; a missing or undecodable header starts a fresh trace.
func Middleware(tracer *spanlog.Tracer, cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fields := []spanlog.Field{
				spanlog.String("uri", r.URL.String()),
				spanlog.String("method", r.Method),
			}
			if traceID, ok := spanlog.ParseID(r.Header.Get(TraceIDHeader)); ok {
				fields = append(fields, spanlog.IDField("trace_id", traceID))
			}

			ctx, span := tracer.StartSpan(r.Context(), "handle http request", fields...)
			defer span.End()

			reqBody := captureRequestBody(r, cfg.LogRequestBodySize)

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK, maxBody: cfg.LogResponseBodySize}
			next.ServeHTTP(rec, r.WithContext(ctx))
			span.Record(spanlog.Int64("status", int64(rec.status)))

			shouldLog := rec.status >= 500 || !cfg.OnlyOnError
			shouldLogHeaders := shouldLog || cfg.AlwaysLogHeaders

			if cfg.LogRequestHeaders && shouldLogHeaders {
				tracer.Trace(ctx, spanlog.String("req_headers", formatHeaders(r.Header)))
			}
			if reqBody != nil && shouldLog {
				tracer.Trace(ctx, spanlog.String("req_body", string(reqBody)))
			}
			if cfg.LogResponseHeaders && shouldLogHeaders {
				tracer.Trace(ctx, spanlog.String("resp_headers", formatHeaders(rec.Header())))
			}
			if cfg.LogResponseBodySize > 0 && shouldLog && !rec.truncated && isText(rec.Header()) {
				tracer.Trace(ctx, spanlog.String("resp_body", rec.body.String()))
			}
		})
	}
}

// captureRequestBody reads a text request body up to maxSize bytes and
// restores it for the handler. Oversized, non-text and unsized bodies are
// left untouched.
func captureRequestBody(r *http.Request, maxSize int64) []byte {
	if maxSize == 0 || r.Body == nil || !isText(r.Header) {
		return nil
	}
	length, ok := contentLength(r.Header)
	if !ok || length > maxSize {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSize))
	if err != nil {
		return nil
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body
}

// responseRecorder captures the status code and, when body capture is on,
// tees the response body up to maxBody bytes.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	maxBody     int64
	body        bytes.Buffer
	truncated   bool
	wroteHeader bool
}

func (r *responseRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.maxBody > 0 && !r.truncated {
		if int64(r.body.Len())+int64(len(p)) > r.maxBody {
			r.truncated = true
			r.body.Reset()
		} else {
			r.body.Write(p)
		}
	}
	return r.ResponseWriter.Write(p)
}
