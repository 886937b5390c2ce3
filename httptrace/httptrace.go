// Package httptrace carries spanlog trace context across HTTP process
// boundaries.
//
// Middleware opens a root span per inbound request, seeding its trace ID
// from the X-Trace-Id header when one arrives. Transport is an
// http.RoundTripper that spans each outbound request and stamps the header
// from the active trace. Both can additionally capture request/response
// headers and bodies as TRACE events, bounded by size and content type.
package httptrace

import (
	"net/http"
	"strconv"
	"strings"
)

// TraceIDHeader is the propagation header carrying the encoded trace ID.
const TraceIDHeader = "X-Trace-Id"

// Config controls what each traced request captures beyond the span itself.
// The zero value traces only.
type Config struct {
	// LogRequestHeaders captures request headers as a TRACE event.
	LogRequestHeaders bool
	// LogResponseHeaders captures response headers as a TRACE event.
	LogResponseHeaders bool
	// LogRequestBodySize captures text request bodies up to this many
	// bytes; 0 disables body capture.
	LogRequestBodySize int64
	// LogResponseBodySize captures text response bodies up to this many
	// bytes; 0 disables body capture.
	LogResponseBodySize int64
	// OnlyOnError suppresses capture for successful responses.
	OnlyOnError bool
	// AlwaysLogHeaders keeps header capture on even with OnlyOnError.
	AlwaysLogHeaders bool
}

// TraceOnly returns a Config that opens spans without any capture.
func TraceOnly() Config {
	return Config{}
}

// LogHeaders returns a Config capturing request and response headers.
func LogHeaders() Config {
	return Config{LogRequestHeaders: true, LogResponseHeaders: true}
}

// LogBody returns a Config capturing request and response bodies up to
// maxSize bytes.
func LogBody(maxSize int64) Config {
	return Config{LogRequestBodySize: maxSize, LogResponseBodySize: maxSize}
}

// LogAll returns a Config capturing headers and bodies.
func LogAll(bodyMaxSize int64) Config {
	return Config{
		LogRequestHeaders:   true,
		LogResponseHeaders:  true,
		LogRequestBodySize:  bodyMaxSize,
		LogResponseBodySize: bodyMaxSize,
	}
}

func formatHeaders(headers http.Header) string {
	var buf strings.Builder
	for k, values := range headers {
		for _, v := range values {
			buf.WriteString(k)
			buf.WriteString(": ")
			buf.WriteString(v)
			buf.WriteString("\n")
		}
	}
	return buf.String()
}

// isText reports whether the content type is one worth capturing verbatim.
func isText(headers http.Header) bool {
	ct := headers.Get("Content-Type")
	return strings.Contains(ct, "application/json") ||
		strings.Contains(ct, "text/plain") ||
		strings.Contains(ct, "application/x-www-form-urlencoded")
}

func contentLength(headers http.Header) (int64, bool) {
	v := headers.Get("Content-Length")
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
