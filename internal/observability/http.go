package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// RouteFunc names the route a request matched, for span and metric labels.
type RouteFunc func(r *http.Request) string

// HTTPMiddleware returns middleware that creates a server span per request,
// continues any incoming trace context and records request metrics.
func HTTPMiddleware(m *Metrics, route RouteFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := extractTraceContext(r)
			name := r.Method + " " + route(r)
			ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()

			start := time.Now()
			sw := &StatusWriter{ResponseWriter: w, Status: http.StatusOK}
			next.ServeHTTP(sw, r.WithContext(ctx))
			duration := time.Since(start).Seconds()

			code := strconv.Itoa(sw.Status)
			span.SetAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.Int("http.response.status_code", sw.Status),
				attribute.Int64("http.response.body.size", sw.Bytes),
			)
			if sw.Status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(sw.Status))
			}

			if m == nil {
				return
			}
			m.OperationDuration.WithLabelValues(name, code).Observe(duration)
			m.HTTPRequests.WithLabelValues(route(r), code).Inc()
		})
	}
}

func extractTraceContext(r *http.Request) context.Context {
	prop := otel.GetTextMapPropagator()
	if prop == nil {
		prop = propagation.TraceContext{}
	}
	return prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

// StatusWriter records the status code and body size written through it.
type StatusWriter struct {
	http.ResponseWriter
	Status      int
	Bytes       int64
	wroteHeader bool
}

func (w *StatusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.Status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *StatusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.Bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *StatusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
