package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// --- Shutdown Coordinator ---

func TestShutdownCoordinatorLIFO(t *testing.T) {
	var order []int
	sc := &ShutdownCoordinator{}

	for i := 1; i <= 3; i++ {
		sc.Register(fmt.Sprintf("h%d", i), func(ctx context.Context) error {
			order = append(order, i)
			return nil
		})
	}

	if err := sc.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Fatalf("expected LIFO [3,2,1], got %v", order)
	}

	// Handlers run once.
	if err := sc.Shutdown(context.Background()); err != nil || len(order) != 3 {
		t.Fatalf("second shutdown ran handlers again: %v, %v", order, err)
	}
}

func TestShutdownCoordinatorError(t *testing.T) {
	var ran []string
	sc := &ShutdownCoordinator{}
	sc.Register("first", func(ctx context.Context) error {
		ran = append(ran, "first")
		return nil
	})
	sc.Register("bad", func(ctx context.Context) error {
		ran = append(ran, "bad")
		return errors.New("fail")
	})

	err := sc.Shutdown(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("error should mention 'bad': %v", err)
	}
	if len(ran) != 2 {
		t.Fatalf("expected all handlers to run, got %v", ran)
	}
}

// --- Metrics ---

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	m.BackendWrite("bucket", nil)
	m.BackendWrite("bucket", errors.New("down"))
	m.Fallback("bucket", "chunked-store")
	m.Bytes("in", 50)

	if got := testutil.ToFloat64(m.BackendWrites.WithLabelValues("bucket", "error")); got != 1 {
		t.Errorf("backend errors = %f, want 1", got)
	}
	if got := testutil.ToFloat64(m.Fallbacks.WithLabelValues("bucket", "chunked-store")); got != 1 {
		t.Errorf("fallbacks = %f, want 1", got)
	}
	if got := testutil.ToFloat64(m.BytesProcessed.WithLabelValues("in")); got != 50 {
		t.Errorf("bytes in = %f, want 50", got)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if !strings.HasPrefix(f.GetName(), "drop_") {
			t.Errorf("metric %q lacks drop_ prefix", f.GetName())
		}
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.BackendWrite("local", nil)
	m.Fallback("blob-cdn", "local")
	m.Bytes("out", 10)
}

// --- Logging ---

func TestSetupLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := SetupLogger(LogConfig{Level: "info", Format: "json"}, &buf)

	logger.Info("hello", "key", "val")

	var entry map[string]any
	if err := json.NewDecoder(&buf).Decode(&entry); err != nil {
		t.Fatalf("output not valid JSON: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "hello" {
		t.Fatalf("expected msg=hello, got %v", entry["msg"])
	}
}

func TestSetupLoggerAutoNonTTY(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := SetupLogger(LogConfig{Level: "info", Format: "auto"}, &buf)
	logger.Info("piped")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("auto format on a non-terminal should be JSON: %s", buf.String())
	}
}

func TestSetupLoggerText(t *testing.T) {
	var buf bytes.Buffer
	SetupLogger(LogConfig{Level: "info", Format: "text"}, &buf)

	slog.Info("testmsg")

	out := buf.String()
	if !strings.Contains(out, "testmsg") {
		t.Fatalf("expected 'testmsg' in output: %s", out)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &m); err == nil {
		t.Fatal("expected non-JSON output for text format")
	}
}

func TestSetupLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drop.log")
	logger, closer := SetupLogger(LogConfig{Level: "info", File: path, MaxSizeMB: 1}, io.Discard)
	logger.Info("to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"to file"`) {
		t.Fatalf("log file content = %s", data)
	}
}

func TestSetupLoggerLevels(t *testing.T) {
	tests := []struct {
		level      string
		logAt      slog.Level
		shouldShow bool
	}{
		{"debug", slog.LevelDebug, true},
		{"info", slog.LevelDebug, false},
		{"info", slog.LevelInfo, true},
		{"warn", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, true},
		{"error", slog.LevelWarn, false},
		{"error", slog.LevelError, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.level, tt.logAt), func(t *testing.T) {
			var buf bytes.Buffer
			logger, _ := SetupLogger(LogConfig{Level: tt.level, Format: "json"}, &buf)

			logger.Log(context.Background(), tt.logAt, "test")

			if got := buf.Len() > 0; got != tt.shouldShow {
				t.Fatalf("level=%s logAt=%s: expected visible=%v got %v", tt.level, tt.logAt, tt.shouldShow, got)
			}
		})
	}
}

// --- PrettyHandler ---

func TestPrettyHandlerEnabled(t *testing.T) {
	h := NewPrettyHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn})
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info should be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("error should be enabled at warn level")
	}

	if NewPrettyHandler(io.Discard, nil).Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("nil opts should default to info")
	}
}

func TestPrettyHandlerOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.With("id", "aB3dE9").WithGroup("req").Warn("hello world", "foo", "bar")

	out := buf.String()
	for _, want := range []string{"hello world", "WRN", "id=aB3dE9", "req.foo=bar"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output: %s", want, out)
		}
	}
}

func TestTraceHandlerHandleWithTraceContext(t *testing.T) {
	var buf bytes.Buffer
	h := &TraceHandler{Handler: slog.NewJSONHandler(&buf, nil)}

	traceID, _ := trace.TraceIDFromHex("00000000000000000000000000000001")
	spanID, _ := trace.SpanIDFromHex("0000000000000001")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	slog.New(h).InfoContext(ctx, "traced message")

	out := buf.String()
	if !strings.Contains(out, "trace_id") || !strings.Contains(out, "span_id") {
		t.Fatalf("expected trace ids in output: %s", out)
	}
}

// --- Operation ---

type kindErr struct{}

func (kindErr) Error() string { return "not found" }
func (kindErr) Kind() string  { return "not_found" }

func TestStartOperationEnd(t *testing.T) {
	m := NewMetrics()

	op, _ := StartOperation(context.Background(), m, "objectstore.store")
	op.End(nil)

	if got := testutil.ToFloat64(m.OperationTotal.WithLabelValues("objectstore.store", "ok")); got != 1 {
		t.Fatalf("expected 1 ok operation, got %f", got)
	}
}

func TestStartOperationEndError(t *testing.T) {
	m := NewMetrics()

	op, _ := StartOperation(context.Background(), m, "objectstore.resolve")
	op.End(fmt.Errorf("resolve: %w", kindErr{}))

	if got := testutil.ToFloat64(m.OperationTotal.WithLabelValues("objectstore.resolve", "error")); got != 1 {
		t.Fatalf("expected 1 error operation, got %f", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("objectstore.resolve", "not_found")); got != 1 {
		t.Fatalf("expected error classified as not_found, got %f", got)
	}
}

func TestStartOperationNilMetrics(t *testing.T) {
	op, _ := StartOperation(context.Background(), nil, "objectstore.delete")
	op.End(errors.New("boom"))
}

func TestErrorType(t *testing.T) {
	if got := ErrorType(errors.New("x")); got != "internal" {
		t.Errorf("ErrorType(plain) = %q", got)
	}
}

// --- HTTP middleware ---

func TestHTTPMiddleware(t *testing.T) {
	m := NewMetrics()
	h := HTTPMiddleware(m, func(*http.Request) string { return "/{id}" })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/abc", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/{id}", "404")); got != 1 {
		t.Fatalf("http requests{404} = %f, want 1", got)
	}
}

func TestStatusWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &StatusWriter{ResponseWriter: rec, Status: http.StatusOK}
	_, _ = sw.Write([]byte("hello"))
	sw.WriteHeader(http.StatusTeapot)

	if sw.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200 once body was written", sw.Status)
	}
	if sw.Bytes != 5 {
		t.Errorf("Bytes = %d, want 5", sw.Bytes)
	}
	if sw.Unwrap() != rec {
		t.Error("Unwrap did not return the underlying writer")
	}
}

// --- Observability ---

func testConfig() ObsConfig {
	return ObsConfig{
		Log:            LogConfig{Level: "error", Format: "json"},
		ServiceName:    "test",
		ServiceVersion: "0.0.1",
	}
}

func TestNewObservabilityNoOTLP(t *testing.T) {
	obs, err := New(context.Background(), testConfig(), io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.Logger == nil || obs.Metrics == nil {
		t.Fatal("logger or metrics is nil")
	}
	switch obs.TracerProvider.(type) {
	case *tracenoop.TracerProvider, tracenoop.TracerProvider:
	default:
		t.Fatalf("expected noop tracer provider, got %T", obs.TracerProvider)
	}
}

func TestObservabilityClose(t *testing.T) {
	obs, err := New(context.Background(), testConfig(), io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var called bool
	obs.Shutdown.Register("test-close", func(ctx context.Context) error {
		called = true
		return nil
	})
	if err := obs.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected shutdown handler to be called")
	}
}

func TestNewObservabilityWithOTLP(t *testing.T) {
	for _, proto := range []string{"http", "grpc"} {
		t.Run(proto, func(t *testing.T) {
			cfg := testConfig()
			cfg.OTLPEndpoint = "localhost:4318"
			cfg.OTLPProtocol = proto
			obs, err := New(context.Background(), cfg, io.Discard)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if obs.sdkTP == nil {
				t.Fatal("expected non-nil sdkTP when OTLP enabled")
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = obs.Close(ctx)
		})
	}
}

func TestServeMetricsEndpoints(t *testing.T) {
	obs, err := New(context.Background(), testConfig(), io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	srv := obs.ServeMetrics(context.Background(), addr)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	var resp *http.Response
	for range 50 {
		resp, err = http.Get("http://" + addr + "/health")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Fatalf("health = %d %q", resp.StatusCode, body)
	}

	resp2, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp2.StatusCode)
	}
}

func TestNewResource(t *testing.T) {
	res, err := newResource(TracerConfig{
		ServiceName:    "drop",
		ServiceVersion: "1.2.3",
		Environment:    "staging",
		PublicURL:      "https://drop.example",
	})
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	want := map[string]string{
		"service.name":                "drop",
		"service.version":             "1.2.3",
		"deployment.environment.name": "staging",
		"drop.public_url":             "https://drop.example",
	}
	for key, v := range want {
		got, ok := res.Set().Value(attribute.Key(key))
		if !ok || got.AsString() != v {
			t.Errorf("%s = %q (present %v), want %q", key, got.AsString(), ok, v)
		}
	}
	if host, err := os.Hostname(); err == nil {
		if got, _ := res.Set().Value("service.instance.id"); got.AsString() != host {
			t.Errorf("service.instance.id = %q, want %q", got.AsString(), host)
		}
	}

	res, err = newResource(TracerConfig{ServiceName: "drop"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Set().Value("drop.public_url"); ok {
		t.Error("public url attribute set without a public url")
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		desc := newSampler(tt.ratio).Description()
		if !strings.HasPrefix(desc, "ParentBased{") || !strings.Contains(desc, tt.want) {
			t.Errorf("newSampler(%v) = %s, want parent-based %s", tt.ratio, desc, tt.want)
		}
	}
}

func TestInitTracerOptions(t *testing.T) {
	for _, proto := range []string{"http", "grpc"} {
		t.Run(proto, func(t *testing.T) {
			_, sdkTP, err := InitTracer(context.Background(), TracerConfig{
				Endpoint:    "localhost:4318",
				Protocol:    proto,
				Headers:     map[string]string{"x-api-key": "secret"},
				SampleRatio: 0.5,
				ServiceName: "drop",
			})
			if err != nil {
				t.Fatalf("InitTracer: %v", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = sdkTP.Shutdown(ctx)
		})
	}
}
