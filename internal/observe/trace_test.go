package observe

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// withSpan runs fn inside a span recorded by an in-memory exporter and
// returns the exported spans.
func withSpan(t *testing.T, name string, fn func(ctx context.Context)) tracetest.SpanStubs {
	t.Helper()

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), name)
	fn(ctx)
	span.End()
	return exp.GetSpans()
}

func TestCorrelationID(t *testing.T) {
	t.Run("no active span", func(t *testing.T) {
		if got := CorrelationID(context.Background()); got != "" {
			t.Errorf("CorrelationID=%q outside a span, want empty", got)
		}
	})

	t.Run("active span yields hex trace id", func(t *testing.T) {
		withSpan(t, "session", func(ctx context.Context) {
			cid := CorrelationID(ctx)
			if len(cid) != 32 {
				t.Fatalf("CorrelationID length=%d, want 32", len(cid))
			}
			if strings.Trim(cid, "0123456789abcdef") != "" {
				t.Errorf("CorrelationID=%q, want lowercase hex", cid)
			}
		})
	})
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	ctx, span := StartSpan(context.Background(), "widget.voice_interact")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan did not put an active span in the context")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "widget.voice_interact" {
		t.Fatalf("exported spans=%+v, want one named widget.voice_interact", spans)
	}
	if Tracer() == nil {
		t.Error("Tracer() returned nil")
	}
}

func TestLogger(t *testing.T) {
	capture := func(t *testing.T) *strings.Builder {
		t.Helper()
		var buf strings.Builder
		orig := slog.Default()
		slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
		t.Cleanup(func() { slog.SetDefault(orig) })
		return &buf
	}

	t.Run("inside span carries ids", func(t *testing.T) {
		buf := capture(t)
		withSpan(t, "session", func(ctx context.Context) {
			Logger(ctx).Info("clip shipped")
		})
		logged := buf.String()
		if !strings.Contains(logged, "trace_id=") || !strings.Contains(logged, "span_id=") {
			t.Errorf("log line missing trace ids: %s", logged)
		}
	})

	t.Run("outside span stays bare", func(t *testing.T) {
		buf := capture(t)
		Logger(context.Background()).Info("startup")
		if logged := buf.String(); strings.Contains(logged, "trace_id") {
			t.Errorf("log line has a trace id without a span: %s", logged)
		}
	})
}
