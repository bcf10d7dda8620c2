package observability

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/locationtracker/agent/observability"

// HTTPMetrics instruments the control API. A nil *HTTPMetrics records nothing.
type HTTPMetrics struct {
	requests  metric.Int64Counter
	latency   metric.Float64Histogram
	inFlight  metric.Int64UpDownCounter
	streaming metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the control API instruments
func NewHTTPMetrics() (*HTTPMetrics, error) {
	meter := otel.Meter(instrumentationName)
	m := &HTTPMetrics{}
	var err error

	if m.requests, err = meter.Int64Counter("tracker.http.requests",
		metric.WithDescription("Control API requests by route and status"),
		metric.WithUnit("{requests}")); err != nil {
		return nil, err
	}
	if m.latency, err = meter.Float64Histogram("tracker.http.latency",
		metric.WithDescription("Control API latency, excluding observer streams"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.inFlight, err = meter.Int64UpDownCounter("tracker.http.in_flight",
		metric.WithDescription("Control API requests being served"),
		metric.WithUnit("{requests}")); err != nil {
		return nil, err
	}
	if m.streaming, err = meter.Int64UpDownCounter("tracker.observers.connected",
		metric.WithDescription("Open WebSocket observer streams"),
		metric.WithUnit("{connections}")); err != nil {
		return nil, err
	}
	return m, nil
}

// statusRecorder captures the response status and keeps the optional
// interfaces chi and the websocket upgrader rely on
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	// A hijacked connection never writes a status; 101 is what the client saw
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// routePattern returns the matched chi pattern, falling back to the raw path
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// Instrument traces and measures every control API request. Spans are named by
// route once chi has matched it. WebSocket observer streams are counted while
// open and kept out of the latency histogram. metrics may be nil.
func Instrument(metrics *HTTPMetrics) func(http.Handler) http.Handler {
	tracer := otel.Tracer(instrumentationName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			propagator := otel.GetTextMapPropagator()
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.target", r.URL.Path),
					attribute.String("net.peer.ip", r.RemoteAddr),
				),
			)
			defer span.End()
			propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			stream := isUpgrade(r)
			if metrics != nil {
				gauge := metrics.inFlight
				if stream {
					gauge = metrics.streaming
				}
				gauge.Add(ctx, 1)
				defer gauge.Add(ctx, -1)
			}

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r.WithContext(ctx))

			route := routePattern(r)
			status := rec.code()
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.status_code", status),
			)
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}

			if metrics == nil {
				return
			}
			attrs := metric.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.Int("http.status_code", status),
			)
			metrics.requests.Add(ctx, 1, attrs)
			if !stream {
				metrics.latency.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
			}
		})
	}
}
