package observability

import (
	"context"
	"math"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/locationtracker/agent/internal/models"
)

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSyncSpan starts the root span of one replication session
func StartSyncSpan(ctx context.Context, d models.Direction) (context.Context, trace.Span) {
	return tracer().Start(ctx, "sync."+d.String(),
		trace.WithNewRoot(),
		trace.WithAttributes(attribute.String("sync.direction", d.String())),
	)
}

// StartStoreSpan starts a span around a local store operation
func StartStoreSpan(ctx context.Context, system, operation string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "store."+strings.ToLower(operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", system),
			attribute.String("db.operation", operation),
		),
	)
}

// StartPlaceLookupSpan starts a span around a nearby-place search. The position
// is rounded to the precision of the lookup cache.
func StartPlaceLookupSpan(ctx context.Context, pos models.GeoPoint) (context.Context, trace.Span) {
	return tracer().Start(ctx, "places.nearby",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Float64("geo.lat", math.Round(pos.Latitude*1e4)/1e4),
			attribute.Float64("geo.lon", math.Round(pos.Longitude*1e4)/1e4),
		),
	)
}

// ChangesFetched notes a pulled page on the session span in ctx
func ChangesFetched(ctx context.Context, count int, cursor string) {
	trace.SpanFromContext(ctx).AddEvent("changes.fetched", trace.WithAttributes(
		attribute.Int("sync.changes", count),
		attribute.String("sync.cursor", cursor),
	))
}

// Finish sets the span status from err and ends it
func Finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// SyncMetrics holds replication metrics. A nil *SyncMetrics records nothing.
type SyncMetrics struct {
	sessions        metric.Int64Counter
	recordsApplied  metric.Int64Counter
	recordsSkipped  metric.Int64Counter
	recordsRejected metric.Int64Counter
	coalesced       metric.Int64Counter
	sessionDuration metric.Float64Histogram
}

// NewSyncMetrics creates replication metrics instruments
func NewSyncMetrics() (*SyncMetrics, error) {
	meter := otel.Meter(instrumentationName)

	sessions, err := meter.Int64Counter(
		"tracker.sync.sessions",
		metric.WithDescription("Total number of completed sync sessions"),
		metric.WithUnit("{sessions}"),
	)
	if err != nil {
		return nil, err
	}

	recordsApplied, err := meter.Int64Counter(
		"tracker.sync.records.applied",
		metric.WithDescription("Records pulled into or pushed from the local store"),
		metric.WithUnit("{records}"),
	)
	if err != nil {
		return nil, err
	}

	recordsSkipped, err := meter.Int64Counter(
		"tracker.sync.records.skipped",
		metric.WithDescription("Pulled documents that failed to decode"),
		metric.WithUnit("{records}"),
	)
	if err != nil {
		return nil, err
	}

	recordsRejected, err := meter.Int64Counter(
		"tracker.sync.records.rejected",
		metric.WithDescription("Pushed documents rejected by the remote"),
		metric.WithUnit("{records}"),
	)
	if err != nil {
		return nil, err
	}

	coalesced, err := meter.Int64Counter(
		"tracker.sync.requests.coalesced",
		metric.WithDescription("Sync requests folded into a pending follow-up session"),
		metric.WithUnit("{requests}"),
	)
	if err != nil {
		return nil, err
	}

	sessionDuration, err := meter.Float64Histogram(
		"tracker.sync.session.duration",
		metric.WithDescription("Sync session duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		sessions:        sessions,
		recordsApplied:  recordsApplied,
		recordsSkipped:  recordsSkipped,
		recordsRejected: recordsRejected,
		coalesced:       coalesced,
		sessionDuration: sessionDuration,
	}, nil
}

// RecordSession records the outcome of one session
func (m *SyncMetrics) RecordSession(ctx context.Context, result models.SessionResult) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("direction", result.Direction.String()),
		attribute.Bool("success", result.Success),
	)
	m.sessions.Add(ctx, 1, attrs)
	m.sessionDuration.Record(ctx, float64(result.Duration().Milliseconds()), attrs)
	if result.ChangesProcessed > 0 {
		m.recordsApplied.Add(ctx, int64(result.ChangesProcessed), attrs)
	}
	if result.Skipped > 0 {
		m.recordsSkipped.Add(ctx, int64(result.Skipped), attrs)
	}
	if result.Rejected > 0 {
		m.recordsRejected.Add(ctx, int64(result.Rejected), attrs)
	}
}

// RecordCoalesced records a request absorbed by a running session
func (m *SyncMetrics) RecordCoalesced(ctx context.Context, direction models.Direction) {
	if m == nil {
		return
	}
	m.coalesced.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction.String())))
}
