package client

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/esclient/request"
	"pkt.systems/pslog"
)

const instrumentationName = "pkt.systems/esclient/client"

type callMetrics struct {
	requests metric.Int64Counter
	duration metric.Int64Histogram
	inflight metric.Int64UpDownCounter
}

func newCallMetrics(mp metric.MeterProvider, logger pslog.Base) *callMetrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	m := &callMetrics{}
	var err error

	m.requests, err = meter.Int64Counter(
		"esclient.requests",
		metric.WithDescription("Search engine requests by operation and outcome"),
	)
	logMetricInitError(logger, "esclient.requests", err)

	m.duration, err = meter.Int64Histogram(
		"esclient.request.duration_ms",
		metric.WithDescription("Search engine request duration"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "esclient.request.duration_ms", err)

	m.inflight, err = meter.Int64UpDownCounter(
		"esclient.requests.inflight",
		metric.WithDescription("Dispatched requests awaiting a response"),
	)
	logMetricInitError(logger, "esclient.requests.inflight", err)

	return m
}

func logMetricInitError(logger pslog.Base, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}

func (m *callMetrics) begin(ctx context.Context, desc request.Descriptor) {
	if m == nil || m.inflight == nil {
		return
	}
	m.inflight.Add(ctx, 1, metric.WithAttributes(attribute.String("esclient.op", desc.Op)))
}

func (m *callMetrics) record(ctx context.Context, desc request.Descriptor, status int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("esclient.op", desc.Op),
		attribute.String("http.request.method", desc.Method),
		attribute.String("esclient.outcome", outcome(err)),
	}
	if status > 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", status))
	}
	set := metric.WithAttributes(attrs...)
	if m.requests != nil {
		m.requests.Add(ctx, 1, set)
	}
	if m.duration != nil {
		m.duration.Record(ctx, duration.Milliseconds(), set)
	}
	if m.inflight != nil {
		m.inflight.Add(ctx, -1, metric.WithAttributes(attribute.String("esclient.op", desc.Op)))
	}
}

func outcome(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &remote):
		return "remote_error"
	case errors.Is(err, ErrTransport):
		return "transport_error"
	default:
		return "error"
	}
}

func (c *Client) startSpan(ctx context.Context, desc request.Descriptor) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "esclient."+desc.Op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("esclient.op", desc.Op),
		attribute.String("http.request.method", desc.Method),
		attribute.String("url.path", desc.URLPath()),
	)
	if cid := CorrelationIDFromContext(ctx); cid != "" {
		span.SetAttributes(attribute.String("esclient.correlation_id", cid))
	}
	return ctx, span
}

func finishSpan(span trace.Span, status int, err error) {
	if status > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome(err))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
