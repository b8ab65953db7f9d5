package campusmail

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/campusmail"
)

// Instrumented operation names. Each gets a duration histogram plus
// count and error counters named campusmail.<op>.*.
const (
	opSend   = "send"
	opGet    = "get"
	opList   = "list"
	opCounts = "counts"
	opDraft  = "draft"
	opFlag   = "flag"
	opDelete = "delete"
)

var instrumentedOps = []string{opSend, opGet, opList, opCounts, opDraft, opFlag, opDelete}

// opInstruments are the metric instruments for one operation.
type opInstruments struct {
	latency metric.Float64Histogram
	count   metric.Int64Counter
	errors  metric.Int64Counter
}

// otelInstrumentation holds OpenTelemetry instrumentation for the service.
type otelInstrumentation struct {
	tracingEnabled bool
	tracer         trace.Tracer

	metricsEnabled bool
	ops            map[string]*opInstruments
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics creates the instruments for every operation.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)
	o.ops = make(map[string]*opInstruments, len(instrumentedOps))

	for _, op := range instrumentedOps {
		prefix := "campusmail." + op
		inst := &opInstruments{}
		var err error

		inst.latency, err = meter.Float64Histogram(
			prefix+".duration",
			metric.WithDescription("Duration of "+op+" operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			return err
		}

		inst.count, err = meter.Int64Counter(
			prefix+".count",
			metric.WithDescription("Number of "+op+" operations"),
		)
		if err != nil {
			return err
		}

		inst.errors, err = meter.Int64Counter(
			prefix+".errors",
			metric.WithDescription("Number of failed "+op+" operations"),
		)
		if err != nil {
			return err
		}

		o.ops[op] = inst
	}
	return nil
}

// startSpan starts a span if tracing is enabled and returns a function that
// ends it, recording err when non-nil.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// record records one completed operation.
func (o *otelInstrumentation) record(ctx context.Context, op string, duration time.Duration, err error, attrs ...attribute.KeyValue) {
	if !o.metricsEnabled {
		return
	}
	inst, ok := o.ops[op]
	if !ok {
		return
	}
	set := metric.WithAttributes(attrs...)
	inst.latency.Record(ctx, duration.Seconds(), set)
	inst.count.Add(ctx, 1, set)
	if err != nil {
		inst.errors.Add(ctx, 1, set)
	}
}

// instrument wraps an operation in a span and a metric record. The returned
// function must be called with the operation's final error.
func (o *otelInstrumentation) instrument(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, endSpan := o.startSpan(ctx, "campusmail."+op, attrs...)
	start := time.Now()
	return ctx, func(err error) {
		endSpan(err)
		o.record(ctx, op, time.Since(start), err, attrs...)
	}
}
