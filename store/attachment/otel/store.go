// Package otel instruments an attachment source with OpenTelemetry.
package otel

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rbaliyan/campusmail/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/rbaliyan/campusmail/store/attachment/otel"

// Source wraps a store.AttachmentSource with spans and metrics.
type Source struct {
	backend store.AttachmentSource
	opts    *options
	tracer  trace.Tracer

	openLatency metric.Float64Histogram
	openCount   metric.Int64Counter
	openErrors  metric.Int64Counter
	readBytes   metric.Int64Counter
}

var _ store.AttachmentSource = (*Source)(nil)

// New wraps backend.
func New(backend store.AttachmentSource, opts ...Option) (*Source, error) {
	o := &options{
		tracingEnabled: true,
		metricsEnabled: true,
		serviceName:    "campusmail",
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Source{backend: backend, opts: o}
	if o.tracingEnabled {
		s.tracer = o.tracerProvider.Tracer(instrumentationName)
	}
	if o.metricsEnabled {
		if err := s.initMetrics(o.meterProvider.Meter(instrumentationName)); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}
	return s, nil
}

func (s *Source) initMetrics(meter metric.Meter) error {
	var err error
	if s.openLatency, err = meter.Float64Histogram(
		"attachment.open.duration",
		metric.WithDescription("Time to open attachment content"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}
	if s.openCount, err = meter.Int64Counter(
		"attachment.open.count",
		metric.WithDescription("Number of attachment opens"),
	); err != nil {
		return err
	}
	if s.openErrors, err = meter.Int64Counter(
		"attachment.open.errors",
		metric.WithDescription("Number of failed attachment opens"),
	); err != nil {
		return err
	}
	s.readBytes, err = meter.Int64Counter(
		"attachment.read.bytes",
		metric.WithDescription("Attachment bytes read by callers"),
		metric.WithUnit("By"),
	)
	return err
}

// Open opens uri through the backend. The span stays open until the
// returned reader is closed, so it covers the whole transfer.
func (s *Source) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	attrs := []attribute.KeyValue{
		attribute.String("attachment.uri", uri),
		attribute.String("service.name", s.opts.serviceName),
	}

	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "attachment.open",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
	}

	start := time.Now()
	rc, err := s.backend.Open(ctx, uri)

	if s.opts.metricsEnabled {
		set := metric.WithAttributes(attrs...)
		s.openLatency.Record(ctx, time.Since(start).Seconds(), set)
		s.openCount.Add(ctx, 1, set)
		if err != nil {
			s.openErrors.Add(ctx, 1, set)
		}
	}

	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
		}
		return nil, err
	}

	return &instrumentedReader{
		ReadCloser: rc,
		source:     s,
		ctx:        ctx,
		span:       span,
		attrs:      attrs,
	}, nil
}

// instrumentedReader counts bytes and ends the span on Close.
type instrumentedReader struct {
	io.ReadCloser
	source *Source
	ctx    context.Context
	span   trace.Span
	attrs  []attribute.KeyValue

	bytes int64
	once  sync.Once
}

func (r *instrumentedReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.bytes += int64(n)
	return n, err
}

func (r *instrumentedReader) Close() error {
	err := r.ReadCloser.Close()
	r.once.Do(func() {
		if r.source.opts.metricsEnabled {
			r.source.readBytes.Add(r.ctx, r.bytes, metric.WithAttributes(r.attrs...))
		}
		if r.span == nil {
			return
		}
		r.span.SetAttributes(attribute.Int64("attachment.bytes", r.bytes))
		if err != nil {
			r.span.RecordError(err)
			r.span.SetStatus(codes.Error, err.Error())
		} else {
			r.span.SetStatus(codes.Ok, "")
		}
		r.span.End()
	})
	return err
}
