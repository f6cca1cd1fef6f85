package dmbox

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
	instrumentationName = "github.com/rbaliyan/dmbox"
)

// opInstruments holds the metric instruments of one operation.
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
	send           opInstruments
	list           opInstruments
	delete         opInstruments
	markReceived   metric.Int64Counter
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
		if err := o.initMetrics(mp.Meter(instrumentationName), opts.serviceName); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics creates "<prefix>.<op>.duration|count|errors" for each operation.
func (o *otelInstrumentation) initMetrics(meter metric.Meter, prefix string) error {
	var err error
	if o.send, err = newOpInstruments(meter, prefix, "send", "messages sent"); err != nil {
		return err
	}
	if o.list, err = newOpInstruments(meter, prefix, "list", "list operations"); err != nil {
		return err
	}
	if o.delete, err = newOpInstruments(meter, prefix, "delete", "delete operations"); err != nil {
		return err
	}
	o.markReceived, err = meter.Int64Counter(
		prefix+".received.count",
		metric.WithDescription("Number of deliveries marked received"),
	)
	return err
}

func newOpInstruments(meter metric.Meter, prefix, op, what string) (opInstruments, error) {
	var (
		ins opInstruments
		err error
	)
	ins.latency, err = meter.Float64Histogram(
		prefix+"."+op+".duration",
		metric.WithDescription("Duration of "+op+" operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return ins, err
	}
	ins.count, err = meter.Int64Counter(
		prefix+"."+op+".count",
		metric.WithDescription("Number of "+what),
	)
	if err != nil {
		return ins, err
	}
	ins.errors, err = meter.Int64Counter(
		prefix+"."+op+".errors",
		metric.WithDescription("Number of "+op+" errors"),
	)
	return ins, err
}

func (ins opInstruments) record(ctx context.Context, duration time.Duration, err error, attrs ...attribute.KeyValue) {
	set := metric.WithAttributes(attrs...)
	ins.latency.Record(ctx, duration.Seconds(), set)
	ins.count.Add(ctx, 1, set)
	if err != nil {
		ins.errors.Add(ctx, 1, set)
	}
}

// startSpan starts a new span if tracing is enabled.
// The returned func ends the span, recording err if non-nil.
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

func (o *otelInstrumentation) recordSend(ctx context.Context, duration time.Duration, recipientCount int, err error) {
	if !o.metricsEnabled {
		return
	}
	o.send.record(ctx, duration, err, attribute.Int("recipient_count", recipientCount))
}

func (o *otelInstrumentation) recordList(ctx context.Context, duration time.Duration, resultCount int, err error) {
	if !o.metricsEnabled {
		return
	}
	o.list.record(ctx, duration, err, attribute.Int("result_count", resultCount))
}

func (o *otelInstrumentation) recordDelete(ctx context.Context, duration time.Duration, idCount int, err error) {
	if !o.metricsEnabled {
		return
	}
	o.delete.record(ctx, duration, err, attribute.Int("id_count", idCount))
}

func (o *otelInstrumentation) recordMarkReceived(ctx context.Context, n int64) {
	if !o.metricsEnabled || n == 0 {
		return
	}
	o.markReceived.Add(ctx, n)
}
