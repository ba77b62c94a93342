package shared

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/bt-bridge/voice-ledger"

// Metrics holds the session instruments. The OTel types are safe for
// concurrent use.
type Metrics struct {
	// Events counts inbound stream events by kind.
	Events metric.Int64Counter
	// CodecErrors counts dropped audio chunks.
	CodecErrors metric.Int64Counter
	// ParseErrors counts discarded events, payloads and function arguments.
	ParseErrors metric.Int64Counter
	// RemoteErrors counts error events sent by the far end.
	RemoteErrors metric.Int64Counter
	// Commands counts completed commands by kind and strategy.
	Commands metric.Int64Counter
	// FunctionCalls counts executed function calls by name and status.
	FunctionCalls metric.Int64Counter
	// QueuedChunks tracks audio chunks waiting for playback.
	QueuedChunks metric.Int64UpDownCounter
	// FunctionDuration tracks host function execution latency.
	FunctionDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Events, err = m.Int64Counter("voice_ledger.events",
		metric.WithDescription("Inbound realtime events by kind."),
	); err != nil {
		return nil, err
	}
	if met.CodecErrors, err = m.Int64Counter("voice_ledger.codec.errors",
		metric.WithDescription("Audio chunks dropped because of malformed payloads."),
	); err != nil {
		return nil, err
	}
	if met.ParseErrors, err = m.Int64Counter("voice_ledger.parse.errors",
		metric.WithDescription("Malformed JSON by origin."),
	); err != nil {
		return nil, err
	}
	if met.RemoteErrors, err = m.Int64Counter("voice_ledger.remote.errors",
		metric.WithDescription("Error events received from the realtime endpoint."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("voice_ledger.commands",
		metric.WithDescription("Completed commands by kind and strategy."),
	); err != nil {
		return nil, err
	}
	if met.FunctionCalls, err = m.Int64Counter("voice_ledger.function.calls",
		metric.WithDescription("Executed function calls by name and status."),
	); err != nil {
		return nil, err
	}
	if met.QueuedChunks, err = m.Int64UpDownCounter("voice_ledger.playback.queued",
		metric.WithDescription("Audio chunks waiting for playback."),
	); err != nil {
		return nil, err
	}
	if met.FunctionDuration, err = m.Float64Histogram("voice_ledger.function.duration",
		metric.WithDescription("Latency of host function execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics is bound to the global meter provider, a no-op until
// InitMetrics installs one.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("shared: creating default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// InitMetrics installs a Prometheus backed meter provider as the global one
// and returns the scrape handler.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	reg := prometheus.NewRegistry()
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp))
	otel.SetMeterProvider(mp)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), mp.Shutdown, nil
}

func (m *Metrics) RecordEvent(ctx context.Context, kind string) {
	m.Events.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) RecordCodecError(ctx context.Context) {
	m.CodecErrors.Add(ctx, 1)
}

func (m *Metrics) RecordParseError(ctx context.Context, origin string) {
	m.ParseErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", origin)))
}

func (m *Metrics) RecordRemoteError(ctx context.Context, code string) {
	m.RemoteErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

func (m *Metrics) RecordCommand(ctx context.Context, kind, strategy string) {
	m.Commands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("strategy", strategy),
		),
	)
}

func (m *Metrics) RecordFunctionCall(ctx context.Context, name, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("name", name),
		attribute.String("status", status),
	)
	m.FunctionCalls.Add(ctx, 1, attrs)
	m.FunctionDuration.Record(ctx, seconds, attrs)
}
