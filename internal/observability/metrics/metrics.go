package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
}

// Metrics exposes ingestion and rollup instruments.
type Metrics struct {
	eventsRecorded   metric.Int64Counter
	eventsRejected   metric.Int64Counter
	rollupFailures   metric.Int64Counter
	rollupConflicts  metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	rollupDurationMs metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "coinpulse"
	}
	meter := provider.Meter(name)

	eventsRecorded, err := meter.Int64Counter("coinpulse_events_recorded_total",
		metric.WithDescription("Events durably written to the event store."))
	if err != nil {
		return nil, err
	}
	eventsRejected, err := meter.Int64Counter("coinpulse_events_rejected_total",
		metric.WithDescription("Events rejected before any write."))
	if err != nil {
		return nil, err
	}
	rollupFailures, err := meter.Int64Counter("coinpulse_rollup_failures_total",
		metric.WithDescription("Events left unprocessed after a counter or rollup failure."))
	if err != nil {
		return nil, err
	}
	rollupConflicts, err := meter.Int64Counter("coinpulse_rollup_conflicts_total",
		metric.WithDescription("Rollup transactions retried after a concurrent writer."))
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("coinpulse_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}
	rollupDurationMs, err := meter.Float64Histogram("coinpulse_rollup_duration_ms",
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		eventsRecorded:   eventsRecorded,
		eventsRejected:   eventsRejected,
		rollupFailures:   rollupFailures,
		rollupConflicts:  rollupConflicts,
		rateLimitDenied:  rateLimitDenied,
		rollupDurationMs: rollupDurationMs,
	}, nil
}

// RecordEventRecorded counts a written event.
func (m *Metrics) RecordEventRecorded(ctx context.Context, processed bool) {
	if m == nil {
		return
	}
	m.eventsRecorded.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.Bool("processed", processed))...))
}

// RecordEventRejected counts an event refused with reason (an error code).
func (m *Metrics) RecordEventRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.eventsRejected.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))...))
}

// RecordRollupFailure counts an event whose derived state could not be updated.
func (m *Metrics) RecordRollupFailure(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.rollupFailures.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("stage", strings.TrimSpace(stage)))...))
}

func (m *Metrics) RecordRollupConflict(ctx context.Context) {
	if m == nil {
		return
	}
	m.rollupConflicts.Add(ctx, 1)
}

func (m *Metrics) ObserveRollupDuration(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.rollupDurationMs.Record(ctx, float64(d)/float64(time.Millisecond))
}

// RecordRateLimitDenied counts a request refused by the ingest limiter.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":    {},
	"status_code": {},
	"reason":      {},
	"stage":       {},
	"processed":   {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
