// Package telemetry wires the OpenTelemetry metric instruments for the
// observability layer: dedup hit rate, write-buffer drop count, rule
// compile failures, ledger append latency, and validation run health
// score. It deliberately does not pin an exporter or a metric naming
// scheme — callers supply a metric.Reader wrapping whatever exporter
// their deployment uses, rather than pinning specific Prometheus metric
// names.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Provider holds the meter provider and every named instrument a
// ransomeye service records against.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter

	dedupHits            metric.Int64Counter
	bufferDrops          metric.Int64Counter
	ruleCompileFailures  metric.Int64Counter
	ledgerAppendLatency  metric.Float64Histogram
	validationHealthHist metric.Float64Histogram
}

// New builds a Provider whose meter reads through reader — a
// sdkmetric.PeriodicReader wrapping an OTLP/Prometheus/stdout exporter
// in production, or a manual reader in tests. serviceName identifies
// the emitting process in the resource attributes.
func New(serviceName string, reader sdkmetric.Reader) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	meter := mp.Meter("ransomeye")

	p := &Provider{meterProvider: mp, meter: meter}
	if err := p.initInstruments(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.dedupHits, err = p.meter.Int64Counter("ransomeye.dedup.hits",
		metric.WithDescription("Alerts identified as duplicates by the dedup filter"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return fmt.Errorf("telemetry: dedup hits counter: %w", err)
	}

	p.bufferDrops, err = p.meter.Int64Counter("ransomeye.writebuffer.drops",
		metric.WithDescription("Entries dropped because the async write buffer was full"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return fmt.Errorf("telemetry: buffer drops counter: %w", err)
	}

	p.ruleCompileFailures, err = p.meter.Int64Counter("ransomeye.rules.compile_failures",
		metric.WithDescription("Rule definitions that failed to compile and were skipped"),
		metric.WithUnit("{rule}"),
	)
	if err != nil {
		return fmt.Errorf("telemetry: rule compile failures counter: %w", err)
	}

	p.ledgerAppendLatency, err = p.meter.Float64Histogram("ransomeye.ledger.append.latency",
		metric.WithDescription("Time to append and fsync one ledger entry"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0),
	)
	if err != nil {
		return fmt.Errorf("telemetry: ledger append latency histogram: %w", err)
	}

	p.validationHealthHist, err = p.meter.Float64Histogram("ransomeye.validation.health_score",
		metric.WithDescription("Health score computed at the end of each synthetic validation run"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(0, 0.25, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0),
	)
	if err != nil {
		return fmt.Errorf("telemetry: validation health score histogram: %w", err)
	}

	return nil
}

// RecordDedupHit increments the dedup hit counter, tagged by kind
// ("exact" or "fuzzy").
func (p *Provider) RecordDedupHit(ctx context.Context, kind string) {
	p.dedupHits.Add(ctx, 1, metric.WithAttributes(attrKind(kind)))
}

// RecordBufferDrop increments the write-buffer drop counter.
func (p *Provider) RecordBufferDrop(ctx context.Context) {
	p.bufferDrops.Add(ctx, 1)
}

// RecordRuleCompileFailure increments the rule compile failure
// counter, tagged by the rule id that failed.
func (p *Provider) RecordRuleCompileFailure(ctx context.Context, ruleID string) {
	p.ruleCompileFailures.Add(ctx, 1, metric.WithAttributes(attrRuleID(ruleID)))
}

// RecordLedgerAppendLatency records how long one ledger append took.
func (p *Provider) RecordLedgerAppendLatency(ctx context.Context, seconds float64) {
	p.ledgerAppendLatency.Record(ctx, seconds)
}

// RecordValidationHealthScore records a completed validation run's
// health score (0..1).
func (p *Provider) RecordValidationHealthScore(ctx context.Context, score float64) {
	p.validationHealthHist.Record(ctx, score)
}

// Shutdown flushes and closes the underlying meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.meterProvider.Shutdown(ctx)
}

func attrKind(kind string) attribute.KeyValue     { return attribute.String("kind", kind) }
func attrRuleID(ruleID string) attribute.KeyValue { return attribute.String("rule_id", ruleID) }
