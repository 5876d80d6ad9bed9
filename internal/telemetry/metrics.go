// Package telemetry bootstraps OpenTelemetry metrics export for
// raceway-engine, adapted from packages/go-core's MeterProvider
// bootstrap to also hand back the counters the ingest and analysis
// paths record against.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	gocoretelemetry "github.com/arc-self/packages/go-core/telemetry"
)

// Metrics holds the instruments raceway-engine emits. A nil *Metrics is
// safe to call every method on: all of them no-op when metrics export
// is disabled (no otel_metrics_endpoint configured).
type Metrics struct {
	provider       *sdkmetric.MeterProvider
	eventsIngested metric.Int64Counter
	racesDetected  metric.Int64Counter
	anomalies      metric.Int64Counter
}

// Init starts OTLP/gRPC metrics export toward endpoint and registers
// raceway-engine's counters against it. Returns nil, nil when endpoint
// is empty (metrics export disabled).
func Init(ctx context.Context, serviceName, endpoint string) (*Metrics, error) {
	if endpoint == "" {
		return nil, nil
	}

	mp, err := gocoretelemetry.InitMeterProvider(ctx, serviceName, endpoint)
	if err != nil {
		return nil, err
	}

	meter := mp.Meter("raceway-engine")
	eventsIngested, err := meter.Int64Counter("raceway_events_ingested_total")
	if err != nil {
		return nil, err
	}
	racesDetected, err := meter.Int64Counter("raceway_races_detected_total")
	if err != nil {
		return nil, err
	}
	anomalies, err := meter.Int64Counter("raceway_anomalies_detected_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		provider:       mp,
		eventsIngested: eventsIngested,
		racesDetected:  racesDetected,
		anomalies:      anomalies,
	}, nil
}

// Shutdown flushes and closes the metrics exporter. Safe to call on a
// nil *Metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// AddEventsIngested records n newly ingested events.
func (m *Metrics) AddEventsIngested(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.eventsIngested.Add(ctx, n)
}

// AddRacesDetected records n races surfaced by one detection pass.
func (m *Metrics) AddRacesDetected(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.racesDetected.Add(ctx, n)
}

// AddAnomaliesDetected records n anomalies surfaced by one detection pass.
func (m *Metrics) AddAnomaliesDetected(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.anomalies.Add(ctx, n)
}
