// Package telemetry wires OpenTelemetry metrics. When disabled every
// instrument is a no-op.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// MeterName is the instrumentation scope for shoprelay metrics.
const MeterName = "shoprelay"

// Provider owns the meter provider and, when enabled, a manual reader that
// backs the /metrics snapshot.
type Provider struct {
	Meter    metric.Meter
	reader   *sdkmetric.ManualReader
	shutdown func(context.Context) error
}

// Init returns an enabled provider backed by an SDK meter, or a no-op one.
func Init(enabled bool) *Provider {
	if !enabled {
		return &Provider{
			Meter:    noop.NewMeterProvider().Meter(MeterName),
			shutdown: func(context.Context) error { return nil },
		}
	}
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return &Provider{
		Meter:    mp.Meter(MeterName),
		reader:   reader,
		shutdown: mp.Shutdown,
	}
}

// Enabled reports whether metrics are being recorded.
func (p *Provider) Enabled() bool { return p.reader != nil }

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}

// Point is one data point in a snapshot.
type Point struct {
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      float64           `json:"value,omitempty"`
	Count      uint64            `json:"count,omitempty"`
	Sum        float64           `json:"sum,omitempty"`
}

// Series is a named metric and its points.
type Series struct {
	Name   string  `json:"name"`
	Unit   string  `json:"unit,omitempty"`
	Points []Point `json:"points"`
}

// Snapshot collects the current metric values. A disabled provider returns
// an empty snapshot.
func (p *Provider) Snapshot(ctx context.Context) ([]Series, error) {
	if p.reader == nil {
		return []Series{}, nil
	}
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("telemetry: collect: %w", err)
	}

	out := []Series{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			s := Series{Name: m.Name, Unit: m.Unit}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					s.Points = append(s.Points, Point{Attributes: attrs(dp.Attributes), Value: float64(dp.Value)})
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					s.Points = append(s.Points, Point{Attributes: attrs(dp.Attributes), Value: dp.Value})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					s.Points = append(s.Points, Point{Attributes: attrs(dp.Attributes), Count: dp.Count, Sum: dp.Sum})
				}
			default:
				continue
			}
			out = append(out, s)
		}
	}
	return out, nil
}

func attrs(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	m := make(map[string]string, set.Len())
	iter := set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		m[string(kv.Key)] = kv.Value.Emit()
	}
	return m
}
