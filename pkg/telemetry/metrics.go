package telemetry

import "context"

// Labels carries a metric's dimension set (e.g. source_id, stage).
type Labels map[string]string

// Meter is the metrics interface the Gateway and pipeline Runner record
// through: one counter per outcome, with gauges/histograms available for
// future taxonomy entries (queue depth, stage latency) that don't yet have
// a recording point.
type Meter interface {
	IncCounter(ctx context.Context, name string, delta int64, labels Labels) error
	SetGauge(ctx context.Context, name string, value float64, labels Labels) error
	ObserveHistogram(ctx context.Context, name string, value float64, buckets []float64, labels Labels) error
}

// DefaultHistogramBuckets returns the bucket set PrometheusMeter falls back
// to when a caller observes a histogram without supplying its own (seconds:
// 5ms .. 10s).
func DefaultHistogramBuckets() []float64 {
	return []float64{
		0.005, 0.01, 0.025, 0.05,
		0.1, 0.25, 0.5, 1.0,
		2.5, 5.0, 10.0,
	}
}

// NopMeter is a safe no-op meter, used when no backend is configured.
type NopMeter struct{}

func (NopMeter) IncCounter(ctx context.Context, name string, delta int64, labels Labels) error {
	return nil
}
func (NopMeter) SetGauge(ctx context.Context, name string, value float64, labels Labels) error {
	return nil
}
func (NopMeter) ObserveHistogram(ctx context.Context, name string, value float64, buckets []float64, labels Labels) error {
	return nil
}
