package telemetry

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMeter implements Meter by lazily registering vec metrics keyed
// by name on a provided prometheus.Registerer. It is the backend
// wiring.Open constructs for every Gateway and pipeline Runner counter.
type PrometheusMeter struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMeter wraps reg (typically prometheus.NewRegistry()).
func NewPrometheusMeter(reg prometheus.Registerer) *PrometheusMeter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusMeter{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func labelNames(l Labels) []string {
	names := make([]string, 0, len(l))
	for k := range l {
		names = append(names, k)
	}
	return names
}

func (m *PrometheusMeter) IncCounter(_ context.Context, name string, delta int64, labels Labels) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := name
	cv, ok := m.counters[key]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, labelNames(labels))
		if err := m.reg.Register(cv); err != nil {
			if are, ok2 := err.(prometheus.AlreadyRegisteredError); ok2 {
				cv = are.ExistingCollector.(*prometheus.CounterVec)
			} else {
				return err
			}
		}
		m.counters[key] = cv
	}
	cv.With(prometheus.Labels(labels)).Add(float64(delta))
	return nil
}

func (m *PrometheusMeter) SetGauge(_ context.Context, name string, value float64, labels Labels) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := name
	gv, ok := m.gauges[key]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, labelNames(labels))
		if err := m.reg.Register(gv); err != nil {
			if are, ok2 := err.(prometheus.AlreadyRegisteredError); ok2 {
				gv = are.ExistingCollector.(*prometheus.GaugeVec)
			} else {
				return err
			}
		}
		m.gauges[key] = gv
	}
	gv.With(prometheus.Labels(labels)).Set(value)
	return nil
}

func (m *PrometheusMeter) ObserveHistogram(_ context.Context, name string, value float64, buckets []float64, labels Labels) error {
	if len(buckets) == 0 {
		buckets = DefaultHistogramBuckets()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := name
	hv, ok := m.histograms[key]
	if !ok {
		hv = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: name, Buckets: buckets}, labelNames(labels))
		if err := m.reg.Register(hv); err != nil {
			if are, ok2 := err.(prometheus.AlreadyRegisteredError); ok2 {
				hv = are.ExistingCollector.(*prometheus.HistogramVec)
			} else {
				return err
			}
		}
		m.histograms[key] = hv
	}
	hv.With(prometheus.Labels(labels)).Observe(value)
	return nil
}
