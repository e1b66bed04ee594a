package storage

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// storeMetrics holds Prometheus metrics for ObjectStore operations.
type storeMetrics struct {
	ops     *prometheus.CounterVec   // By operation and result
	latency *prometheus.HistogramVec // By operation
}

// InstrumentedStore wraps an ObjectStore and records operation counts and
// latencies.
type InstrumentedStore struct {
	next    ObjectStore
	metrics *storeMetrics
}

// Instrument wraps store with metrics registered on reg. backend is attached
// as a constant label.
func Instrument(store ObjectStore, reg prometheus.Registerer, backend string) (*InstrumentedStore, error) {
	m := &storeMetrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "planroom",
			Subsystem:   "objectstore",
			Name:        "operations_total",
			Help:        "Total number of object store operations",
			ConstLabels: prometheus.Labels{"backend": backend},
		}, []string{"operation", "result"}), // result: ok, not_found, error

		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "planroom",
			Subsystem:   "objectstore",
			Name:        "operation_duration_seconds",
			Help:        "Object store operation duration in seconds",
			ConstLabels: prometheus.Labels{"backend": backend},
			Buckets:     []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		}, []string{"operation"}),
	}

	for _, c := range []prometheus.Collector{m.ops, m.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return &InstrumentedStore{next: store, metrics: m}, nil
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := s.next.Get(ctx, key)
	s.observe("get", start, err)
	return data, err
}

func (s *InstrumentedStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	start := time.Now()
	err := s.next.Put(ctx, key, data, contentType)
	s.observe("put", start, err)
	return err
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	s.metrics.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	result := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	s.metrics.ops.WithLabelValues(op, result).Inc()
}
