// Package metrics sets up go-metrics with a Prometheus sink for the daemons.
package metrics

import (
	"net/http"
	"time"

	"github.com/armon/go-metrics"
	promsink "github.com/armon/go-metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a go-metrics instance whose data is exposed on a private
// Prometheus registry
type Metrics struct {
	*metrics.Metrics
	Registry *prometheus.Registry
}

// New creates the metrics of the named service
func New(name string) (*Metrics, error) {
	registry := prometheus.NewRegistry()
	sink, err := promsink.NewPrometheusSinkFrom(promsink.PrometheusOpts{
		Registerer: registry,
	})
	if err != nil {
		return nil, err
	}

	conf := metrics.DefaultConfig(name)
	conf.EnableHostname = false
	conf.EnableRuntimeMetrics = false
	m, err := metrics.New(conf, sink)
	if err != nil {
		return nil, err
	}
	return &Metrics{Metrics: m, Registry: registry}, nil
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Middleware records the count and latency of requests under key
func (m *Metrics) Middleware(key string) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer m.MeasureSince([]string{"http", key}, time.Now())
			m.IncrCounter([]string{"http", key, "requests"}, 1)
			h.ServeHTTP(w, r)
		})
	}
}
