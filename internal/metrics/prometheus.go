package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace      = "aero_room_signaling"
	eventsTotal    = namespace + "_events_total"
	eventsTotalDoc = "Internal event counters."
)

type promRegistry struct {
	once sync.Once
	reg  *prometheus.Registry
}

func newPromRegistry(m *Metrics, runtime bool) *promRegistry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(&eventCollector{
		m:    m,
		desc: prometheus.NewDesc(eventsTotal, eventsTotalDoc, []string{"event"}, nil),
	})
	if runtime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return &promRegistry{reg: reg}
}

// registry returns the Prometheus registry backing m, creating a counters-only
// registry for a zero Metrics.
func (m *Metrics) registry() *prometheus.Registry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reg == nil {
		m.reg = newPromRegistry(m, false)
	}
	return m.reg.reg
}

// GaugeFunc registers a gauge named aero_room_signaling_<name> whose value is
// read from fn at scrape time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) error {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
	if err := m.registry().Register(g); err != nil {
		return fmt.Errorf("register gauge %s: %w", name, err)
	}
	return nil
}

// eventCollector exposes the counter map as one labelled counter family.
type eventCollector struct {
	m    *Metrics
	desc *prometheus.Desc
}

func (c *eventCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *eventCollector) Collect(ch chan<- prometheus.Metric) {
	for event, v := range c.m.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(v), event)
	}
}

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
func PrometheusHandler(m *Metrics) http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
		})
	}
	return promhttp.HandlerFor(m.registry(), promhttp.HandlerOpts{})
}
