package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raterudder/idracpower/pkg/types"
)

// metrics live on their own registry so tests can build many servers.
type metrics struct {
	registry     *prometheus.Registry
	power        *prometheus.GaugeVec
	energy       *prometheus.GaugeVec
	pollErrors   *prometheus.CounterVec
	pollDuration *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		power: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "idrac_power_watts",
			Help: "Last instantaneous power draw reported by the iDRAC.",
		}, []string{"device"}),
		energy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "idrac_energy_total",
			Help: "Running energy total integrated from power readings.",
		}, []string{"device", "unit"}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idrac_poll_errors_total",
			Help: "Failed polls by error kind.",
		}, []string{"device", "kind"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idrac_poll_duration_seconds",
			Help:    "Time taken by each poll of an iDRAC.",
			Buckets: prometheus.DefBuckets,
		}, []string{"device"}),
	}
	m.registry.MustRegister(m.power, m.energy, m.pollErrors, m.pollDuration)
	return m
}

func (m *metrics) observePoll(device string, start time.Time) {
	m.pollDuration.WithLabelValues(device).Observe(time.Since(start).Seconds())
}

func (m *metrics) recordError(device, kind string) {
	m.pollErrors.WithLabelValues(device, kind).Inc()
}

func (m *metrics) recordStatus(s types.DeviceStatus) {
	if s.Power != nil {
		m.power.WithLabelValues(s.ID).Set(s.Power.Watts)
	}
	m.energy.WithLabelValues(s.ID, string(s.Unit)).Set(s.TotalEnergy)
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
