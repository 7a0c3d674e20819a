package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	ServiceName string
	Environment string
}

type ConnectorMetrics struct {
	captureAttempts    *prometheus.CounterVec
	captureDuration    prometheus.Histogram
	notifications      *prometheus.CounterVec
	emittedEventsSwept *prometheus.CounterVec
	emissionBacklog    prometheus.Gauge
	parityChecks       *prometheus.CounterVec
	expiredCharges     prometheus.Counter
}

var (
	connectorMetricsOnce sync.Once
	connectorMetrics     *ConnectorMetrics
)

func Connector() *ConnectorMetrics {
	return ConnectorWithConfig(Config{})
}

func ConnectorWithConfig(cfg Config) *ConnectorMetrics {
	connectorMetricsOnce.Do(func() {
		connectorMetrics = newConnectorMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return connectorMetrics
}

func ResetConnectorMetricsForTest() {
	connectorMetricsOnce = sync.Once{}
	connectorMetrics = nil
}

func newConnectorMetrics(registerer prometheus.Registerer, cfg Config) *ConnectorMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "connector"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	captureAttempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "connector_capture_attempts_total",
			Help:        "Total gateway capture attempts by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // captured | rejected | ambiguous | skipped
	)

	captureDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:        "connector_capture_duration_seconds",
			Help:        "Wall time of a single gateway capture call.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			ConstLabels: constLabels,
		},
	)

	notifications := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "connector_notifications_total",
			Help:        "Inbound gateway notifications by processing outcome.",
			ConstLabels: constLabels,
		},
		[]string{"provider", "outcome"}, // accepted | rejected | ignored
	)

	emittedEventsSwept := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "connector_emitted_events_swept_total",
			Help:        "Outbox events picked up by the emission sweep by result.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // emitted | failed
	)

	emissionBacklog := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "connector_emission_backlog_total",
			Help:        "Unconfirmed emitted-event rows older than the sweep cutoff.",
			ConstLabels: constLabels,
		},
	)

	parityChecks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "connector_parity_checks_total",
			Help:        "Ledger parity check outcomes.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"}, // match | mismatch | missing | skipped
	)

	expiredCharges := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:        "connector_expired_charges_total",
			Help:        "Charges moved to EXPIRED by the expiry sweep.",
			ConstLabels: constLabels,
		},
	)

	registerer.MustRegister(
		captureAttempts,
		captureDuration,
		notifications,
		emittedEventsSwept,
		emissionBacklog,
		parityChecks,
		expiredCharges,
	)

	return &ConnectorMetrics{
		captureAttempts:    captureAttempts,
		captureDuration:    captureDuration,
		notifications:      notifications,
		emittedEventsSwept: emittedEventsSwept,
		emissionBacklog:    emissionBacklog,
		parityChecks:       parityChecks,
		expiredCharges:     expiredCharges,
	}
}

func (m *ConnectorMetrics) IncCaptureAttempt(result string) {
	if m == nil {
		return
	}
	m.captureAttempts.WithLabelValues(result).Inc()
}

func (m *ConnectorMetrics) ObserveCaptureDuration(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.captureDuration.Observe(elapsed.Seconds())
}

func (m *ConnectorMetrics) IncNotification(provider, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(provider, outcome).Inc()
}

func (m *ConnectorMetrics) IncEventsSwept(result string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.emittedEventsSwept.WithLabelValues(result).Add(float64(count))
}

func (m *ConnectorMetrics) SetEmissionBacklog(value int) {
	if m == nil {
		return
	}
	m.emissionBacklog.Set(float64(value))
}

func (m *ConnectorMetrics) IncParityCheck(outcome string) {
	if m == nil {
		return
	}
	m.parityChecks.WithLabelValues(outcome).Inc()
}

func (m *ConnectorMetrics) IncExpiredCharges(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.expiredCharges.Add(float64(count))
}
