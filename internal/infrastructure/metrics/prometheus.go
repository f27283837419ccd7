package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes trading-loop counters and gauges. Collectors live on a
// private registry so several instances can coexist in tests without
// registration collisions.
type Metrics struct {
	registry *prometheus.Registry

	ordersSubmitted *prometheus.CounterVec
	fillsConfirmed  prometheus.Counter
	cycleErrors     prometheus.Counter
	rateLimitHits   prometheus.Counter
	positionSize    prometheus.Gauge
	accountValue    prometheus.Gauge
	signalStrength  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.ordersSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpmm",
		Name:      "orders_submitted_total",
		Help:      "Order execution attempts by terminal state.",
	}, []string{"result"})
	m.fillsConfirmed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "perpmm",
		Name:      "fills_confirmed_total",
		Help:      "Fills confirmed against the venue ledger.",
	})
	m.cycleErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "perpmm",
		Name:      "cycle_errors_total",
		Help:      "Trading cycles that failed as a whole.",
	})
	m.rateLimitHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "perpmm",
		Name:      "rate_limit_hits_total",
		Help:      "Venue throttling responses observed.",
	})
	m.positionSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "perpmm",
		Name:      "position_size",
		Help:      "Signed position size in base units.",
	})
	m.accountValue = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "perpmm",
		Name:      "account_value",
		Help:      "Account value in quote units.",
	})
	m.signalStrength = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "perpmm",
		Name:      "signal_strength",
		Help:      "Net momentum strength from the last analyzer reading.",
	})

	m.registry.MustRegister(
		m.ordersSubmitted,
		m.fillsConfirmed,
		m.cycleErrors,
		m.rateLimitHits,
		m.positionSize,
		m.accountValue,
		m.signalStrength,
	)
	return m
}

func (m *Metrics) OrderSubmitted(result string) { m.ordersSubmitted.WithLabelValues(result).Inc() }
func (m *Metrics) FillConfirmed()               { m.fillsConfirmed.Inc() }
func (m *Metrics) CycleError()                  { m.cycleErrors.Inc() }
func (m *Metrics) RateLimitHit()                { m.rateLimitHits.Inc() }
func (m *Metrics) SetPosition(size float64)     { m.positionSize.Set(size) }
func (m *Metrics) SetAccountValue(v float64)    { m.accountValue.Set(v) }
func (m *Metrics) SetSignalStrength(v float64)  { m.signalStrength.Set(v) }

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
