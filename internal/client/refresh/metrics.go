package refresh

import "github.com/prometheus/client_golang/prometheus"

// Значения label result
const (
	resultSuccess   = "success"
	resultTransient = "transient"
	resultTerminal  = "terminal"
	resultSkipped   = "skipped" // токен уже обновлен другим вызовом
)

// Metrics метрики обновления токенов. Нулевой *Metrics допустим и ничего не пишет.
type Metrics struct {
	refreshTotal   *prometheus.CounterVec
	inFlight       prometheus.Gauge
	retryScheduled prometheus.Counter
}

// NewMetrics создает метрики и регистрирует их в reg (если reg не nil)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edusession",
			Name:      "refresh_total",
			Help:      "Token refresh attempts by result.",
		}, []string{"result"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "edusession",
			Name:      "refresh_in_flight",
			Help:      "1 while a refresh exchange is outstanding.",
		}),
		retryScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edusession",
			Name:      "refresh_retry_scheduled_total",
			Help:      "Backoff retries scheduled after transient failures.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.refreshTotal, m.inFlight, m.retryScheduled)
	}
	return m
}

func (m *Metrics) observe(result string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) setInFlight(v bool) {
	if m == nil {
		return
	}
	if v {
		m.inFlight.Set(1)
	} else {
		m.inFlight.Set(0)
	}
}

func (m *Metrics) retry() {
	if m == nil {
		return
	}
	m.retryScheduled.Inc()
}
