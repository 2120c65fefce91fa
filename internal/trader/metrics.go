package trader

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus collectors updated by the trading loop.
// A nil *Metrics records nothing.
type Metrics struct {
	orders          *prometheus.CounterVec
	buySkipped      *prometheus.CounterVec
	positionsClosed *prometheus.CounterVec
	repriced        *prometheus.CounterVec
	openPositions   *prometheus.GaugeVec
	cycleErrors     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upbit_bot_orders_total",
			Help: "Orders placed",
		}, []string{"side", "mode"}),
		buySkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upbit_bot_buy_skipped_total",
			Help: "Cycles that ended without a buy, by reason",
		}, []string{"reason"}),
		positionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upbit_bot_positions_closed_total",
			Help: "Positions whose sell reached a terminal state",
		}, []string{"state"}),
		repriced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upbit_bot_repriced_total",
			Help: "Resting sells cancelled and replaced",
		}, []string{"variant"}),
		openPositions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "upbit_bot_open_positions",
			Help: "Waiting positions per market",
		}, []string{"market"}),
		cycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upbit_bot_cycle_errors_total",
			Help: "Market cycles that failed",
		}, []string{"market"}),
	}
	reg.MustRegister(m.orders, m.buySkipped, m.positionsClosed, m.repriced, m.openPositions, m.cycleErrors)
	return m
}

func (m *Metrics) orderPlaced(side string, dryRun bool) {
	if m == nil {
		return
	}
	mode := "live"
	if dryRun {
		mode = "paper"
	}
	m.orders.WithLabelValues(side, mode).Inc()
}

func (m *Metrics) buySkip(reason string) {
	if m != nil {
		m.buySkipped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) positionClosed(state string) {
	if m != nil {
		m.positionsClosed.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) sellRepriced(variant string) {
	if m != nil {
		m.repriced.WithLabelValues(variant).Inc()
	}
}

func (m *Metrics) setOpen(market string, n int) {
	if m != nil {
		m.openPositions.WithLabelValues(market).Set(float64(n))
	}
}

func (m *Metrics) cycleFailed(market string) {
	if m != nil {
		m.cycleErrors.WithLabelValues(market).Inc()
	}
}
