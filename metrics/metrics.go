// Package metrics exposes Prometheus metrics of the treasury core and serves them over HTTP.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors updated by the treasury components.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	transfers          *prometheus.CounterVec
	transferDuration   *prometheus.HistogramVec
	reservations       *prometheus.CounterVec
	vaultAccess        *prometheus.CounterVec
	journalFailures    prometheus.Counter
	lockdownActive     prometheus.Gauge
	ledgerPrunedTotal  prometheus.Counter
	dailyUsageFraction *prometheus.GaugeVec
	jackpots           *prometheus.CounterVec
	jackpotAmount      *prometheus.CounterVec
}

// NewMetrics registers the treasury collectors in a fresh registry under namespace.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Transfer requests by account, operation and result.",
		}, []string{"account", "operation", "result"}),
		transferDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Time spent executing a transfer request.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"account"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_reservations_total",
			Help:      "Daily budget reservations by account and result.",
		}, []string{"account", "result"}),
		vaultAccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vault_access_total",
			Help:      "Vault store operations by action and outcome.",
		}, []string{"action", "outcome"}),
		journalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_write_failures_total",
			Help:      "Audit events that could not be written after retries.",
		}),
		lockdownActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lockdown_active",
			Help:      "1 while the emergency lockdown is set.",
		}),
		ledgerPrunedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_pruned_records_total",
			Help:      "Daily usage records deleted by retention.",
		}),
		dailyUsageFraction: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_usage_ratio",
			Help:      "Fraction of the daily limit used per account.",
		}, []string{"account"}),
		jackpots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jackpots_released_total",
			Help:      "Released jackpots by tier and machine.",
		}, []string{"tier", "machine"}),
		jackpotAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jackpot_amount_released_total",
			Help:      "Token units paid out as jackpots by tier and machine.",
		}, []string{"tier", "machine"}),
	}

	reg.MustRegister(
		m.transfers,
		m.transferDuration,
		m.reservations,
		m.vaultAccess,
		m.journalFailures,
		m.lockdownActive,
		m.ledgerPrunedTotal,
		m.dailyUsageFraction,
		m.jackpots,
		m.jackpotAmount,
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format. A nil Metrics serves the
// default registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTransfer(account, operation, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(account, operation, result).Inc()
	m.transferDuration.WithLabelValues(account).Observe(d.Seconds())
}

// ObserveJackpot counts a released jackpot.
func (m *Metrics) ObserveJackpot(tier, machine string, amount int64) {
	if m == nil {
		return
	}
	m.jackpots.WithLabelValues(tier, machine).Inc()
	m.jackpotAmount.WithLabelValues(tier, machine).Add(float64(amount))
}

func (m *Metrics) ObserveReservation(account, result string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(account, result).Inc()
}

func (m *Metrics) ObserveVaultAccess(action, outcome string) {
	if m == nil {
		return
	}
	m.vaultAccess.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) IncJournalFailure() {
	if m == nil {
		return
	}
	m.journalFailures.Inc()
}

func (m *Metrics) SetLockdown(locked bool) {
	if m == nil {
		return
	}
	if locked {
		m.lockdownActive.Set(1)
	} else {
		m.lockdownActive.Set(0)
	}
}

func (m *Metrics) AddPruned(n int) {
	if m == nil {
		return
	}
	m.ledgerPrunedTotal.Add(float64(n))
}

func (m *Metrics) SetDailyUsage(account string, ratio float64) {
	if m == nil {
		return
	}
	m.dailyUsageFraction.WithLabelValues(account).Set(ratio)
}

// MetricsServer serves /metrics on its own listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for m listening on addr.
func New(m *Metrics, addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
