package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"listing_sync/internal/domain"
)

const namespace = "listing_sync"

// Metrics turns recorded failures and finished runs into Prometheus series.
type Metrics struct {
	failures    *prometheus.CounterVec
	runs        *prometheus.CounterVec
	accounts    *prometheus.CounterVec
	listings    *prometheus.CounterVec
	fetched     prometheus.Counter
	runDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Recovered failures by category and error code.",
		}, []string{"category", "code"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished sync runs by outcome.",
		}, []string{"outcome"}),
		accounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_passes_total",
			Help:      "Account passes by terminal state.",
		}, []string{"state"}),
		listings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_written_total",
			Help:      "Reconciled listings by result.",
		}, []string{"result"}),
		fetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_fetched_total",
			Help:      "Listings returned by the marketplace.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of one sync run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
	}

	reg.MustRegister(
		m.failures,
		m.runs,
		m.accounts,
		m.listings,
		m.fetched,
		m.runDuration,
	)

	return m
}

func (m *Metrics) ObserveFailure(ev domain.FailureEvent) {
	m.failures.WithLabelValues(string(ev.Category), ev.ErrorCode).Inc()
}

func (m *Metrics) ObserveRun(run *domain.SyncRunResult) {
	m.runs.WithLabelValues(runOutcome(run)).Inc()
	m.runDuration.Observe(run.Duration().Seconds())

	fetched, inserted, updated, failed := run.Totals()
	m.fetched.Add(float64(fetched))
	m.listings.WithLabelValues("inserted").Add(float64(inserted))
	m.listings.WithLabelValues("updated").Add(float64(updated))
	m.listings.WithLabelValues("failed").Add(float64(failed))

	for _, a := range run.Accounts {
		m.accounts.WithLabelValues(string(a.State)).Inc()
	}
}

func runOutcome(run *domain.SyncRunResult) string {
	switch {
	case run.Canceled:
		return "canceled"
	case len(run.Failures) > 0:
		return "partial"
	default:
		return "ok"
	}
}

// Handler serves the gatherer's series for scraping.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}
