// Package metrics exposes Prometheus instruments for CSV imports.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JonMunkholm/shopcsv/internal/ingest"
)

const namespace = "shopcsv"

// Import kinds used as the "kind" label.
const (
	KindProducts = "products"
	KindOrders   = "orders"
)

// OutcomeOK labels imports that finished without error. Failed imports are
// labelled with their support code (REF001, VAL002, ...).
const OutcomeOK = "ok"

// Imports records the outcome of every import run.
type Imports struct {
	runs     *prometheus.CounterVec
	records  *prometheus.CounterVec
	skipped  *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewImports creates the import instruments and registers them with reg.
func NewImports(reg prometheus.Registerer) *Imports {
	m := &Imports{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_runs_total",
			Help:      "Import runs by kind and outcome.",
		}, []string{"kind", "outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_records_total",
			Help:      "Records created by imports.",
		}, []string{"kind"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_skipped_rows_total",
			Help:      "Blank rows skipped by imports.",
		}, []string{"kind"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_bytes_total",
			Help:      "Payload bytes read by imports.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_duration_seconds",
			Help:      "Wall time of import runs.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"kind"}),
	}
	reg.MustRegister(m.runs, m.records, m.skipped, m.bytes, m.duration)
	return m
}

// ObserveProducts records a product import.
func (m *Imports) ObserveProducts(res *ingest.ProductResult, err error) {
	if res == nil {
		m.runs.WithLabelValues(KindProducts, outcome(err)).Inc()
		return
	}
	m.observe(KindProducts, len(res.Products), res.Skipped, res.BytesRead, res.Duration.Seconds(), err)
}

// ObserveOrders records an order import. Orders persisted before a failure
// are counted as created.
func (m *Imports) ObserveOrders(res *ingest.OrderResult, err error) {
	if res == nil {
		m.runs.WithLabelValues(KindOrders, outcome(err)).Inc()
		return
	}
	m.observe(KindOrders, res.Created, res.Skipped, res.BytesRead, res.Duration.Seconds(), err)
}

func (m *Imports) observe(kind string, created, skipped int, bytes int64, seconds float64, err error) {
	m.runs.WithLabelValues(kind, outcome(err)).Inc()
	m.records.WithLabelValues(kind).Add(float64(created))
	m.skipped.WithLabelValues(kind).Add(float64(skipped))
	m.bytes.WithLabelValues(kind).Add(float64(bytes))
	m.duration.WithLabelValues(kind).Observe(seconds)
}

func outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	return ingest.MapError(err).Code
}

// RegisterLimiter exposes the import limiter's occupancy as gauges.
func RegisterLimiter(reg prometheus.Registerer, l *ingest.Limiter) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "import_slots_active",
			Help:      "Imports currently holding a limiter slot.",
		}, func() float64 { return float64(l.ActiveCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "import_slots_available",
			Help:      "Free import limiter slots.",
		}, func() float64 { return float64(l.Available()) }),
	)
}
