package telemetry

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/warp/clinic-engine/billing"
	"github.com/warp/clinic-engine/generic"
)

// =============================================================================
// METRICS
// =============================================================================

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	invoicesCommitted *prometheus.CounterVec
	invoicesRejected  *prometheus.CounterVec
	invoiceTotal      *prometheus.HistogramVec
	inventoryFailures *prometheus.CounterVec
	assignments       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		invoicesCommitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "invoice",
			Name:      "committed_total",
			Help:      "Invoices committed, by branch and payment method.",
		}, []string{"branch", "payment_method"}),
		invoicesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "invoice",
			Name:      "rejected_total",
			Help:      "Compose requests rejected, by reason.",
		}, []string{"reason"}),
		invoiceTotal: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "invoice",
			Name:      "total_amount",
			Help:      "Distribution of committed invoice totals in major currency units.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"currency"}),
		inventoryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "inventory",
			Name:      "adjust_failures_total",
			Help:      "Stock adjustments that failed after their invoice committed.",
		}, []string{"branch"}),
		assignments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "staffing",
			Name:      "changes_total",
			Help:      "Posting changes, by operation and result.",
		}, []string{"operation", "result"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// RecordAssignment counts an assign or terminate outcome.
func (m *Metrics) RecordAssignment(operation string, err error) {
	m.assignments.WithLabelValues(operation, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, generic.ErrOverlap):
		return "overlap"
	case errors.Is(err, generic.ErrNotFound):
		return "not_found"
	case errors.Is(err, generic.ErrInvalidRange):
		return "invalid_range"
	default:
		return "error"
	}
}

// rejectReason keeps label cardinality bounded.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, generic.ErrEmptyInvoice):
		return "empty"
	case errors.Is(err, generic.ErrPriceNotDefined):
		return "price_not_defined"
	case errors.Is(err, generic.ErrOwnership):
		return "ownership"
	case errors.Is(err, generic.ErrInvalidQuantity):
		return "quantity"
	case errors.Is(err, generic.ErrNotPermitted):
		return "not_permitted"
	case errors.Is(err, generic.ErrInvalidPayment):
		return "payment_method"
	case errors.Is(err, generic.ErrSerializationConflict):
		return "conflict"
	case generic.IsClientError(err):
		return "invalid"
	default:
		return "error"
	}
}

// =============================================================================
// INVOICE REPORTER (billing.Reporter)
// =============================================================================

// Reporter records composer outcomes as metrics and log lines.
type Reporter struct {
	Metrics *Metrics
	Log     logrus.FieldLogger
}

func (r *Reporter) InvoiceCommitted(_ context.Context, inv *billing.Invoice) {
	r.Metrics.invoicesCommitted.WithLabelValues(string(inv.BranchID), string(inv.PaymentMethod)).Inc()
	amount, _ := inv.Total.Value.Float64()
	r.Metrics.invoiceTotal.WithLabelValues(string(inv.Total.Currency)).Observe(amount)
	r.Log.WithFields(logrus.Fields{
		"invoice":  inv.ID,
		"customer": inv.CustomerID,
		"branch":   inv.BranchID,
		"total":    inv.Total.Display(),
		"lines":    len(inv.ProductLines) + len(inv.ServiceLines),
	}).Info("invoice issued")
}

func (r *Reporter) InvoiceRejected(_ context.Context, req billing.ComposeRequest, err error) {
	reason := rejectReason(err)
	r.Metrics.invoicesRejected.WithLabelValues(reason).Inc()

	entry := r.Log.WithFields(logrus.Fields{
		"customer": req.CustomerID,
		"branch":   req.BranchID,
		"reason":   reason,
	}).WithError(err)
	if reason == "error" {
		entry.Error("invoice compose failed")
		return
	}
	entry.Info("invoice rejected")
}

func (r *Reporter) InventoryAdjustFailed(_ context.Context, inv *billing.Invoice, line billing.ProductLine, err error) {
	r.Metrics.inventoryFailures.WithLabelValues(string(inv.BranchID)).Inc()
	r.Log.WithFields(logrus.Fields{
		"invoice":  inv.ID,
		"product":  line.ProductID,
		"quantity": line.Quantity,
	}).WithError(err).Error("stock not adjusted for committed invoice; needs reconciliation")
}
