package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	RefundOutcomeCompleted     = "completed"
	RefundOutcomeFailed        = "failed"
	RefundOutcomeShortCircuit  = "short_circuit"
	RefundOutcomeCash          = "cash_completed"
	ProcessorResultSuccess     = "success"
	ProcessorResultError       = "error"
	ProcessorResultTimeout     = "timeout"
	ReconcileKindOrderStatus   = "order_status"
	ReconcileKindOutcomeKnown  = "outcome_resolved"
	ReconcileKindRetryCleared  = "retry_cleared"
)

// Metrics exposes application-level instruments for the refund pipeline.
type Metrics struct {
	refundOutcomes        *prometheus.CounterVec
	processorCalls        *prometheus.CounterVec
	processorCallDuration *prometheus.HistogramVec
	batchOrders           *prometheus.CounterVec
	reconcilerRepairs     *prometheus.CounterVec
	ledgerEntries         *prometheus.CounterVec
}

// New registers the refund pipeline instruments on the given registerer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		refundOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagepass_refund_outcomes_total",
			Help: "Refund orchestrator outcomes by terminal state.",
		}, []string{"outcome", "reason"}),
		processorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagepass_processor_calls_total",
			Help: "Outbound payment processor refund calls by result.",
		}, []string{"result"}),
		processorCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stagepass_processor_call_duration_seconds",
			Help:    "Latency of outbound payment processor calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
		batchOrders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagepass_cancellation_batch_orders_total",
			Help: "Orders handled by cancellation batch runs, by outcome.",
		}, []string{"outcome"}),
		reconcilerRepairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagepass_reconciler_repairs_total",
			Help: "Repairs applied by the refund reconciler.",
		}, []string{"kind"}),
		ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagepass_ledger_entries_total",
			Help: "Ledger entries posted, by source type.",
		}, []string{"source_type"}),
	}

	collectors := []prometheus.Collector{
		m.refundOutcomes,
		m.processorCalls,
		m.processorCallDuration,
		m.batchOrders,
		m.reconcilerRepairs,
		m.ledgerEntries,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				_ = already
				continue
			}
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) RecordRefundOutcome(outcome, reason string) {
	if m == nil {
		return
	}
	m.refundOutcomes.WithLabelValues(normalize(outcome), normalize(reason)).Inc()
}

func (m *Metrics) RecordProcessorCall(result string, duration time.Duration) {
	if m == nil {
		return
	}
	result = normalize(result)
	m.processorCalls.WithLabelValues(result).Inc()
	m.processorCallDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func (m *Metrics) RecordBatchOrder(outcome string) {
	if m == nil {
		return
	}
	m.batchOrders.WithLabelValues(normalize(outcome)).Inc()
}

func (m *Metrics) RecordReconcilerRepair(kind string) {
	if m == nil {
		return
	}
	m.reconcilerRepairs.WithLabelValues(normalize(kind)).Inc()
}

func (m *Metrics) RecordLedgerEntry(sourceType string) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(normalize(sourceType)).Inc()
}

func normalize(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return "unknown"
	}
	return v
}
