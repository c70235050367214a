// Package metrics defines the node's prometheus metrics, registered under
// the "pow_" namespace (spec.md §9A), following the pack's convention of a
// struct of pre-built collectors built once and registered against a
// caller-supplied prometheus.Registerer.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "pow"

// Metrics is the set of counters and gauges every session updates over
// its lifetime. It has no histograms.
type Metrics struct {
	BatchesGenerated prometheus.Counter
	BatchesValidated prometheus.Counter
	ProofsAccepted   prometheus.Counter
	ProofsRejected   prometheus.Counter
	BatchesDropped   *prometheus.CounterVec
	FraudDetected    prometheus.Counter

	QueueDepth *prometheus.GaugeVec

	WorkersReady prometheus.Gauge
	Phase        prometheus.Gauge
}

// New builds a Metrics and registers every collector against registerer.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		BatchesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "batches_generated_total",
			Help: "Proof batches produced by the generate phase.",
		}),
		BatchesValidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "batches_validated_total",
			Help: "Proof batches recomputed by the validate phase.",
		}),
		ProofsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "proofs_accepted_total",
			Help: "Individual proofs that passed r_target filtering.",
		}),
		ProofsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "proofs_rejected_total",
			Help: "Individual proofs a peer submitted that failed validation.",
		}),
		BatchesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "batches_dropped_total",
			Help: "Batches dropped by the sender, by reason.",
		}, []string{"reason"}),
		FraudDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fraud_detected_total",
			Help: "Validated batches whose fraud statistic crossed the threshold.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth",
			Help: "Items currently queued, by queue name.",
		}, []string{"queue"}),
		WorkersReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "workers_ready",
			Help: "Devices that have reported model_init_event for the active session.",
		}),
		Phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "phase",
			Help: "Current shared Phase as an integer (IDLE=0, GENERATE=1, VALIDATE=2, STOP=3).",
		}),
	}

	collectors := []prometheus.Collector{
		m.BatchesGenerated, m.BatchesValidated, m.ProofsAccepted, m.ProofsRejected,
		m.BatchesDropped, m.FraudDetected, m.QueueDepth, m.WorkersReady, m.Phase,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
