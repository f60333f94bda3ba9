package intake

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the pipeline counters exposed on metrics_addr. A nil registerer
// builds unregistered collectors, which is what tests use.
type Metrics struct {
	FilesDiscovered prometheus.Counter
	FilesProcessed  *prometheus.CounterVec
	ProcessErrors   prometheus.Counter
	ProcessSeconds  prometheus.Histogram
	QueueDepth      prometheus.Gauge
	ReviewPending   prometheus.Gauge
	WorkerState     prometheus.Gauge
	Backups         *prometheus.CounterVec
	BackupsPruned   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FilesDiscovered: f.NewCounter(prometheus.CounterOpts{
			Namespace: "porecon",
			Name:      "files_discovered_total",
			Help:      "PDF files enqueued by the watcher.",
		}),
		FilesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "porecon",
			Name:      "files_processed_total",
			Help:      "Files processed by the worker, by outcome.",
		}, []string{"outcome"}),
		ProcessErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "porecon",
			Name:      "process_errors_total",
			Help:      "Files that failed processing and were left in place.",
		}),
		ProcessSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "porecon",
			Name:      "process_duration_seconds",
			Help:      "Extract, match and export time per file.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "porecon",
			Name:      "queue_depth",
			Help:      "Files waiting for the worker.",
		}),
		ReviewPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "porecon",
			Name:      "review_pending",
			Help:      "1 while the worker waits on a human review.",
		}),
		WorkerState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "porecon",
			Name:      "worker_state",
			Help:      "0 idle, 1 awaiting file, 2 processing, 3 awaiting review.",
		}),
		Backups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "porecon",
			Name:      "backups_total",
			Help:      "Scheduled backup attempts, by result.",
		}, []string{"result"}),
		BackupsPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: "porecon",
			Name:      "backups_pruned_total",
			Help:      "Backup bundles deleted by retention.",
		}),
	}
}
