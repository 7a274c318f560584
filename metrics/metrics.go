package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fawatch",
		Subsystem: "watcher",
		Name:      "events_total",
		Help:      "Events resolved and handed to the output.",
	})
	IgnoredEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fawatch",
		Subsystem: "watcher",
		Name:      "ignored_events_total",
		Help:      "Events dropped because their pid is ignored.",
	})
	QueueOverflowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fawatch",
		Subsystem: "watcher",
		Name:      "queue_overflows_total",
		Help:      "Overflow records received from the kernel.",
	})
	MalformedRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fawatch",
		Subsystem: "watcher",
		Name:      "malformed_records_total",
		Help:      "Records that could not be decoded.",
	}, []string{"result"})
	UnresolvedPathsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fawatch",
		Subsystem: "watcher",
		Name:      "unresolved_paths_total",
		Help:      "Events printed with a placeholder path.",
	}, []string{"severity"})
	ReadErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fawatch",
		Subsystem: "watcher",
		Name:      "read_errors_total",
		Help:      "Recoverable errors returned by reads of the fanotify group.",
	}, []string{"kind"})
	SSEDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fawatch",
		Subsystem: "sse",
		Name:      "dropped_events_total",
		Help:      "Events not delivered to a slow SSE listener.",
	})
	SSEListeners = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fawatch",
		Subsystem: "sse",
		Name:      "listeners",
		Help:      "Connected SSE listeners.",
	})
)
