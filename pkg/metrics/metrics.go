package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Métricas de proceso. Se registran en el registry por defecto y se exponen en /metrics.
var (
	EventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventstore_events_appended_total",
		Help: "Events appended to the event store, by event type",
	}, []string{"event_type"})

	AppendConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventstore_append_conflicts_total",
		Help: "Optimistic concurrency conflicts detected on append",
	})

	ProductionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_production_transitions_total",
		Help: "Production record status transitions",
	}, []string{"status"})

	ConsumptionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_consumption_transitions_total",
		Help: "Consumption record status transitions",
	}, []string{"status"})

	DuplicateDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_duplicate_deliveries_total",
		Help: "Deliveries skipped because the event was already processed or claimed elsewhere",
	})

	RelayerPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_events_published_total",
		Help: "Events published to the bus by the relayer",
	})

	RelayerPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_publish_errors_total",
		Help: "Failed publish attempts",
	})

	AuditEntriesLogged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_entries_logged_total",
		Help: "Booking events written to the audit log",
	})

	SagaTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_transitions_total",
		Help: "Saga instance status transitions",
	}, []string{"saga_type", "status"})

	SagaManualInterventions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saga_manual_interventions_total",
		Help: "Sagas flagged for manual intervention after a failed compensation",
	})

	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saga_step_duration_seconds",
		Help:    "Duration of saga steps and compensations including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"step", "outcome"})
)
