package logsink

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	auditDomain "github.com/davicafu/sagalab/internal/audit/domain"
)

// DefaultRetentionDays es la ventana de días que se conservan en memoria.
const DefaultRetentionDays = 31

// AuditRepo escribe la auditoría en el log estructurado cuando no hay ClickHouse.
// Mantiene en memoria los contadores diarios de los últimos retention días para poder
// responder a la tendencia; se pierden al reiniciar el proceso.
type AuditRepo struct {
	log       *zap.Logger
	retention int

	mu     sync.Mutex
	seen   map[time.Time]map[string]struct{} // event_id por día: un duplicado cae siempre en el mismo día
	days   map[time.Time]*auditDomain.DailyBookingTrend
	newest time.Time
}

type Option func(*AuditRepo)

// WithRetention fija cuántos días se conservan (mínimo 1).
func WithRetention(days int) Option {
	return func(r *AuditRepo) {
		if days > 0 {
			r.retention = days
		}
	}
}

func NewAuditRepo(log *zap.Logger, opts ...Option) *AuditRepo {
	r := &AuditRepo{
		log:       log.Named("audit"),
		retention: DefaultRetentionDays,
		seen:      make(map[time.Time]map[string]struct{}),
		days:      make(map[time.Time]*auditDomain.DailyBookingTrend),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *AuditRepo) LogBatch(ctx context.Context, entries []auditDomain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range entries {
		r.log.Info("booking event",
			zap.String("event_id", e.EventID),
			zap.String("event_type", e.EventType),
			zap.String("aggregate_id", e.AggregateID),
			zap.String("correlation_id", e.CorrelationID),
			zap.Int64("sequence", e.Sequence),
			zap.Time("occurred_at", e.OccurredAt),
			zap.Time("consumed_at", e.ConsumedAt),
		)

		day := startOfDay(e.OccurredAt)
		if day.After(r.newest) {
			r.newest = day
			r.prune()
		}
		if day.Before(r.cutoff()) {
			continue
		}

		ids, ok := r.seen[day]
		if !ok {
			ids = make(map[string]struct{})
			r.seen[day] = ids
		}
		if _, dup := ids[e.EventID]; dup {
			continue
		}
		ids[e.EventID] = struct{}{}

		bucket, ok := r.days[day]
		if !ok {
			bucket = &auditDomain.DailyBookingTrend{Day: day}
			r.days[day] = bucket
		}
		auditDomain.TrendBucket(bucket, e.EventType)
	}
	return nil
}

// cutoff es el primer día que aún se conserva.
func (r *AuditRepo) cutoff() time.Time {
	return r.newest.AddDate(0, 0, -(r.retention - 1))
}

// prune descarta los días fuera de la ventana. Requiere r.mu.
func (r *AuditRepo) prune() {
	cutoff := r.cutoff()
	for day := range r.days {
		if day.Before(cutoff) {
			delete(r.days, day)
		}
	}
	for day := range r.seen {
		if day.Before(cutoff) {
			delete(r.seen, day)
		}
	}
}

func (r *AuditRepo) GetDailyTrend(ctx context.Context, start, end time.Time) ([]auditDomain.DailyBookingTrend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	trends := make([]auditDomain.DailyBookingTrend, 0, len(r.days))
	for day, bucket := range r.days {
		if day.Before(startOfDay(start)) || !day.Before(end) {
			continue
		}
		trends = append(trends, *bucket)
	}
	sort.Slice(trends, func(i, j int) bool { return trends[i].Day.Before(trends[j].Day) })
	return trends, nil
}

func startOfDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

var _ auditDomain.AuditRepository = (*AuditRepo)(nil)
