package domain

import (
	"context"
	"fmt"
	"time"

	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	"github.com/davicafu/sagalab/shared/events"
)

var ErrInvalidRange = fmt.Errorf("%w: invalid time range", sharedDomain.ErrValidation)

// ErrAuditUnavailable envuelve los fallos del almacén analítico: el consumidor reintenta.
var ErrAuditUnavailable = fmt.Errorf("%w: audit store unavailable", sharedDomain.ErrTransientDependency)

// AuditEntry es una fila del log de auditoría de eventos de reserva consumidos.
type AuditEntry struct {
	EventID       string    `json:"eventId"`
	EventType     string    `json:"eventType"`
	AggregateID   string    `json:"aggregateId"`
	CorrelationID string    `json:"correlationId"`
	Sequence      int64     `json:"sequence"`
	Payload       string    `json:"payload"`
	OccurredAt    time.Time `json:"occurredAt"`
	ConsumedAt    time.Time `json:"consumedAt"`
}

func NewAuditEntry(evt events.IntegrationEvent, consumedAt time.Time) (AuditEntry, error) {
	if err := evt.Validate(); err != nil {
		return AuditEntry{}, err
	}
	occurred := evt.Timestamp
	if occurred.IsZero() {
		occurred = consumedAt
	}
	return AuditEntry{
		EventID:       evt.ID,
		EventType:     evt.Type,
		AggregateID:   evt.AggregateID,
		CorrelationID: evt.CorrelationID,
		Sequence:      evt.Sequence,
		Payload:       string(evt.Data),
		OccurredAt:    occurred.UTC(),
		ConsumedAt:    consumedAt.UTC(),
	}, nil
}

// DailyBookingTrend agrega por día las reservas solicitadas, confirmadas y canceladas.
type DailyBookingTrend struct {
	Day            time.Time `json:"day"`
	RequestedCount int       `json:"requested"`
	ConfirmedCount int       `json:"confirmed"`
	CancelledCount int       `json:"cancelled"`
}

type AuditRepository interface {
	LogBatch(ctx context.Context, entries []AuditEntry) error
	GetDailyTrend(ctx context.Context, start, end time.Time) ([]DailyBookingTrend, error)
}

// TrendBucket decide a qué contador del día suma un tipo de evento.
func TrendBucket(t *DailyBookingTrend, eventType string) {
	switch eventType {
	case events.BookingRequested:
		t.RequestedCount++
	case events.BookingConfirmed:
		t.ConfirmedCount++
	case events.BookingCancelled:
		t.CancelledCount++
	}
}

func ValidateRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return fmt.Errorf("%w: start=%s end=%s", ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return nil
}
