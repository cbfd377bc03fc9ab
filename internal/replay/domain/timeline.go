package domain

import (
	"fmt"
	"time"

	esDomain "github.com/davicafu/sagalab/internal/eventstore/domain"
	sharedEvents "github.com/davicafu/sagalab/shared/events"
)

// TimelineEntry es una línea legible del historial, sin plegar estado.
type TimelineEntry struct {
	Sequence   int64     `json:"sequence"`
	EventType  string    `json:"eventType"`
	OccurredAt time.Time `json:"occurredAt"`
	Summary    string    `json:"summary"`
}

func NewTimelineEntry(evt esDomain.Event) TimelineEntry {
	return TimelineEntry{
		Sequence:   evt.SequenceNumber,
		EventType:  evt.EventType,
		OccurredAt: evt.OccurredAt,
		Summary:    Summarize(evt),
	}
}

// Summarize describe el evento en una frase. Si el payload no se puede leer
// se devuelve solo el tipo: el timeline nunca falla por un evento.
func Summarize(evt esDomain.Event) string {
	switch evt.EventType {
	case sharedEvents.BookingRequested:
		var p sharedEvents.BookingRequestedPayload
		if decoder.Unmarshal(evt.Payload, &p) == nil {
			return fmt.Sprintf("booking requested by user %d on train %d (%d %s)", p.UserID, p.TrainID, p.Fare, p.Currency)
		}
	case sharedEvents.SeatReserved:
		var p sharedEvents.SeatReservedPayload
		if decoder.Unmarshal(evt.Payload, &p) == nil {
			return fmt.Sprintf("seat %s held (hold %s)", p.SeatNumber, p.HoldID)
		}
	case sharedEvents.BookingCreated:
		var p sharedEvents.BookingCreatedPayload
		if decoder.Unmarshal(evt.Payload, &p) == nil {
			return fmt.Sprintf("booking record %s created", p.BookingRef)
		}
	case sharedEvents.PaymentCharged:
		var p sharedEvents.PaymentChargedPayload
		if decoder.Unmarshal(evt.Payload, &p) == nil {
			return fmt.Sprintf("payment %s charged %d %s", p.PaymentID, p.Amount, p.Currency)
		}
	case sharedEvents.BookingConfirmed:
		return "booking confirmed"
	case sharedEvents.SagaStepFailed:
		var p sharedEvents.StepFailedPayload
		if decoder.Unmarshal(evt.Payload, &p) == nil {
			return fmt.Sprintf("step %s %s after %d attempt(s): %s", p.Step, p.Outcome, p.Attempts, p.Reason)
		}
	case sharedEvents.BookingCancellationRequested:
		return "cancellation requested"
	case sharedEvents.PaymentRefunded:
		var p sharedEvents.PaymentRefundedPayload
		if decoder.Unmarshal(evt.Payload, &p) == nil {
			return fmt.Sprintf("payment %s refunded (refund %s)", p.PaymentID, p.RefundID)
		}
	case sharedEvents.BookingRecordCancelled:
		return "booking record cancelled"
	case sharedEvents.SeatReleased:
		var p sharedEvents.SeatReleasedPayload
		if decoder.Unmarshal(evt.Payload, &p) == nil {
			return fmt.Sprintf("seat %s released", p.SeatNumber)
		}
	case sharedEvents.CompensationFailed:
		var p sharedEvents.CompensationFailedPayload
		if decoder.Unmarshal(evt.Payload, &p) == nil {
			return fmt.Sprintf("compensation %s failed after %d attempt(s), manual intervention required", p.Compensation, p.Attempts)
		}
	case sharedEvents.BookingCancelled:
		var p sharedEvents.BookingCancelledPayload
		if decoder.Unmarshal(evt.Payload, &p) == nil {
			return fmt.Sprintf("booking cancelled: %s", p.Reason)
		}
	}
	return evt.EventType
}
