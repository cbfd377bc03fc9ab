package domain

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	esDomain "github.com/davicafu/sagalab/internal/eventstore/domain"
	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	sharedEvents "github.com/davicafu/sagalab/shared/events"
)

type BookingStatus string

const (
	StatusNone         BookingStatus = ""
	StatusRequested    BookingStatus = "REQUESTED"
	StatusSeatHeld     BookingStatus = "SEAT_HELD"
	StatusBooked       BookingStatus = "BOOKED"
	StatusPaid         BookingStatus = "PAID"
	StatusConfirmed    BookingStatus = "CONFIRMED"
	StatusCompensating BookingStatus = "COMPENSATING"
	StatusCancelling   BookingStatus = "CANCELLING"
	StatusCancelled    BookingStatus = "CANCELLED"
)

var (
	ErrAggregateNotFound = fmt.Errorf("%w: aggregate has no events", sharedDomain.ErrNotFound)
	ErrCorruptEvent      = fmt.Errorf("%w: event payload cannot be applied", sharedDomain.ErrPermanentFailure)
	ErrSequenceGap       = fmt.Errorf("%w: event stream is not contiguous", sharedDomain.ErrPermanentFailure)
	ErrReadModelDrift    = fmt.Errorf("%w: read model differs from replayed state", sharedDomain.ErrConflict)
)

// BookingState es la proyección de un agregado booking. Solo contiene valores
// (sin mapas ni punteros) para que dos replays se puedan comparar con ==.
type BookingState struct {
	BookingID          string        `json:"bookingId"`
	SagaID             string        `json:"sagaId"`
	UserID             int64         `json:"userId"`
	TrainID            int64         `json:"trainId"`
	Fare               int64         `json:"fare"`
	Currency           string        `json:"currency"`
	SeatNumber         string        `json:"seatNumber,omitempty"`
	HoldID             string        `json:"holdId,omitempty"`
	BookingRef         string        `json:"bookingRef,omitempty"`
	PaymentID          string        `json:"paymentId,omitempty"`
	ChargedAmount      int64         `json:"chargedAmount"`
	RefundID           string        `json:"refundId,omitempty"`
	Status             BookingStatus `json:"status"`
	FailureReason      string        `json:"failureReason,omitempty"`
	ManualIntervention bool          `json:"manualIntervention"`
	RecordCancelled    bool          `json:"recordCancelled"`
	SeatReleased       bool          `json:"seatReleased"`
	Version            int64         `json:"version"`
	EventCount         int           `json:"eventCount"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

var decoder = jsoniter.ConfigCompatibleWithStandardLibrary

// Apply es la función de transición: no hace IO ni lee el reloj.
// Los tipos desconocidos se ignoran pero la versión avanza igualmente.
func Apply(s BookingState, evt esDomain.Event) (BookingState, error) {
	if evt.SequenceNumber != s.Version+1 {
		return s, fmt.Errorf("%w: expected sequence %d, got %d", ErrSequenceGap, s.Version+1, evt.SequenceNumber)
	}

	next := s
	if next.BookingID == "" {
		next.BookingID = evt.AggregateID
		next.CreatedAt = evt.OccurredAt
	}

	var err error
	switch evt.EventType {
	case sharedEvents.BookingRequested:
		var p sharedEvents.BookingRequestedPayload
		if err = decode(evt, &p); err == nil {
			next.SagaID = p.SagaID
			next.UserID = p.UserID
			next.TrainID = p.TrainID
			next.Fare = p.Fare
			next.Currency = p.Currency
			next.Status = StatusRequested
		}

	case sharedEvents.SeatReserved:
		var p sharedEvents.SeatReservedPayload
		if err = decode(evt, &p); err == nil {
			next.HoldID = p.HoldID
			next.SeatNumber = p.SeatNumber
			next.SeatReleased = false
			next.Status = StatusSeatHeld
		}

	case sharedEvents.BookingCreated:
		var p sharedEvents.BookingCreatedPayload
		if err = decode(evt, &p); err == nil {
			next.BookingRef = p.BookingRef
			next.Status = StatusBooked
		}

	case sharedEvents.PaymentCharged:
		var p sharedEvents.PaymentChargedPayload
		if err = decode(evt, &p); err == nil {
			next.PaymentID = p.PaymentID
			next.ChargedAmount = p.Amount
			next.Status = StatusPaid
		}

	case sharedEvents.BookingConfirmed:
		next.Status = StatusConfirmed

	case sharedEvents.SagaStepFailed:
		var p sharedEvents.StepFailedPayload
		if err = decode(evt, &p); err == nil {
			next.FailureReason = fmt.Sprintf("%s %s: %s", p.Step, p.Outcome, p.Reason)
			next.Status = StatusCompensating
		}

	case sharedEvents.BookingCancellationRequested:
		var p sharedEvents.BookingCancellationRequestedPayload
		if err = decode(evt, &p); err == nil {
			next.SagaID = p.SagaID
			next.FailureReason = p.Reason
			next.Status = StatusCancelling
		}

	case sharedEvents.PaymentRefunded:
		var p sharedEvents.PaymentRefundedPayload
		if err = decode(evt, &p); err == nil {
			next.RefundID = p.RefundID
			next.ChargedAmount -= p.Amount
			next.Status = undoing(next.Status)
		}

	case sharedEvents.BookingRecordCancelled:
		next.RecordCancelled = true
		next.Status = undoing(next.Status)

	case sharedEvents.SeatReleased:
		next.SeatReleased = true
		next.Status = undoing(next.Status)

	case sharedEvents.CompensationFailed:
		next.ManualIntervention = true

	case sharedEvents.BookingCancelled:
		var p sharedEvents.BookingCancelledPayload
		if err = decode(evt, &p); err == nil {
			if next.FailureReason == "" {
				next.FailureReason = p.Reason
			}
			next.ManualIntervention = next.ManualIntervention || p.ManualIntervention
			next.Status = StatusCancelled
		}

	default:
		// Tipo desconocido (versión posterior del productor)
	}
	if err != nil {
		return s, err
	}

	next.Version = evt.SequenceNumber
	next.EventCount++
	next.UpdatedAt = evt.OccurredAt
	return next, nil
}

// Fold pliega un stream completo partiendo del estado vacío.
func Fold(events []esDomain.Event) (BookingState, error) {
	var s BookingState
	for _, evt := range events {
		var err error
		if s, err = Apply(s, evt); err != nil {
			return BookingState{}, err
		}
	}
	return s, nil
}

// undoing mantiene CANCELLING en una cancelación voluntaria y pasa a COMPENSATING en el resto.
func undoing(current BookingStatus) BookingStatus {
	if current == StatusCancelling || current == StatusCancelled {
		return current
	}
	return StatusCompensating
}

func decode(evt esDomain.Event, v interface{}) error {
	if err := decoder.Unmarshal(evt.Payload, v); err != nil {
		return fmt.Errorf("%w: %s #%d: %v", ErrCorruptEvent, evt.EventType, evt.SequenceNumber, err)
	}
	return nil
}
