package application

import (
	"context"

	sagaDomain "github.com/davicafu/sagalab/internal/saga/domain"
	"github.com/davicafu/sagalab/shared/events"
)

// stepOutput es lo que produce una llamada a un colaborador: el payload del evento y
// cómo se aplica a los datos de la saga. Se aplica fuera de la goroutine de la llamada.
type stepOutput struct {
	payload interface{}
	apply   func(d *sagaDomain.SagaData)
}

type action func(ctx context.Context, c sagaDomain.Collaborators, s sagaDomain.SagaInstance) (stepOutput, error)

// step empareja una acción forward con su inversa semántica.
type step struct {
	name         string
	event        string
	compensation string
	undoEvent    string
	execute      action
	undo         action
}

var bookingPlan = []step{
	{
		name:         sagaDomain.StepReserveSeat,
		event:        events.SeatReserved,
		compensation: sagaDomain.CompensationSeatRelease,
		undoEvent:    events.SeatReleased,
		execute:      reserveSeat,
		undo:         releaseSeat,
	},
	{
		name:         sagaDomain.StepCreateBooking,
		event:        events.BookingCreated,
		compensation: sagaDomain.CompensationBookingCancel,
		undoEvent:    events.BookingRecordCancelled,
		execute:      createBooking,
		undo:         cancelBooking,
	},
	{
		name:         sagaDomain.StepChargePayment,
		event:        events.PaymentCharged,
		compensation: sagaDomain.CompensationPaymentRefund,
		undoEvent:    events.PaymentRefunded,
		execute:      chargePayment,
		undo:         refundPayment,
	},
}

func stepByName(plan []step, name string) (step, bool) {
	for _, st := range plan {
		if st.name == name {
			return st, true
		}
	}
	return step{}, false
}

// ---------- Asiento ----------

func reserveSeat(ctx context.Context, c sagaDomain.Collaborators, s sagaDomain.SagaInstance) (stepOutput, error) {
	hold, err := c.Seats.HoldSeat(ctx, sagaDomain.SeatHoldRequest{
		IdempotencyKey: s.IdempotencyKey(sagaDomain.StepReserveSeat),
		TrainID:        s.Request.TrainID,
		UserID:         s.Request.UserID,
		Preference:     s.Request.SeatPreference,
	})
	if err != nil {
		return stepOutput{}, err
	}
	return stepOutput{
		payload: events.SeatReservedPayload{HoldID: hold.HoldID, SeatNumber: hold.SeatNumber, TrainID: s.Request.TrainID},
		apply: func(d *sagaDomain.SagaData) {
			d.HoldID = hold.HoldID
			d.SeatNumber = hold.SeatNumber
		},
	}, nil
}

func releaseSeat(ctx context.Context, c sagaDomain.Collaborators, s sagaDomain.SagaInstance) (stepOutput, error) {
	err := c.Seats.ReleaseSeat(ctx, sagaDomain.SeatReleaseRequest{
		IdempotencyKey: s.IdempotencyKey(sagaDomain.CompensationSeatRelease),
		HoldID:         s.Data.HoldID,
		HoldKey:        s.ForwardKey(sagaDomain.StepReserveSeat),
	})
	if err != nil {
		return stepOutput{}, err
	}
	return stepOutput{
		payload: events.SeatReleasedPayload{HoldID: s.Data.HoldID, SeatNumber: s.Data.SeatNumber},
		apply:   func(*sagaDomain.SagaData) {},
	}, nil
}

// ---------- Registro de reserva ----------

func createBooking(ctx context.Context, c sagaDomain.Collaborators, s sagaDomain.SagaInstance) (stepOutput, error) {
	rec, err := c.Bookings.CreateBooking(ctx, sagaDomain.CreateBookingRequest{
		IdempotencyKey: s.IdempotencyKey(sagaDomain.StepCreateBooking),
		BookingID:      s.BookingID,
		UserID:         s.Request.UserID,
		TrainID:        s.Request.TrainID,
		SeatNumber:     s.Data.SeatNumber,
		PassengerName:  s.Request.PassengerName,
	})
	if err != nil {
		return stepOutput{}, err
	}
	return stepOutput{
		payload: events.BookingCreatedPayload{BookingRef: rec.BookingRef},
		apply:   func(d *sagaDomain.SagaData) { d.BookingRef = rec.BookingRef },
	}, nil
}

func cancelBooking(ctx context.Context, c sagaDomain.Collaborators, s sagaDomain.SagaInstance) (stepOutput, error) {
	err := c.Bookings.CancelBooking(ctx, sagaDomain.CancelBookingRequest{
		IdempotencyKey: s.IdempotencyKey(sagaDomain.CompensationBookingCancel),
		BookingRef:     s.Data.BookingRef,
		CreateKey:      s.ForwardKey(sagaDomain.StepCreateBooking),
	})
	if err != nil {
		return stepOutput{}, err
	}
	return stepOutput{
		payload: events.BookingRecordCancelledPayload{BookingRef: s.Data.BookingRef},
		apply:   func(*sagaDomain.SagaData) {},
	}, nil
}

// ---------- Pago ----------

func chargePayment(ctx context.Context, c sagaDomain.Collaborators, s sagaDomain.SagaInstance) (stepOutput, error) {
	payment, err := c.Payments.Charge(ctx, sagaDomain.ChargeRequest{
		IdempotencyKey: s.IdempotencyKey(sagaDomain.StepChargePayment),
		BookingID:      s.BookingID,
		UserID:         s.Request.UserID,
		Amount:         s.Request.Fare,
		Currency:       s.Request.Currency,
	})
	if err != nil {
		return stepOutput{}, err
	}
	return stepOutput{
		payload: events.PaymentChargedPayload{PaymentID: payment.PaymentID, Amount: payment.Amount, Currency: s.Request.Currency},
		apply: func(d *sagaDomain.SagaData) {
			d.PaymentID = payment.PaymentID
			d.ChargedAmount = payment.Amount
		},
	}, nil
}

func refundPayment(ctx context.Context, c sagaDomain.Collaborators, s sagaDomain.SagaInstance) (stepOutput, error) {
	amount := s.Data.ChargedAmount
	if amount == 0 {
		// Cobro incierto: se pide el reembolso de la tarifa completa
		amount = s.Request.Fare
	}
	refund, err := c.Payments.Refund(ctx, sagaDomain.RefundRequest{
		IdempotencyKey: s.IdempotencyKey(sagaDomain.CompensationPaymentRefund),
		PaymentID:      s.Data.PaymentID,
		ChargeKey:      s.ForwardKey(sagaDomain.StepChargePayment),
		Amount:         amount,
	})
	if err != nil {
		return stepOutput{}, err
	}
	return stepOutput{
		payload: events.PaymentRefundedPayload{PaymentID: s.Data.PaymentID, RefundID: refund.RefundID, Amount: refund.Amount},
		apply:   func(d *sagaDomain.SagaData) { d.RefundID = refund.RefundID },
	}, nil
}
