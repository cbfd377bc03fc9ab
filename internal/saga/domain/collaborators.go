package domain

import "context"

// Puertos hacia los servicios externos. Todas las peticiones llevan IdempotencyKey:
// repetir la llamada con la misma clave devuelve el mismo resultado sin efecto nuevo.
//
// Errores esperados: ErrDeclined (rechazo de negocio), ErrNothingToCompensate en las
// compensaciones, y cualquier error envolviendo ErrTransientDependency para fallos recuperables.

type SeatService interface {
	HoldSeat(ctx context.Context, req SeatHoldRequest) (SeatHold, error)
	ReleaseSeat(ctx context.Context, req SeatReleaseRequest) error
}

type BookingService interface {
	CreateBooking(ctx context.Context, req CreateBookingRequest) (BookingRecord, error)
	CancelBooking(ctx context.Context, req CancelBookingRequest) error
}

type PaymentService interface {
	Charge(ctx context.Context, req ChargeRequest) (Payment, error)
	Refund(ctx context.Context, req RefundRequest) (Refund, error)
}

// Collaborators agrupa los tres servicios que necesita el orquestador.
type Collaborators struct {
	Seats    SeatService
	Bookings BookingService
	Payments PaymentService
}

type SeatHoldRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	TrainID        int64  `json:"trainId"`
	UserID         int64  `json:"userId"`
	Preference     string `json:"preference,omitempty"`
}

type SeatHold struct {
	HoldID     string `json:"holdId"`
	SeatNumber string `json:"seatNumber"`
}

// SeatReleaseRequest: HoldID puede venir vacío si el hold quedó incierto; el servicio
// lo resuelve por HoldKey (la clave de idempotencia con la que se pidió).
type SeatReleaseRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	HoldID         string `json:"holdId,omitempty"`
	HoldKey        string `json:"holdKey"`
}

type CreateBookingRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	BookingID      string `json:"bookingId"`
	UserID         int64  `json:"userId"`
	TrainID        int64  `json:"trainId"`
	SeatNumber     string `json:"seatNumber"`
	PassengerName  string `json:"passengerName,omitempty"`
}

type BookingRecord struct {
	BookingRef string `json:"bookingRef"`
}

type CancelBookingRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	BookingRef     string `json:"bookingRef,omitempty"`
	CreateKey      string `json:"createKey"`
}

type ChargeRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	BookingID      string `json:"bookingId"`
	UserID         int64  `json:"userId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

type Payment struct {
	PaymentID string `json:"paymentId"`
	Amount    int64  `json:"amount"`
}

type RefundRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	PaymentID      string `json:"paymentId,omitempty"`
	ChargeKey      string `json:"chargeKey"`
	Amount         int64  `json:"amount"`
}

type Refund struct {
	RefundID string `json:"refundId"`
	Amount   int64  `json:"amount"`
}
