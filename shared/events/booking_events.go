package events

// Contratos de integración del agregado booking. La saga los escribe en el Event Store
// y el servicio de replay los pliega para reconstruir el estado.

const (
	BookingAggregateType = "booking"
	BookingTopic         = "booking-events"
)

// Tipos de evento del agregado booking.
const (
	BookingRequested       = "BOOKING_REQUESTED"
	SeatReserved           = "SEAT_RESERVED"
	BookingCreated         = "BOOKING_CREATED"
	PaymentCharged         = "PAYMENT_CHARGED"
	BookingConfirmed       = "BOOKING_CONFIRMED"
	SagaStepFailed         = "SAGA_STEP_FAILED"
	PaymentRefunded        = "PAYMENT_REFUNDED"
	BookingRecordCancelled = "BOOKING_RECORD_CANCELLED"
	SeatReleased           = "SEAT_RELEASED"
	CompensationFailed     = "COMPENSATION_FAILED"
	BookingCancelled       = "BOOKING_CANCELLED"

	// Cancelación de una reserva ya confirmada (saga BOOKING_CANCELLATION).
	BookingCancellationRequested = "BOOKING_CANCELLATION_REQUESTED"
)

type BookingRequestedPayload struct {
	SagaID         string `json:"sagaId"`
	SagaType       string `json:"sagaType"`
	UserID         int64  `json:"userId"`
	TrainID        int64  `json:"trainId"`
	Fare           int64  `json:"fare"`
	Currency       string `json:"currency"`
	PassengerName  string `json:"passengerName,omitempty"`
	SeatPreference string `json:"seatPreference,omitempty"`
}

type SeatReservedPayload struct {
	HoldID     string `json:"holdId"`
	SeatNumber string `json:"seatNumber"`
	TrainID    int64  `json:"trainId"`
}

type BookingCreatedPayload struct {
	BookingRef string `json:"bookingRef"`
}

type PaymentChargedPayload struct {
	PaymentID string `json:"paymentId"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

type BookingConfirmedPayload struct {
	SagaID string `json:"sagaId"`
}

type StepFailedPayload struct {
	Step     string `json:"step"`
	Outcome  string `json:"outcome"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason"`
}

type PaymentRefundedPayload struct {
	PaymentID string `json:"paymentId"`
	RefundID  string `json:"refundId"`
	Amount    int64  `json:"amount"`
}

type BookingRecordCancelledPayload struct {
	BookingRef string `json:"bookingRef"`
}

type SeatReleasedPayload struct {
	HoldID     string `json:"holdId"`
	SeatNumber string `json:"seatNumber"`
}

type CompensationFailedPayload struct {
	Compensation string `json:"compensation"`
	Attempts     int    `json:"attempts"`
	Reason       string `json:"reason"`
}

type BookingCancelledPayload struct {
	SagaID             string `json:"sagaId"`
	Reason             string `json:"reason"`
	ManualIntervention bool   `json:"manualIntervention"`
}

type BookingCancellationRequestedPayload struct {
	SagaID         string `json:"sagaId"`
	OriginalSagaID string `json:"originalSagaId"`
	Reason         string `json:"reason,omitempty"`
}
