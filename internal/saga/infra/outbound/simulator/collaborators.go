package simulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	sagaDomain "github.com/davicafu/sagalab/internal/saga/domain"
)

// Operaciones que se pueden programar con FailNext, FailAlways y Delay.
const (
	OpHoldSeat      = "hold_seat"
	OpReleaseSeat   = "release_seat"
	OpCreateBooking = "create_booking"
	OpCancelBooking = "cancel_booking"
	OpCharge        = "charge"
	OpRefund        = "refund"
)

// Services simula en proceso los servicios de asientos, reservas y pagos.
// Son idempotentes por IdempotencyKey y se pueden programar para fallar o tardar.
type Services struct {
	mu sync.Mutex

	queued map[string][]error
	always map[string]error
	delays map[string]time.Duration
	calls  map[string]int

	holds    map[string]sagaDomain.SeatHold      // por clave del hold
	released map[string]bool                     // holdID
	bookings map[string]sagaDomain.BookingRecord // por clave de creación
	canceled map[string]bool                     // bookingRef
	payments map[string]sagaDomain.Payment       // por clave del cobro
	refunds  map[string]sagaDomain.Refund        // por paymentID

	nextSeat int
}

func New() *Services {
	return &Services{
		queued:   make(map[string][]error),
		always:   make(map[string]error),
		delays:   make(map[string]time.Duration),
		calls:    make(map[string]int),
		holds:    make(map[string]sagaDomain.SeatHold),
		released: make(map[string]bool),
		bookings: make(map[string]sagaDomain.BookingRecord),
		canceled: make(map[string]bool),
		payments: make(map[string]sagaDomain.Payment),
		refunds:  make(map[string]sagaDomain.Refund),
	}
}

func (s *Services) Collaborators() sagaDomain.Collaborators {
	return sagaDomain.Collaborators{Seats: s, Bookings: s, Payments: s}
}

// FailNext encola errores para las próximas llamadas a op, uno por llamada.
func (s *Services) FailNext(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued[op] = append(s.queued[op], errs...)
}

// FailAlways hace fallar todas las llamadas a op. nil lo desactiva.
func (s *Services) FailAlways(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.always, op)
		return
	}
	s.always[op] = err
}

func (s *Services) Delay(op string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[op] = d
}

// Calls cuenta las llamadas recibidas por op, incluidas las fallidas.
func (s *Services) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// ActiveHolds es el número de asientos retenidos y no liberados.
func (s *Services) ActiveHolds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.holds {
		if !s.released[h.HoldID] {
			n++
		}
	}
	return n
}

// NetCharged es lo cobrado menos lo reembolsado.
func (s *Services) NetCharged() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, p := range s.payments {
		total += p.Amount
	}
	for _, r := range s.refunds {
		total -= r.Amount
	}
	return total
}

// enter cuenta la llamada, aplica el retardo y devuelve el fallo programado, si hay.
func (s *Services) enter(ctx context.Context, op string) error {
	s.mu.Lock()
	s.calls[op]++
	delay := s.delays[op]
	var injected error
	if q := s.queued[op]; len(q) > 0 {
		injected, s.queued[op] = q[0], q[1:]
	} else if err, ok := s.always[op]; ok {
		injected = err
	}
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return injected
}

// ---------- Asientos ----------

func (s *Services) HoldSeat(ctx context.Context, req sagaDomain.SeatHoldRequest) (sagaDomain.SeatHold, error) {
	if err := s.enter(ctx, OpHoldSeat); err != nil {
		return sagaDomain.SeatHold{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.holds[req.IdempotencyKey]; ok {
		return h, nil
	}
	s.nextSeat++
	seat := fmt.Sprintf("%d-%02d", req.TrainID, s.nextSeat)
	if req.Preference != "" {
		seat += req.Preference[:1]
	}
	h := sagaDomain.SeatHold{HoldID: "hold-" + uuid.NewString(), SeatNumber: seat}
	s.holds[req.IdempotencyKey] = h
	return h, nil
}

func (s *Services) ReleaseSeat(ctx context.Context, req sagaDomain.SeatReleaseRequest) error {
	if err := s.enter(ctx, OpReleaseSeat); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	holdID := req.HoldID
	if holdID == "" {
		h, ok := s.holds[req.HoldKey]
		if !ok {
			return sagaDomain.ErrNothingToCompensate
		}
		holdID = h.HoldID
	}
	if !s.knownHold(holdID) {
		return sagaDomain.ErrNothingToCompensate
	}
	s.released[holdID] = true
	return nil
}

func (s *Services) knownHold(holdID string) bool {
	for _, h := range s.holds {
		if h.HoldID == holdID {
			return true
		}
	}
	return false
}

// ---------- Reservas ----------

func (s *Services) CreateBooking(ctx context.Context, req sagaDomain.CreateBookingRequest) (sagaDomain.BookingRecord, error) {
	if err := s.enter(ctx, OpCreateBooking); err != nil {
		return sagaDomain.BookingRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.bookings[req.IdempotencyKey]; ok {
		return b, nil
	}
	b := sagaDomain.BookingRecord{BookingRef: "ref-" + req.BookingID}
	s.bookings[req.IdempotencyKey] = b
	return b, nil
}

func (s *Services) CancelBooking(ctx context.Context, req sagaDomain.CancelBookingRequest) error {
	if err := s.enter(ctx, OpCancelBooking); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := req.BookingRef
	if ref == "" {
		b, ok := s.bookings[req.CreateKey]
		if !ok {
			return sagaDomain.ErrNothingToCompensate
		}
		ref = b.BookingRef
	}
	s.canceled[ref] = true
	return nil
}

// ---------- Pagos ----------

func (s *Services) Charge(ctx context.Context, req sagaDomain.ChargeRequest) (sagaDomain.Payment, error) {
	if err := s.enter(ctx, OpCharge); err != nil {
		return sagaDomain.Payment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.payments[req.IdempotencyKey]; ok {
		return p, nil
	}
	p := sagaDomain.Payment{PaymentID: "pay-" + uuid.NewString(), Amount: req.Amount}
	s.payments[req.IdempotencyKey] = p
	return p, nil
}

func (s *Services) Refund(ctx context.Context, req sagaDomain.RefundRequest) (sagaDomain.Refund, error) {
	if err := s.enter(ctx, OpRefund); err != nil {
		return sagaDomain.Refund{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	paymentID := req.PaymentID
	amount := req.Amount
	if paymentID == "" {
		p, ok := s.payments[req.ChargeKey]
		if !ok {
			return sagaDomain.Refund{}, sagaDomain.ErrNothingToCompensate
		}
		paymentID, amount = p.PaymentID, p.Amount
	}
	if r, ok := s.refunds[paymentID]; ok {
		return r, nil
	}
	r := sagaDomain.Refund{RefundID: "rf-" + uuid.NewString(), Amount: amount}
	s.refunds[paymentID] = r
	return r, nil
}

// BookingCancelled indica si la reserva con esa referencia fue cancelada.
func (s *Services) BookingCancelled(ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled[ref]
}
