package domain

import (
	"errors"
	"fmt"
	"time"

	sharedDomain "github.com/davicafu/sagalab/shared/domain"
)

type SagaStatus string

const (
	StatusStarted      SagaStatus = "STARTED"
	StatusStepRunning  SagaStatus = "STEP_RUNNING"
	StatusCompensating SagaStatus = "COMPENSATING"
	StatusCompleted    SagaStatus = "COMPLETED"
	StatusFailed       SagaStatus = "FAILED"
)

func (s SagaStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type SagaType string

const (
	TypeBooking             SagaType = "BOOKING"
	TypeBookingCancellation SagaType = "BOOKING_CANCELLATION"
)

type StepKind string

const (
	KindForward      StepKind = "FORWARD"
	KindCompensation StepKind = "COMPENSATION"
)

type StepOutcome string

const (
	OutcomeRunning            StepOutcome = "RUNNING" // marca previa a la llamada al colaborador
	OutcomeSuccess            StepOutcome = "SUCCESS"
	OutcomeFailed             StepOutcome = "FAILED"
	OutcomeTimeout            StepOutcome = "TIMEOUT"
	OutcomeDeclined           StepOutcome = "DECLINED"
	OutcomeInterrupted        StepOutcome = "INTERRUPTED" // el proceso murió a mitad del paso
	OutcomeCompensated        StepOutcome = "COMPENSATED"
	OutcomeCompensationFailed StepOutcome = "COMPENSATION_FAILED"
)

// Uncertain indica que el efecto del paso en el colaborador es desconocido.
func (o StepOutcome) Uncertain() bool {
	return o == OutcomeTimeout || o == OutcomeInterrupted || o == OutcomeRunning
}

// Nombres de pasos y compensaciones.
const (
	StepReserveSeat   = "RESERVE_SEAT"
	StepCreateBooking = "CREATE_BOOKING"
	StepChargePayment = "CHARGE_PAYMENT"

	CompensationPaymentRefund = "PAYMENT_REFUND"
	CompensationBookingCancel = "BOOKING_CANCEL"
	CompensationSeatRelease   = "SEAT_RELEASE"
)

var (
	ErrSagaNotFound        = fmt.Errorf("%w: saga", sharedDomain.ErrNotFound)
	ErrSagaVersionConflict = fmt.Errorf("%w: saga was updated concurrently", sharedDomain.ErrConflict)
	ErrDuplicateSaga       = fmt.Errorf("%w: saga already exists for this fingerprint", sharedDomain.ErrConflict)
	ErrInvalidRequest      = fmt.Errorf("%w: invalid booking request", sharedDomain.ErrValidation)
	ErrNotCancellable      = fmt.Errorf("%w: saga cannot be cancelled", sharedDomain.ErrConflict)

	// ErrStepTimeout: el colaborador no respondió dentro de StepTimeout.
	ErrStepTimeout = fmt.Errorf("%w: collaborator call timed out", sharedDomain.ErrTransientDependency)

	// ErrDeclined es un rechazo de negocio (pago denegado, sin asientos): no se reintenta.
	ErrDeclined = errors.New("declined by collaborator")

	// ErrNothingToCompensate: el colaborador no tiene nada que deshacer; cuenta como compensado.
	ErrNothingToCompensate = errors.New("nothing to compensate")
)

// StepResult es una entrada del historial de la saga.
type StepResult struct {
	Name       string      `json:"name"`
	Kind       StepKind    `json:"kind"`
	Outcome    StepOutcome `json:"outcome"`
	Attempts   int         `json:"attempts"`
	EventType  string      `json:"eventType,omitempty"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`
}

// SagaData acumula lo que devuelven los colaboradores.
type SagaData struct {
	HoldID         string `json:"holdId,omitempty"`
	SeatNumber     string `json:"seatNumber,omitempty"`
	BookingRef     string `json:"bookingRef,omitempty"`
	PaymentID      string `json:"paymentId,omitempty"`
	ChargedAmount  int64  `json:"chargedAmount,omitempty"`
	RefundID       string `json:"refundId,omitempty"`
	OriginalSagaID string `json:"originalSagaId,omitempty"`
	CancelReason   string `json:"cancelReason,omitempty"`
}

type SagaInstance struct {
	ID                 string         `json:"id"`
	CorrelationID      string         `json:"correlationId"`
	Fingerprint        string         `json:"fingerprint"`
	SagaType           SagaType       `json:"sagaType"`
	BookingID          string         `json:"bookingId"`
	Request            BookingRequest `json:"request"`
	Data               SagaData       `json:"data"`
	CurrentStep        int            `json:"currentStep"`
	Status             SagaStatus     `json:"status"`
	StepResults        []StepResult   `json:"stepResults"`
	FailureReason      string         `json:"failureReason,omitempty"`
	ManualIntervention bool           `json:"manualIntervention"`
	Version            int64          `json:"version"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

func NewSagaInstance(id string, sagaType SagaType, fingerprint string, req BookingRequest, now time.Time) *SagaInstance {
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = id
	}
	return &SagaInstance{
		ID:            id,
		CorrelationID: correlationID,
		Fingerprint:   fingerprint,
		SagaType:      sagaType,
		BookingID:     req.BookingID,
		Request:       req,
		Status:        StatusStarted,
		StepResults:   []StepResult{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IdempotencyKey es la clave que viaja al colaborador en cada llamada de un paso.
// Es estable entre reintentos y tras un reinicio, así el colaborador deduplica.
func (s *SagaInstance) IdempotencyKey(step string) string {
	return s.ID + ":" + step
}

// ForwardKey es la clave con la que se ejecutó un paso forward. En una cancelación
// apunta a la saga original, que es quien hizo la reserva.
func (s *SagaInstance) ForwardKey(step string) string {
	if s.Data.OriginalSagaID != "" {
		return s.Data.OriginalSagaID + ":" + step
	}
	return s.IdempotencyKey(step)
}

// Record añade un resultado. Si el último es la marca RUNNING del mismo paso la sustituye.
func (s *SagaInstance) Record(r StepResult) {
	if n := len(s.StepResults); n > 0 {
		last := s.StepResults[n-1]
		if last.Outcome == OutcomeRunning && last.Name == r.Name && last.Kind == r.Kind {
			s.StepResults[n-1] = r
			return
		}
	}
	s.StepResults = append(s.StepResults, r)
}

// MarkRunning deja constancia de que el paso va a llamar al colaborador.
func (s *SagaInstance) MarkRunning(name string, kind StepKind, at time.Time) {
	s.Record(StepResult{Name: name, Kind: kind, Outcome: OutcomeRunning, StartedAt: at})
}

// RunningStep devuelve la marca RUNNING pendiente, si la hay.
func (s *SagaInstance) RunningStep() (StepResult, bool) {
	if n := len(s.StepResults); n > 0 && s.StepResults[n-1].Outcome == OutcomeRunning {
		return s.StepResults[n-1], true
	}
	return StepResult{}, false
}

// Result devuelve el último resultado registrado con ese nombre.
func (s *SagaInstance) Result(name string) (StepResult, bool) {
	for i := len(s.StepResults) - 1; i >= 0; i-- {
		if s.StepResults[i].Name == name {
			return s.StepResults[i], true
		}
	}
	return StepResult{}, false
}

// ToUndo lista los pasos forward a compensar, en orden inverso de ejecución:
// los completados y los de efecto incierto.
func (s *SagaInstance) ToUndo() []string {
	var names []string
	for i := len(s.StepResults) - 1; i >= 0; i-- {
		r := s.StepResults[i]
		if r.Kind != KindForward {
			continue
		}
		if r.Outcome == OutcomeSuccess || r.Outcome.Uncertain() {
			names = append(names, r.Name)
		}
	}
	return names
}

// SnapshotCopy devuelve una copia independiente (el slice de resultados no se comparte).
func (s *SagaInstance) SnapshotCopy() *SagaInstance {
	cp := *s
	cp.StepResults = append([]StepResult(nil), s.StepResults...)
	return &cp
}
