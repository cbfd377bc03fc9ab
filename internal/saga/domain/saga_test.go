package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	sharedDomain "github.com/davicafu/sagalab/shared/domain"
)

func TestFingerprint_Priority(t *testing.T) {
	base := BookingRequest{UserID: 100, TrainID: 5, Fare: 500}

	withKey := base
	withKey.IdempotencyKey = "idem-1"
	withKey.CorrelationID = "corr-1"
	assert.Equal(t, "key:idem-1", Fingerprint(withKey))

	withCorrelation := base
	withCorrelation.CorrelationID = "corr-1"
	withCorrelation.BookingID = "bk-1"
	assert.Equal(t, "correlation:corr-1", Fingerprint(withCorrelation))

	withBooking := base
	withBooking.BookingID = "bk-1"
	assert.Equal(t, "booking:bk-1", Fingerprint(withBooking))

	assert.Contains(t, Fingerprint(base), "sha256:")
}

func TestFingerprint_ContentHashIsStable(t *testing.T) {
	a := BookingRequest{UserID: 100, TrainID: 5, Fare: 500}
	b := BookingRequest{UserID: 100, TrainID: 5, Fare: 500, Currency: " eur "}
	c := BookingRequest{UserID: 100, TrainID: 5, Fare: 501}

	assert.Equal(t, Fingerprint(a), Fingerprint(b), "la moneda por defecto y la normalización no cambian la huella")
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
}

func TestBookingRequest_Validate(t *testing.T) {
	assert.NoError(t, BookingRequest{UserID: 1, TrainID: 1, Fare: 1}.Validate())

	err := BookingRequest{TrainID: 1}.Validate()
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.True(t, sharedDomain.IsValidation(err))
	assert.Contains(t, err.Error(), "userId")
	assert.Contains(t, err.Error(), "fare")
}

func TestSagaInstance_ToUndo(t *testing.T) {
	s := NewSagaInstance("saga-1", TypeBooking, "key:x", BookingRequest{UserID: 1, TrainID: 1, Fare: 1}, time.Now())
	assert.Equal(t, "saga-1", s.CorrelationID)

	s.Record(StepResult{Name: StepReserveSeat, Kind: KindForward, Outcome: OutcomeSuccess})
	s.Record(StepResult{Name: StepCreateBooking, Kind: KindForward, Outcome: OutcomeSuccess})
	s.Record(StepResult{Name: StepChargePayment, Kind: KindForward, Outcome: OutcomeTimeout})
	assert.Equal(t, []string{StepChargePayment, StepCreateBooking, StepReserveSeat}, s.ToUndo())

	s.StepResults[2].Outcome = OutcomeDeclined
	assert.Equal(t, []string{StepCreateBooking, StepReserveSeat}, s.ToUndo())

	last, ok := s.Result(StepChargePayment)
	assert.True(t, ok)
	assert.Equal(t, OutcomeDeclined, last.Outcome)
	_, ok = s.Result(CompensationSeatRelease)
	assert.False(t, ok)
}

func TestSagaInstance_RunningMarker(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewSagaInstance("saga-1", TypeBooking, "key:a", BookingRequest{}, at)

	_, ok := s.RunningStep()
	assert.False(t, ok)

	s.MarkRunning(StepReserveSeat, KindForward, at)
	running, ok := s.RunningStep()
	assert.True(t, ok)
	assert.Equal(t, StepReserveSeat, running.Name)
	assert.Equal(t, []string{StepReserveSeat}, s.ToUndo(), "una marca sin resultado es incierta")

	s.Record(StepResult{Name: StepReserveSeat, Kind: KindForward, Outcome: OutcomeSuccess, StartedAt: at})
	assert.Len(t, s.StepResults, 1, "el resultado sustituye a la marca")
	_, ok = s.RunningStep()
	assert.False(t, ok)

	s.MarkRunning(StepCreateBooking, KindForward, at)
	s.Record(StepResult{Name: StepReserveSeat, Kind: KindCompensation, Outcome: OutcomeCompensated})
	assert.Len(t, s.StepResults, 3, "un resultado de otro paso no pisa la marca")
}

func TestSagaInstance_SnapshotCopyIsIndependent(t *testing.T) {
	s := NewSagaInstance("saga-2", TypeBooking, "key:y", BookingRequest{}, time.Now())
	s.Record(StepResult{Name: StepReserveSeat})

	cp := s.SnapshotCopy()
	cp.Record(StepResult{Name: StepCreateBooking})
	cp.StepResults[0].Outcome = OutcomeFailed

	assert.Len(t, s.StepResults, 1)
	assert.Empty(t, s.StepResults[0].Outcome)
}

func TestSagaStatus_Terminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusCompensating.Terminal())
	assert.False(t, StatusStepRunning.Terminal())
}
