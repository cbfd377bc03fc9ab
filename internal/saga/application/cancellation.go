package application

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	sagaDomain "github.com/davicafu/sagalab/internal/saga/domain"
	"github.com/davicafu/sagalab/shared/events"
)

// StartCancellationSaga cancela una reserva confirmada con una saga nueva que deshace
// sus pasos. La saga original no se modifica. Cancelar dos veces devuelve la misma saga.
func (o *Orchestrator) StartCancellationSaga(ctx context.Context, sagaID, reason string) (*sagaDomain.SagaInstance, error) {
	orig, err := o.repo.GetByID(ctx, sagaID)
	if err != nil {
		return nil, err
	}

	fingerprint := sagaDomain.CancellationFingerprint(orig.ID)
	existing, err := o.repo.GetByFingerprint(ctx, fingerprint)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sagaDomain.ErrSagaNotFound) {
		return nil, err
	}

	if orig.SagaType != sagaDomain.TypeBooking || orig.Status != sagaDomain.StatusCompleted {
		return nil, fmt.Errorf("%w: saga %s is %s %s", sagaDomain.ErrNotCancellable, orig.ID, orig.SagaType, orig.Status)
	}

	req := orig.Request
	req.IdempotencyKey = ""
	req.CorrelationID = ""

	inst := sagaDomain.NewSagaInstance(o.newID(), sagaDomain.TypeBookingCancellation, fingerprint, req, o.now())
	inst.BookingID = orig.BookingID
	inst.Data = orig.Data
	inst.Data.OriginalSagaID = orig.ID
	inst.Data.CancelReason = reason

	inst, created, err := o.create(ctx, inst)
	if err != nil {
		return nil, err
	}
	if !created {
		return inst, nil
	}
	if err := o.Run(ctx, inst); err != nil {
		return inst, err
	}
	return inst, nil
}

func (o *Orchestrator) runCancellation(ctx context.Context, inst *sagaDomain.SagaInstance) error {
	if inst.Status == sagaDomain.StatusStarted {
		if err := o.emit(ctx, inst, events.BookingCancellationRequested, "", events.BookingCancellationRequestedPayload{
			SagaID:         inst.ID,
			OriginalSagaID: inst.Data.OriginalSagaID,
			Reason:         inst.Data.CancelReason,
		}); err != nil {
			return err
		}
		o.transition(inst, sagaDomain.StatusStepRunning)
		if err := o.save(ctx, inst); err != nil {
			return err
		}
	}

	for i := len(o.plan) - 1; i >= 0; i-- {
		st := o.plan[i]
		if _, done := inst.Result(st.compensation); done {
			continue
		}
		inst.CurrentStep = len(o.plan) - 1 - i
		if err := o.undoStep(ctx, inst, st); err != nil {
			return err
		}
	}
	inst.CurrentStep = len(o.plan)

	if err := o.emit(ctx, inst, events.BookingCancelled, "", events.BookingCancelledPayload{
		SagaID:             inst.ID,
		Reason:             inst.Data.CancelReason,
		ManualIntervention: inst.ManualIntervention,
	}); err != nil {
		return err
	}

	final := sagaDomain.StatusCompleted
	if inst.ManualIntervention {
		final = sagaDomain.StatusFailed
		inst.FailureReason = "cancellation left compensations pending"
	}
	o.transition(inst, final)
	if err := o.save(ctx, inst); err != nil {
		return err
	}
	o.log.Info("🧾 booking cancellation finished",
		zap.String("saga_id", inst.ID),
		zap.String("original_saga_id", inst.Data.OriginalSagaID),
		zap.String("status", string(inst.Status)))
	o.cacheTerminal(inst)
	return nil
}
