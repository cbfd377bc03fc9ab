package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	sagaDomain "github.com/davicafu/sagalab/internal/saga/domain"
)

const recoveryBatch = 100

// RecoverInFlight retoma las sagas no terminales sin actividad desde hace olderThan.
// Si el paso en curso llegó a llamar al colaborador (marca RUNNING) su efecto es
// desconocido: se registra como INTERRUPTED y se compensa, incluido ese paso. Si la
// caída fue entre pasos la saga sigue adelante.
func (o *Orchestrator) RecoverInFlight(ctx context.Context, olderThan time.Duration) (int, error) {
	sagas, err := o.repo.ListInFlight(ctx, o.now().Add(-olderThan), recoveryBatch)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for i := range sagas {
		inst := &sagas[i]
		if err := o.resume(ctx, inst); err != nil {
			if ctx.Err() != nil {
				return recovered, ctx.Err()
			}
			o.log.Error("❌ saga recovery failed",
				zap.String("saga_id", inst.ID),
				zap.String("status", string(inst.Status)),
				zap.Error(err))
			continue
		}
		recovered++
	}

	if recovered > 0 {
		o.log.Info("🔁 in-flight sagas recovered", zap.Int("count", recovered))
	}
	return recovered, nil
}

func (o *Orchestrator) resume(ctx context.Context, inst *sagaDomain.SagaInstance) error {
	o.log.Info("resuming saga",
		zap.String("saga_id", inst.ID),
		zap.String("saga_type", string(inst.SagaType)),
		zap.String("status", string(inst.Status)),
		zap.Int("current_step", inst.CurrentStep))

	if inst.SagaType != sagaDomain.TypeBooking || inst.Status != sagaDomain.StatusStepRunning {
		return o.Run(ctx, inst)
	}

	if inst.CurrentStep >= len(o.plan) {
		return o.confirm(ctx, inst)
	}
	running, ok := inst.RunningStep()
	if !ok {
		return o.runBooking(ctx, inst)
	}
	return o.failStep(ctx, inst, sagaDomain.StepResult{
		Name:       running.Name,
		Kind:       sagaDomain.KindForward,
		Outcome:    sagaDomain.OutcomeInterrupted,
		Error:      "step interrupted before its outcome was recorded",
		StartedAt:  running.StartedAt,
		FinishedAt: o.now(),
	})
}
