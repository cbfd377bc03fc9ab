package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	esApp "github.com/davicafu/sagalab/internal/eventstore/application"
	esDomain "github.com/davicafu/sagalab/internal/eventstore/domain"
	sagaDomain "github.com/davicafu/sagalab/internal/saga/domain"
	trackingDomain "github.com/davicafu/sagalab/internal/tracking/domain"
	"github.com/davicafu/sagalab/pkg/metrics"
	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	"github.com/davicafu/sagalab/shared/events"
	"github.com/davicafu/sagalab/shared/platform/cache"
	sharedQuery "github.com/davicafu/sagalab/shared/platform/query"
	sharedUtils "github.com/davicafu/sagalab/shared/utils"
)

// EventAppender es la parte del Event Store que usa la saga.
type EventAppender interface {
	AppendWithRetry(ctx context.Context, cmd esApp.AppendCommand) (*esDomain.Event, error)
}

// ProductionLogger registra el evento para que el relayer lo publique.
type ProductionLogger interface {
	LogEventProduction(ctx context.Context, topic, key string, evt events.IntegrationEvent) (*trackingDomain.ProductionRecord, error)
}

// Namespace de los IDs de evento de la saga: el mismo hecho siempre tiene el mismo ID.
var sagaEventNamespace = uuid.MustParse("6f1c2f44-3c1e-4c55-9a4a-0b8d3f1e2a77")

type Orchestrator struct {
	repo    sagaDomain.SagaRepository
	collab  sagaDomain.Collaborators
	events  EventAppender
	tracker ProductionLogger
	cache   cache.Cache
	cfg     Config
	plan    []step
	clock   func() time.Time
	newID   func() string
	log     *zap.Logger
}

func NewOrchestrator(
	repo sagaDomain.SagaRepository,
	collab sagaDomain.Collaborators,
	appender EventAppender,
	tracker ProductionLogger,
	cfg Config,
	log *zap.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		repo:    repo,
		collab:  collab,
		events:  appender,
		tracker: tracker,
		cfg:     cfg.withDefaults(),
		plan:    bookingPlan,
		clock:   time.Now,
		newID:   defaultID,
		log:     log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartBookingSaga arranca (o devuelve, si ya existe) la saga de la petición y la ejecuta
// hasta un estado terminal. Un duplicado devuelve la instancia existente sin ejecutar nada.
func (o *Orchestrator) StartBookingSaga(ctx context.Context, req sagaDomain.BookingRequest) (*sagaDomain.SagaInstance, error) {
	inst, created, err := o.Begin(ctx, req)
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

// Begin persiste la saga en STARTED. created=false si ya había una con la misma huella.
func (o *Orchestrator) Begin(ctx context.Context, req sagaDomain.BookingRequest) (*sagaDomain.SagaInstance, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}
	req = req.Normalized()
	fingerprint := sagaDomain.Fingerprint(req)

	existing, err := o.repo.GetByFingerprint(ctx, fingerprint)
	if err == nil {
		o.log.Info("♻️ duplicate booking request", zap.String("saga_id", existing.ID), zap.String("fingerprint", fingerprint))
		return existing, false, nil
	}
	if !errors.Is(err, sagaDomain.ErrSagaNotFound) {
		return nil, false, err
	}

	id := o.newID()
	if req.BookingID == "" {
		req.BookingID = "bk-" + id
	}
	inst := sagaDomain.NewSagaInstance(id, sagaDomain.TypeBooking, fingerprint, req, o.now())
	return o.create(ctx, inst)
}

func (o *Orchestrator) create(ctx context.Context, inst *sagaDomain.SagaInstance) (*sagaDomain.SagaInstance, bool, error) {
	if err := o.repo.Create(ctx, inst); err != nil {
		if errors.Is(err, sagaDomain.ErrDuplicateSaga) {
			// Otro arranque ganó la carrera por la huella
			existing, getErr := o.repo.GetByFingerprint(ctx, inst.Fingerprint)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	metrics.SagaTransitions.WithLabelValues(string(inst.SagaType), string(inst.Status)).Inc()
	o.log.Info("🚀 saga started",
		zap.String("saga_id", inst.ID),
		zap.String("saga_type", string(inst.SagaType)),
		zap.String("booking_id", inst.BookingID))
	return inst, true, nil
}

// Run ejecuta la saga desde su estado persistido hasta un estado terminal.
// Si ctx se cancela a mitad la saga queda en vuelo para RecoverInFlight.
func (o *Orchestrator) Run(ctx context.Context, inst *sagaDomain.SagaInstance) error {
	if inst.Status.Terminal() {
		return nil
	}
	switch inst.SagaType {
	case sagaDomain.TypeBooking:
		return o.runBooking(ctx, inst)
	case sagaDomain.TypeBookingCancellation:
		return o.runCancellation(ctx, inst)
	default:
		return fmt.Errorf("%w: unknown saga type %q", sharedDomain.ErrPermanentFailure, inst.SagaType)
	}
}

func (o *Orchestrator) runBooking(ctx context.Context, inst *sagaDomain.SagaInstance) error {
	if inst.Status == sagaDomain.StatusCompensating {
		return o.compensate(ctx, inst, inst.FailureReason)
	}
	if inst.Status == sagaDomain.StatusStarted {
		if err := o.emit(ctx, inst, events.BookingRequested, "", requestedPayload(inst)); err != nil {
			return err
		}
	}

	for i := inst.CurrentStep; i < len(o.plan); i++ {
		st := o.plan[i]

		o.transition(inst, sagaDomain.StatusStepRunning)
		inst.CurrentStep = i
		inst.MarkRunning(st.name, sagaDomain.KindForward, o.now())
		if err := o.save(ctx, inst); err != nil {
			return err
		}

		out, res, err := o.attempt(ctx, inst, st.name, sagaDomain.KindForward, o.cfg.StepRetries, st.execute)
		if ctx.Err() != nil {
			o.log.Warn("⏸️ saga interrupted", zap.String("saga_id", inst.ID), zap.String("step", st.name))
			return ctx.Err()
		}
		if err != nil {
			return o.failStep(ctx, inst, res)
		}

		out.apply(&inst.Data)
		res.EventType = st.event
		inst.Record(res)
		if err := o.emit(ctx, inst, st.event, st.name, out.payload); err != nil {
			return err
		}
		inst.CurrentStep = i + 1
		if err := o.save(ctx, inst); err != nil {
			return err
		}
	}

	return o.confirm(ctx, inst)
}

// failStep registra el paso fallido y arranca la compensación.
func (o *Orchestrator) failStep(ctx context.Context, inst *sagaDomain.SagaInstance, res sagaDomain.StepResult) error {
	res.EventType = events.SagaStepFailed
	inst.Record(res)
	o.log.Warn("⚠️ saga step failed",
		zap.String("saga_id", inst.ID),
		zap.String("step", res.Name),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("attempts", res.Attempts),
		zap.String("error", res.Error))

	if err := o.emit(ctx, inst, events.SagaStepFailed, res.Name, events.StepFailedPayload{
		Step:     res.Name,
		Outcome:  string(res.Outcome),
		Attempts: res.Attempts,
		Reason:   res.Error,
	}); err != nil {
		return err
	}
	return o.compensate(ctx, inst, fmt.Sprintf("%s %s: %s", res.Name, res.Outcome, res.Error))
}

func (o *Orchestrator) confirm(ctx context.Context, inst *sagaDomain.SagaInstance) error {
	if err := o.emit(ctx, inst, events.BookingConfirmed, "", events.BookingConfirmedPayload{SagaID: inst.ID}); err != nil {
		return err
	}
	o.transition(inst, sagaDomain.StatusCompleted)
	if err := o.save(ctx, inst); err != nil {
		return err
	}
	o.log.Info("✅ booking confirmed", zap.String("saga_id", inst.ID), zap.String("booking_id", inst.BookingID))
	o.cacheTerminal(inst)
	return nil
}

// compensate deshace en orden inverso los pasos completados o inciertos. Un fallo de
// compensación marca la saga para intervención manual pero no detiene las demás.
func (o *Orchestrator) compensate(ctx context.Context, inst *sagaDomain.SagaInstance, reason string) error {
	o.transition(inst, sagaDomain.StatusCompensating)
	if inst.FailureReason == "" {
		inst.FailureReason = reason
	}
	if err := o.save(ctx, inst); err != nil {
		return err
	}

	for _, name := range inst.ToUndo() {
		st, ok := stepByName(bookingPlan, name)
		if !ok {
			continue
		}
		if _, done := inst.Result(st.compensation); done {
			continue
		}
		if err := o.undoStep(ctx, inst, st); err != nil {
			return err
		}
	}

	if err := o.emit(ctx, inst, events.BookingCancelled, "", events.BookingCancelledPayload{
		SagaID:             inst.ID,
		Reason:             inst.FailureReason,
		ManualIntervention: inst.ManualIntervention,
	}); err != nil {
		return err
	}
	o.transition(inst, sagaDomain.StatusFailed)
	if err := o.save(ctx, inst); err != nil {
		return err
	}
	o.log.Info("🛑 booking cancelled",
		zap.String("saga_id", inst.ID),
		zap.String("reason", inst.FailureReason),
		zap.Bool("manual_intervention", inst.ManualIntervention))
	o.cacheTerminal(inst)
	return nil
}

// undoStep ejecuta una compensación y la persiste. Solo devuelve error si no se pudo
// guardar el progreso o el contexto se canceló.
func (o *Orchestrator) undoStep(ctx context.Context, inst *sagaDomain.SagaInstance, st step) error {
	out, res, err := o.attempt(ctx, inst, st.compensation, sagaDomain.KindCompensation, o.cfg.CompensationRetries, st.undo)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	switch {
	case err == nil:
		out.apply(&inst.Data)
		res.EventType = st.undoEvent
		inst.Record(res)
		if err := o.emit(ctx, inst, st.undoEvent, st.compensation, out.payload); err != nil {
			return err
		}
	case errors.Is(err, sagaDomain.ErrNothingToCompensate):
		inst.Record(res)
	default:
		res.EventType = events.CompensationFailed
		inst.Record(res)
		inst.ManualIntervention = true
		metrics.SagaManualInterventions.Inc()
		o.log.Error("🚨 compensation failed, manual intervention required",
			zap.String("saga_id", inst.ID),
			zap.String("compensation", st.compensation),
			zap.Int("attempts", res.Attempts),
			zap.Error(err))
		if err := o.emit(ctx, inst, events.CompensationFailed, st.compensation, events.CompensationFailedPayload{
			Compensation: st.compensation,
			Attempts:     res.Attempts,
			Reason:       res.Error,
		}); err != nil {
			return err
		}
	}
	return o.save(ctx, inst)
}

// attempt ejecuta una acción con reintentos; cada intento acotado por StepTimeout.
func (o *Orchestrator) attempt(
	ctx context.Context,
	inst *sagaDomain.SagaInstance,
	name string,
	kind sagaDomain.StepKind,
	retries int,
	act action,
) (stepOutput, sagaDomain.StepResult, error) {
	started := o.now()
	snapshot := *inst.SnapshotCopy()

	var out stepOutput
	attempts, err := sharedUtils.RetryWithBackoff(ctx, sharedUtils.BackoffPolicy{
		Attempts:  retries,
		BaseDelay: o.cfg.RetryDelay,
		MaxDelay:  8 * o.cfg.RetryDelay,
		Jitter:    0.2,
		Retryable: retryable,
	}, func(ctx context.Context, attempt int) error {
		var callErr error
		out, callErr = o.callWithTimeout(ctx, snapshot, act)
		if callErr != nil {
			o.log.Debug("step attempt failed",
				zap.String("saga_id", snapshot.ID),
				zap.String("step", name),
				zap.Int("attempt", attempt),
				zap.Error(callErr))
		}
		return callErr
	})

	res := sagaDomain.StepResult{
		Name:       name,
		Kind:       kind,
		Outcome:    outcomeOf(kind, err),
		Attempts:   attempts,
		StartedAt:  started,
		FinishedAt: o.now(),
	}
	if err != nil {
		res.Error = sharedUtils.Truncate(err.Error(), 500)
	}
	metrics.StepDuration.WithLabelValues(name, string(res.Outcome)).Observe(res.FinishedAt.Sub(started).Seconds())
	return out, res, err
}

// callWithTimeout no espera a un colaborador que ignora el contexto: el resultado tardío
// se descarta y el paso cuenta como TIMEOUT.
func (o *Orchestrator) callWithTimeout(ctx context.Context, s sagaDomain.SagaInstance, act action) (stepOutput, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
	defer cancel()

	type result struct {
		out stepOutput
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: collaborator panic: %v", sharedDomain.ErrPermanentFailure, r)}
			}
		}()
		out, err := act(callCtx, o.collab, s)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return stepOutput{}, sagaDomain.ErrStepTimeout
		}
		return r.out, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return stepOutput{}, ctx.Err()
		}
		return stepOutput{}, sagaDomain.ErrStepTimeout
	}
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, sagaDomain.ErrDeclined),
		errors.Is(err, sagaDomain.ErrNothingToCompensate),
		errors.Is(err, context.Canceled),
		sharedDomain.IsValidation(err),
		sharedDomain.IsPermanent(err):
		return false
	}
	return true
}

func outcomeOf(kind sagaDomain.StepKind, err error) sagaDomain.StepOutcome {
	if kind == sagaDomain.KindCompensation {
		if err == nil || errors.Is(err, sagaDomain.ErrNothingToCompensate) {
			return sagaDomain.OutcomeCompensated
		}
		return sagaDomain.OutcomeCompensationFailed
	}
	switch {
	case err == nil:
		return sagaDomain.OutcomeSuccess
	case errors.Is(err, sagaDomain.ErrDeclined):
		return sagaDomain.OutcomeDeclined
	case errors.Is(err, sagaDomain.ErrStepTimeout):
		return sagaDomain.OutcomeTimeout
	default:
		return sagaDomain.OutcomeFailed
	}
}

// emit escribe el evento en el Event Store y deja el registro de producción.
// El ID es determinista: re-emitir tras un reinicio devuelve el evento ya guardado.
func (o *Orchestrator) emit(ctx context.Context, inst *sagaDomain.SagaInstance, eventType, discriminator string, payload interface{}) error {
	eventID := uuid.NewSHA1(sagaEventNamespace, []byte(inst.ID+"/"+eventType+"/"+discriminator)).String()

	evt, err := o.events.AppendWithRetry(ctx, esApp.AppendCommand{
		EventID:       eventID,
		AggregateID:   inst.BookingID,
		AggregateType: events.BookingAggregateType,
		EventType:     eventType,
		Payload:       payload,
		CorrelationID: inst.ID,
	})
	if err != nil {
		return fmt.Errorf("append %s for saga %s: %w", eventType, inst.ID, err)
	}

	if o.tracker == nil {
		return nil
	}
	if _, err := o.tracker.LogEventProduction(ctx, o.cfg.Topic, inst.BookingID, evt.ToIntegrationEvent()); err != nil {
		return fmt.Errorf("track %s for saga %s: %w", eventType, inst.ID, err)
	}
	return nil
}

// save persiste con CAS de versión. El repo incrementa Version.
func (o *Orchestrator) save(ctx context.Context, inst *sagaDomain.SagaInstance) error {
	inst.UpdatedAt = o.now()
	if err := o.repo.Update(ctx, inst); err != nil {
		if errors.Is(err, sagaDomain.ErrSagaVersionConflict) {
			o.log.Warn("saga version conflict", zap.String("saga_id", inst.ID), zap.Int64("version", inst.Version))
		}
		return err
	}
	return nil
}

// transition cambia el estado y cuenta la transición.
func (o *Orchestrator) transition(inst *sagaDomain.SagaInstance, status sagaDomain.SagaStatus) {
	if inst.Status == status {
		return
	}
	inst.Status = status
	metrics.SagaTransitions.WithLabelValues(string(inst.SagaType), string(status)).Inc()
}

func (o *Orchestrator) cacheTerminal(inst *sagaDomain.SagaInstance) {
	if o.cache == nil || !inst.Status.Terminal() {
		return
	}
	ttl := int(o.cfg.CacheTTL.Seconds())
	snapshot := inst.SnapshotCopy()
	cache.AsyncCacheSet(o.cache, sagaDomain.SagaCacheKeyByID(inst.ID), snapshot, ttl, o.log)
	cache.AsyncCacheSet(o.cache, sagaDomain.SagaCacheKeyByCorrelationID(inst.CorrelationID), snapshot, ttl, o.log)
}

// ---------- Consultas ----------

// GetSagaByID usa cache-aside; solo se cachean sagas terminadas (las demás aún cambian).
func (o *Orchestrator) GetSagaByID(ctx context.Context, id string) (*sagaDomain.SagaInstance, error) {
	return o.cachedGet(ctx, sagaDomain.SagaCacheKeyByID(id), func() (*sagaDomain.SagaInstance, error) {
		return o.repo.GetByID(ctx, id)
	})
}

func (o *Orchestrator) GetSagaByCorrelationID(ctx context.Context, correlationID string) (*sagaDomain.SagaInstance, error) {
	return o.cachedGet(ctx, sagaDomain.SagaCacheKeyByCorrelationID(correlationID), func() (*sagaDomain.SagaInstance, error) {
		return o.repo.GetByCorrelationID(ctx, correlationID)
	})
}

func (o *Orchestrator) cachedGet(ctx context.Context, key string, load func() (*sagaDomain.SagaInstance, error)) (*sagaDomain.SagaInstance, error) {
	if o.cache != nil {
		var cached sagaDomain.SagaInstance
		hit, err := o.cache.Get(ctx, key, &cached)
		if err != nil {
			o.log.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		} else if hit {
			return &cached, nil
		}
	}

	inst, err := load()
	if err != nil {
		return nil, err
	}
	if o.cache != nil && inst.Status.Terminal() {
		cache.AsyncCacheSet(o.cache, key, inst, int(o.cfg.CacheTTL.Seconds()), o.log)
	}
	return inst, nil
}

func (o *Orchestrator) ListSagas(ctx context.Context, criteria sharedDomain.Criteria, page sharedQuery.OffsetPagination, sort sharedQuery.Sort) ([]sagaDomain.SagaInstance, error) {
	page = page.Normalize()
	sort = sharedQuery.SafeSort(sort, sagaDomain.DefaultSort, sagaDomain.SortableFields...)
	return o.repo.List(ctx, criteria, page, sort)
}

func (o *Orchestrator) now() time.Time {
	return o.clock().UTC()
}

func requestedPayload(inst *sagaDomain.SagaInstance) events.BookingRequestedPayload {
	r := inst.Request
	return events.BookingRequestedPayload{
		SagaID:         inst.ID,
		SagaType:       string(inst.SagaType),
		UserID:         r.UserID,
		TrainID:        r.TrainID,
		Fare:           r.Fare,
		Currency:       r.Currency,
		PassengerName:  r.PassengerName,
		SeatPreference: r.SeatPreference,
	}
}
