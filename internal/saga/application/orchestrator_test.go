package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	esApp "github.com/davicafu/sagalab/internal/eventstore/application"
	esSQLite "github.com/davicafu/sagalab/internal/eventstore/infra/outbound/db/sqlite"
	replayDomain "github.com/davicafu/sagalab/internal/replay/domain"
	sagaDomain "github.com/davicafu/sagalab/internal/saga/domain"
	sagaSQLite "github.com/davicafu/sagalab/internal/saga/infra/outbound/db/sqlite"
	"github.com/davicafu/sagalab/internal/saga/infra/outbound/simulator"
	sharedDB "github.com/davicafu/sagalab/internal/shared/infra/db"
	trackingApp "github.com/davicafu/sagalab/internal/tracking/application"
	trackingSQLite "github.com/davicafu/sagalab/internal/tracking/infra/outbound/db/sqlite"
	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	"github.com/davicafu/sagalab/shared/events"
	sharedQuery "github.com/davicafu/sagalab/shared/platform/query"
	"github.com/davicafu/sagalab/tests/mocks"
)

var (
	t0           = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	errGateway   = fmt.Errorf("%w: gateway unavailable", sharedDomain.ErrTransientDependency)
	errNoFunds   = fmt.Errorf("%w: insufficient funds", sagaDomain.ErrDeclined)
	errBookingDB = fmt.Errorf("%w: booking store down", sharedDomain.ErrTransientDependency)
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	orch    *Orchestrator
	repo    *sagaSQLite.SagaRepoSQLite
	store   *esApp.EventStore
	tracker *trackingApp.ProductionTracker
	sim     *simulator.Services
	clock   *clock
}

func testConfig() Config {
	return Config{
		StepTimeout:         time.Second,
		StepRetries:         3,
		CompensationRetries: 2,
		RetryDelay:          0,
	}
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	db, err := sharedDB.OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sagaSQLite.InitSQLiteSagaSchema(db))
	require.NoError(t, esSQLite.InitSQLite(db))
	require.NoError(t, trackingSQLite.InitSQLiteTrackingSchema(db))

	f := &fixture{
		repo:    sagaSQLite.NewSagaRepoSQLite(db),
		store:   esApp.NewEventStore(esSQLite.NewEventRepoSQLite(db), zap.NewNop()),
		tracker: trackingApp.NewProductionTracker(trackingSQLite.NewProductionRepoSQLite(db), 3, zap.NewNop()),
		sim:     simulator.New(),
		clock:   &clock{now: t0},
	}

	var (
		idMu sync.Mutex
		seq  int
	)
	nextID := func() string {
		idMu.Lock()
		defer idMu.Unlock()
		seq++
		return fmt.Sprintf("saga-%d", seq)
	}

	base := []Option{WithClock(f.clock.Now), WithIDGenerator(nextID)}
	f.orch = NewOrchestrator(f.repo, f.sim.Collaborators(), f.store, f.tracker, cfg, zap.NewNop(), append(base, opts...)...)
	return f
}

func bookingRequest(key string) sagaDomain.BookingRequest {
	return sagaDomain.BookingRequest{
		IdempotencyKey: key,
		UserID:         42,
		TrainID:        7,
		Fare:           4500,
		PassengerName:  "Ada",
	}
}

func (f *fixture) eventTypes(t *testing.T, bookingID string) []string {
	t.Helper()
	stream, err := f.store.GetEventStream(context.Background(), bookingID)
	require.NoError(t, err)
	types := make([]string, 0, len(stream))
	for _, e := range stream {
		types = append(types, e.EventType)
	}
	return types
}

func (f *fixture) replay(t *testing.T, bookingID string) replayDomain.BookingState {
	t.Helper()
	stream, err := f.store.GetEventStream(context.Background(), bookingID)
	require.NoError(t, err)
	state, err := replayDomain.Fold(stream)
	require.NoError(t, err)
	return state
}

type stepSummary struct {
	Name    string
	Outcome sagaDomain.StepOutcome
}

func summarize(results []sagaDomain.StepResult) []stepSummary {
	out := make([]stepSummary, 0, len(results))
	for _, r := range results {
		out = append(out, stepSummary{r.Name, r.Outcome})
	}
	return out
}

// ---------- Camino feliz ----------

func TestStartBookingSaga_HappyPath(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	inst, err := f.orch.StartBookingSaga(ctx, bookingRequest("idem-1"))
	require.NoError(t, err)

	assert.Equal(t, sagaDomain.StatusCompleted, inst.Status)
	assert.Equal(t, "bk-saga-1", inst.BookingID)
	assert.Equal(t, "saga-1", inst.CorrelationID)
	assert.Equal(t, "EUR", inst.Request.Currency)
	assert.Equal(t, []stepSummary{
		{sagaDomain.StepReserveSeat, sagaDomain.OutcomeSuccess},
		{sagaDomain.StepCreateBooking, sagaDomain.OutcomeSuccess},
		{sagaDomain.StepChargePayment, sagaDomain.OutcomeSuccess},
	}, summarize(inst.StepResults))
	assert.NotEmpty(t, inst.Data.HoldID)
	assert.Equal(t, int64(4500), inst.Data.ChargedAmount)
	assert.False(t, inst.ManualIntervention)

	stored, err := f.repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, sagaDomain.StatusCompleted, stored.Status)
	assert.Equal(t, inst.Version, stored.Version)

	assert.Equal(t, []string{
		events.BookingRequested, events.SeatReserved, events.BookingCreated, events.PaymentCharged, events.BookingConfirmed,
	}, f.eventTypes(t, inst.BookingID))

	stream, err := f.store.GetEventsByCorrelationID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, stream, 5)

	records, err := f.tracker.ListByCorrelationID(ctx, inst.ID, sharedQuery.OffsetPagination{})
	require.NoError(t, err)
	assert.Len(t, records, 5, "cada evento queda registrado para el relayer")
	for _, r := range records {
		assert.Equal(t, events.BookingTopic, r.Topic)
		assert.Equal(t, inst.BookingID, r.Key)
	}

	state := f.replay(t, inst.BookingID)
	assert.Equal(t, replayDomain.StatusConfirmed, state.Status)
	assert.Equal(t, inst.Data.SeatNumber, state.SeatNumber)
	assert.Equal(t, int64(4500), state.ChargedAmount)
	assert.Equal(t, inst.ID, state.SagaID)
}

func TestStartBookingSaga_RejectsInvalidRequest(t *testing.T) {
	f := newFixture(t, testConfig())

	_, err := f.orch.StartBookingSaga(context.Background(), sagaDomain.BookingRequest{TrainID: 1})
	require.Error(t, err)
	assert.True(t, sharedDomain.IsValidation(err))

	all, err := f.orch.ListSagas(context.Background(), nil, sharedQuery.OffsetPagination{}, sharedQuery.Sort{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Zero(t, f.sim.Calls(simulator.OpHoldSeat))
}

// ---------- Compensación ----------

func TestStartBookingSaga_PaymentFailureReleasesSeat(t *testing.T) {
	f := newFixture(t, testConfig(), WithSteps(sagaDomain.StepReserveSeat, sagaDomain.StepChargePayment))
	f.sim.FailAlways(simulator.OpCharge, errGateway)

	inst, err := f.orch.StartBookingSaga(context.Background(), bookingRequest("idem-pay"))
	require.NoError(t, err)

	assert.Equal(t, sagaDomain.StatusFailed, inst.Status)
	require.Len(t, inst.StepResults, 3)
	assert.Equal(t, []stepSummary{
		{sagaDomain.StepReserveSeat, sagaDomain.OutcomeSuccess},
		{sagaDomain.StepChargePayment, sagaDomain.OutcomeFailed},
		{sagaDomain.CompensationSeatRelease, sagaDomain.OutcomeCompensated},
	}, summarize(inst.StepResults))
	assert.Equal(t, 3, inst.StepResults[1].Attempts)
	assert.Equal(t, sagaDomain.KindCompensation, inst.StepResults[2].Kind)

	assert.Equal(t, 3, f.sim.Calls(simulator.OpCharge))
	assert.Equal(t, 1, f.sim.Calls(simulator.OpReleaseSeat))
	assert.Zero(t, f.sim.Calls(simulator.OpRefund), "un cobro fallido no se reembolsa")
	assert.Zero(t, f.sim.ActiveHolds())

	assert.Equal(t, []string{
		events.BookingRequested, events.SeatReserved, events.SagaStepFailed, events.SeatReleased, events.BookingCancelled,
	}, f.eventTypes(t, inst.BookingID))

	state := f.replay(t, inst.BookingID)
	assert.Equal(t, replayDomain.StatusCancelled, state.Status)
	assert.True(t, state.SeatReleased)
	assert.Contains(t, state.FailureReason, sagaDomain.StepChargePayment)
}

func TestStartBookingSaga_DeclineIsNotRetried(t *testing.T) {
	f := newFixture(t, testConfig())
	f.sim.FailNext(simulator.OpCharge, errNoFunds)

	inst, err := f.orch.StartBookingSaga(context.Background(), bookingRequest("idem-decline"))
	require.NoError(t, err)

	assert.Equal(t, sagaDomain.StatusFailed, inst.Status)
	assert.Equal(t, 1, f.sim.Calls(simulator.OpCharge))
	assert.Equal(t, []stepSummary{
		{sagaDomain.StepReserveSeat, sagaDomain.OutcomeSuccess},
		{sagaDomain.StepCreateBooking, sagaDomain.OutcomeSuccess},
		{sagaDomain.StepChargePayment, sagaDomain.OutcomeDeclined},
		{sagaDomain.CompensationBookingCancel, sagaDomain.OutcomeCompensated},
		{sagaDomain.CompensationSeatRelease, sagaDomain.OutcomeCompensated},
	}, summarize(inst.StepResults))
	assert.Contains(t, inst.FailureReason, "CHARGE_PAYMENT DECLINED")
	assert.True(t, f.sim.BookingCancelled(inst.Data.BookingRef))
}

func TestStartBookingSaga_TimeoutIsCompensated(t *testing.T) {
	cfg := testConfig()
	cfg.StepTimeout = 30 * time.Millisecond
	f := newFixture(t, cfg)
	f.sim.Delay(simulator.OpCharge, time.Second)

	inst, err := f.orch.StartBookingSaga(context.Background(), bookingRequest("idem-timeout"))
	require.NoError(t, err)

	assert.Equal(t, sagaDomain.StatusFailed, inst.Status)
	assert.Equal(t, []stepSummary{
		{sagaDomain.StepReserveSeat, sagaDomain.OutcomeSuccess},
		{sagaDomain.StepCreateBooking, sagaDomain.OutcomeSuccess},
		{sagaDomain.StepChargePayment, sagaDomain.OutcomeTimeout},
		{sagaDomain.CompensationPaymentRefund, sagaDomain.OutcomeCompensated},
		{sagaDomain.CompensationBookingCancel, sagaDomain.OutcomeCompensated},
		{sagaDomain.CompensationSeatRelease, sagaDomain.OutcomeCompensated},
	}, summarize(inst.StepResults))
	assert.Equal(t, 3, f.sim.Calls(simulator.OpCharge))
	assert.Equal(t, 1, f.sim.Calls(simulator.OpRefund), "el cobro incierto también se compensa")

	// El cobro nunca llegó a aplicarse: no hay nada que reembolsar ni evento de reembolso
	assert.NotContains(t, f.eventTypes(t, inst.BookingID), events.PaymentRefunded)
	assert.Zero(t, f.sim.NetCharged())
}

func TestStartBookingSaga_CompensationFailureFlagsManualIntervention(t *testing.T) {
	f := newFixture(t, testConfig())
	f.sim.FailAlways(simulator.OpCharge, errNoFunds)
	f.sim.FailAlways(simulator.OpCancelBooking, errBookingDB)

	inst, err := f.orch.StartBookingSaga(context.Background(), bookingRequest("idem-manual"))
	require.NoError(t, err)

	assert.Equal(t, sagaDomain.StatusFailed, inst.Status)
	assert.True(t, inst.ManualIntervention)

	cancelRes, ok := inst.Result(sagaDomain.CompensationBookingCancel)
	require.True(t, ok)
	assert.Equal(t, sagaDomain.OutcomeCompensationFailed, cancelRes.Outcome)
	assert.Equal(t, 2, cancelRes.Attempts)

	releaseRes, ok := inst.Result(sagaDomain.CompensationSeatRelease)
	require.True(t, ok, "las compensaciones restantes se ejecutan igualmente")
	assert.Equal(t, sagaDomain.OutcomeCompensated, releaseRes.Outcome)
	assert.Zero(t, f.sim.ActiveHolds())

	types := f.eventTypes(t, inst.BookingID)
	assert.Contains(t, types, events.CompensationFailed)
	assert.Contains(t, types, events.SeatReleased)
	assert.Equal(t, events.BookingCancelled, types[len(types)-1])

	state := f.replay(t, inst.BookingID)
	assert.True(t, state.ManualIntervention)
	assert.False(t, state.RecordCancelled)

	flagged, err := f.orch.ListSagas(context.Background(), sagaDomain.ManualInterventionCriteria{}, sharedQuery.OffsetPagination{}, sharedQuery.Sort{})
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, inst.ID, flagged[0].ID)
}

// ---------- Idempotencia ----------

func TestStartBookingSaga_DuplicateReturnsExisting(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	first, err := f.orch.StartBookingSaga(ctx, bookingRequest("idem-dup"))
	require.NoError(t, err)
	second, err := f.orch.StartBookingSaga(ctx, bookingRequest("idem-dup"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, sagaDomain.StatusCompleted, second.Status)
	assert.Equal(t, 1, f.sim.Calls(simulator.OpHoldSeat))
	assert.Len(t, f.eventTypes(t, first.BookingID), 5)

	// Sin clave: la huella es el contenido normalizado
	noKey := bookingRequest("")
	a, err := f.orch.StartBookingSaga(ctx, noKey)
	require.NoError(t, err)
	noKey.Currency = "eur"
	b, err := f.orch.StartBookingSaga(ctx, noKey)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
}

func TestStartBookingSaga_ConcurrentStartsCreateOneSaga(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inst, err := f.orch.StartBookingSaga(ctx, bookingRequest("idem-race"))
			errs[i] = err
			if inst != nil {
				ids[i] = inst.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	all, err := f.orch.ListSagas(ctx, nil, sharedQuery.OffsetPagination{}, sharedQuery.Sort{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, 1, f.sim.Calls(simulator.OpHoldSeat))
}

// ---------- Recuperación ----------

func TestRecoverInFlight_ResumesStartedSaga(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	inst, created, err := f.orch.Begin(ctx, bookingRequest("idem-started"))
	require.NoError(t, err)
	require.True(t, created)

	n, err := f.orch.RecoverInFlight(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n, "todavía no es antigua")

	f.clock.Advance(2 * time.Minute)
	n, err = f.orch.RecoverInFlight(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.orch.GetSagaByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, sagaDomain.StatusCompleted, got.Status)
}

func TestRecoverInFlight_CompensatesInterruptedStep(t *testing.T) {
	cfg := testConfig()
	cfg.StepTimeout = 5 * time.Second
	f := newFixture(t, cfg)
	f.sim.Delay(simulator.OpCharge, 5*time.Second)

	inst, created, err := f.orch.Begin(context.Background(), bookingRequest("idem-crash"))
	require.NoError(t, err)
	require.True(t, created)

	// El proceso "muere" a mitad del cobro
	runCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.Error(t, f.orch.Run(runCtx, inst))

	stored, err := f.repo.GetByID(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, sagaDomain.StatusStepRunning, stored.Status)
	assert.Equal(t, 2, stored.CurrentStep)

	f.sim.Delay(simulator.OpCharge, 0)
	f.clock.Advance(2 * time.Minute)
	n, err := f.orch.RecoverInFlight(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.repo.GetByID(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, sagaDomain.StatusFailed, got.Status)
	assert.Equal(t, []stepSummary{
		{sagaDomain.StepReserveSeat, sagaDomain.OutcomeSuccess},
		{sagaDomain.StepCreateBooking, sagaDomain.OutcomeSuccess},
		{sagaDomain.StepChargePayment, sagaDomain.OutcomeInterrupted},
		{sagaDomain.CompensationPaymentRefund, sagaDomain.OutcomeCompensated},
		{sagaDomain.CompensationBookingCancel, sagaDomain.OutcomeCompensated},
		{sagaDomain.CompensationSeatRelease, sagaDomain.OutcomeCompensated},
	}, summarize(got.StepResults))
	assert.Zero(t, f.sim.ActiveHolds())

	state := f.replay(t, inst.BookingID)
	assert.Equal(t, replayDomain.StatusCancelled, state.Status)
}

func TestRecoverInFlight_CrashBetweenStepsResumes(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	inst, _, err := f.orch.Begin(ctx, bookingRequest("idem-between"))
	require.NoError(t, err)

	// Estado tras caer justo después de reservar el asiento, antes del siguiente paso
	hold, err := f.sim.HoldSeat(ctx, sagaDomain.SeatHoldRequest{
		IdempotencyKey: inst.IdempotencyKey(sagaDomain.StepReserveSeat),
		TrainID:        inst.Request.TrainID,
	})
	require.NoError(t, err)
	inst.Data.HoldID = hold.HoldID
	inst.Data.SeatNumber = hold.SeatNumber
	inst.MarkRunning(sagaDomain.StepReserveSeat, sagaDomain.KindForward, f.clock.Now())
	inst.Record(sagaDomain.StepResult{Name: sagaDomain.StepReserveSeat, Kind: sagaDomain.KindForward, Outcome: sagaDomain.OutcomeSuccess, Attempts: 1})
	inst.Status = sagaDomain.StatusStepRunning
	inst.CurrentStep = 1
	require.NoError(t, f.repo.Update(ctx, inst))

	f.clock.Advance(time.Hour)
	n, err := f.orch.RecoverInFlight(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, sagaDomain.StatusCompleted, got.Status)
	assert.Equal(t, []stepSummary{
		{sagaDomain.StepReserveSeat, sagaDomain.OutcomeSuccess},
		{sagaDomain.StepCreateBooking, sagaDomain.OutcomeSuccess},
		{sagaDomain.StepChargePayment, sagaDomain.OutcomeSuccess},
	}, summarize(got.StepResults))
	assert.Zero(t, f.sim.Calls(simulator.OpReleaseSeat), "nada se compensa")
	assert.Equal(t, 1, f.sim.Calls(simulator.OpHoldSeat))
}

func TestRecoverInFlight_ContinuesCompensation(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	inst, _, err := f.orch.Begin(ctx, bookingRequest("idem-comp"))
	require.NoError(t, err)

	// Estado tras una caída durante la compensación: el asiento sigue retenido
	hold, err := f.sim.HoldSeat(ctx, sagaDomain.SeatHoldRequest{
		IdempotencyKey: inst.IdempotencyKey(sagaDomain.StepReserveSeat),
		TrainID:        inst.Request.TrainID,
	})
	require.NoError(t, err)
	inst.Data.HoldID = hold.HoldID
	inst.Record(sagaDomain.StepResult{Name: sagaDomain.StepReserveSeat, Kind: sagaDomain.KindForward, Outcome: sagaDomain.OutcomeSuccess, Attempts: 1})
	inst.Record(sagaDomain.StepResult{Name: sagaDomain.StepCreateBooking, Kind: sagaDomain.KindForward, Outcome: sagaDomain.OutcomeDeclined, Attempts: 1})
	inst.Status = sagaDomain.StatusCompensating
	inst.FailureReason = "CREATE_BOOKING DECLINED"
	require.NoError(t, f.repo.Update(ctx, inst))
	require.Equal(t, 1, f.sim.ActiveHolds())

	f.clock.Advance(time.Hour)
	n, err := f.orch.RecoverInFlight(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, sagaDomain.StatusFailed, got.Status)
	assert.Equal(t, "CREATE_BOOKING DECLINED", got.FailureReason)
	assert.Zero(t, f.sim.ActiveHolds())
	assert.Equal(t, 1, f.sim.Calls(simulator.OpReleaseSeat))
	assert.Zero(t, f.sim.Calls(simulator.OpCancelBooking), "un paso rechazado no se compensa")
}

// ---------- Cancelación ----------

func TestStartCancellationSaga_UndoesConfirmedBooking(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	orig, err := f.orch.StartBookingSaga(ctx, bookingRequest("idem-cancel"))
	require.NoError(t, err)
	require.Equal(t, sagaDomain.StatusCompleted, orig.Status)

	cancelSaga, err := f.orch.StartCancellationSaga(ctx, orig.ID, "customer request")
	require.NoError(t, err)

	assert.Equal(t, sagaDomain.TypeBookingCancellation, cancelSaga.SagaType)
	assert.Equal(t, sagaDomain.StatusCompleted, cancelSaga.Status)
	assert.Equal(t, orig.BookingID, cancelSaga.BookingID)
	assert.Equal(t, orig.ID, cancelSaga.Data.OriginalSagaID)
	assert.Equal(t, []stepSummary{
		{sagaDomain.CompensationPaymentRefund, sagaDomain.OutcomeCompensated},
		{sagaDomain.CompensationBookingCancel, sagaDomain.OutcomeCompensated},
		{sagaDomain.CompensationSeatRelease, sagaDomain.OutcomeCompensated},
	}, summarize(cancelSaga.StepResults))
	assert.Zero(t, f.sim.NetCharged())
	assert.Zero(t, f.sim.ActiveHolds())

	// La saga original no se reescribe
	stillOrig, err := f.repo.GetByID(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, sagaDomain.StatusCompleted, stillOrig.Status)
	assert.Equal(t, orig.Version, stillOrig.Version)

	again, err := f.orch.StartCancellationSaga(ctx, orig.ID, "double click")
	require.NoError(t, err)
	assert.Equal(t, cancelSaga.ID, again.ID)
	assert.Equal(t, 1, f.sim.Calls(simulator.OpRefund))

	state := f.replay(t, orig.BookingID)
	assert.Equal(t, replayDomain.StatusCancelled, state.Status)
	assert.Zero(t, state.ChargedAmount)
	assert.Equal(t, "customer request", state.FailureReason)
}

func TestStartCancellationSaga_RejectsUnconfirmedBooking(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	f.sim.FailNext(simulator.OpHoldSeat, errNoFunds)

	failed, err := f.orch.StartBookingSaga(ctx, bookingRequest("idem-failed"))
	require.NoError(t, err)
	require.Equal(t, sagaDomain.StatusFailed, failed.Status)

	_, err = f.orch.StartCancellationSaga(ctx, failed.ID, "")
	assert.ErrorIs(t, err, sagaDomain.ErrNotCancellable)
	assert.True(t, sharedDomain.IsConflict(err))

	_, err = f.orch.StartCancellationSaga(ctx, "missing", "")
	assert.ErrorIs(t, err, sagaDomain.ErrSagaNotFound)
}

// ---------- Consultas y caché ----------

func TestGetSaga_CachesOnlyTerminalSagas(t *testing.T) {
	c := mocks.NewDummyCache()
	f := newFixture(t, testConfig(), WithCache(c))
	ctx := context.Background()

	pending, _, err := f.orch.Begin(ctx, bookingRequest("idem-pending"))
	require.NoError(t, err)
	got, err := f.orch.GetSagaByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, sagaDomain.StatusStarted, got.Status)
	assert.Never(t, func() bool { return c.Has(sagaDomain.SagaCacheKeyByID(pending.ID)) }, 50*time.Millisecond, 10*time.Millisecond)

	done, err := f.orch.StartBookingSaga(ctx, bookingRequest("idem-done"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return c.Has(sagaDomain.SagaCacheKeyByID(done.ID)) }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return c.Has(sagaDomain.SagaCacheKeyByCorrelationID(done.CorrelationID)) }, time.Second, 10*time.Millisecond)

	byCorr, err := f.orch.GetSagaByCorrelationID(ctx, done.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, done.ID, byCorr.ID)
	assert.Equal(t, sagaDomain.StatusCompleted, byCorr.Status)

	_, err = f.orch.GetSagaByID(ctx, "missing")
	assert.ErrorIs(t, err, sagaDomain.ErrSagaNotFound)
}

func TestEmit_EventIDsAreDeterministic(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	inst, err := f.orch.StartBookingSaga(ctx, bookingRequest("idem-det"))
	require.NoError(t, err)
	before := f.eventTypes(t, inst.BookingID)

	// Re-emitir el mismo hecho no añade eventos ni registros
	require.NoError(t, f.orch.emit(ctx, inst, events.BookingConfirmed, "", events.BookingConfirmedPayload{SagaID: inst.ID}))
	assert.Equal(t, before, f.eventTypes(t, inst.BookingID))

	count, err := f.store.GetEventCount(ctx, inst.BookingID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	records, err := f.tracker.ListByCorrelationID(ctx, inst.ID, sharedQuery.OffsetPagination{})
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

// Stub mínimo para comprobar que un pánico del colaborador no tumba el proceso.
type panickingSeats struct{}

func (panickingSeats) HoldSeat(context.Context, sagaDomain.SeatHoldRequest) (sagaDomain.SeatHold, error) {
	panic("boom")
}

func (panickingSeats) ReleaseSeat(context.Context, sagaDomain.SeatReleaseRequest) error { return nil }

func TestStartBookingSaga_CollaboratorPanicFailsStep(t *testing.T) {
	f := newFixture(t, testConfig())
	collab := f.sim.Collaborators()
	collab.Seats = panickingSeats{}
	f.orch.collab = collab

	inst, err := f.orch.StartBookingSaga(context.Background(), bookingRequest("idem-panic"))
	require.NoError(t, err)
	assert.Equal(t, sagaDomain.StatusFailed, inst.Status)

	res, ok := inst.Result(sagaDomain.StepReserveSeat)
	require.True(t, ok)
	assert.Equal(t, sagaDomain.OutcomeFailed, res.Outcome)
	assert.Equal(t, 1, res.Attempts, "un pánico no se reintenta")
	assert.Contains(t, res.Error, "boom")
}

var _ EventAppender = (*esApp.EventStore)(nil)
var _ ProductionLogger = (*trackingApp.ProductionTracker)(nil)
