package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	esDomain "github.com/davicafu/sagalab/internal/eventstore/domain"
	"github.com/davicafu/sagalab/pkg/metrics"
	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	sharedUtils "github.com/davicafu/sagalab/shared/utils"
)

// ExpectVersion construye la versión esperada de un AppendCommand.
func ExpectVersion(v int64) *int64 {
	return &v
}

// AppendCommand describe un evento a añadir. Payload puede ser JSON ya serializado
// ([]byte / json.RawMessage) o cualquier valor serializable.
type AppendCommand struct {
	EventID       string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       interface{}
	CorrelationID string
	// ExpectedVersion es la última secuencia que el llamante cree que tiene el agregado
	// (0 = agregado nuevo). nil no la comprueba.
	ExpectedVersion *int64
}

// EventStore es el servicio de aplicación del log de eventos.
type EventStore struct {
	repo  esDomain.EventRepository
	clock func() time.Time
	retry sharedUtils.BackoffPolicy
	log   *zap.Logger
}

type Option func(*EventStore)

// WithClock sustituye el reloj (tests).
func WithClock(clock func() time.Time) Option {
	return func(s *EventStore) { s.clock = clock }
}

// WithRetryPolicy configura los reintentos de AppendWithRetry.
func WithRetryPolicy(p sharedUtils.BackoffPolicy) Option {
	return func(s *EventStore) { s.retry = p }
}

func NewEventStore(repo esDomain.EventRepository, log *zap.Logger, opts ...Option) *EventStore {
	s := &EventStore{
		repo:  repo,
		clock: time.Now,
		retry: sharedUtils.BackoffPolicy{
			Attempts:  5,
			BaseDelay: 10 * time.Millisecond,
			MaxDelay:  200 * time.Millisecond,
			Jitter:    0.5,
		},
		log: log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.retry.Retryable = func(err error) bool { return errors.Is(err, esDomain.ErrConcurrencyConflict) }
	return s
}

// Append asigna la siguiente secuencia del agregado y guarda el evento.
// Una carrera con otro escritor devuelve ErrConcurrencyConflict; el llamante reintenta.
// Reenviar un EventID ya guardado devuelve el evento original.
func (s *EventStore) Append(ctx context.Context, cmd AppendCommand) (*esDomain.Event, error) {
	payload, err := encodePayload(cmd.Payload)
	if err != nil {
		return nil, err
	}
	if cmd.AggregateID == "" {
		return nil, fmt.Errorf("%w: aggregate id is required", esDomain.ErrInvalidEvent)
	}
	if cmd.EventID == "" {
		cmd.EventID = uuid.NewString()
	} else if existing, err := s.existing(ctx, cmd); err != nil || existing != nil {
		return existing, err
	}

	latest, err := s.latest(ctx, cmd.AggregateID)
	if err != nil {
		return nil, err
	}

	var lastSeq int64
	var lastAt time.Time
	if latest != nil {
		lastSeq, lastAt = latest.SequenceNumber, latest.OccurredAt
	}
	if cmd.ExpectedVersion != nil && *cmd.ExpectedVersion != lastSeq {
		metrics.AppendConflicts.Inc()
		return nil, fmt.Errorf("%w: expected version %d, actual %d", esDomain.ErrConcurrencyConflict, *cmd.ExpectedVersion, lastSeq)
	}

	// OccurredAt nunca retrocede dentro del agregado: así un corte temporal siempre es un prefijo del stream.
	occurredAt := esDomain.NormalizeTime(s.clock())
	if occurredAt.Before(lastAt) {
		occurredAt = lastAt
	}

	evt := esDomain.Event{
		EventID:        cmd.EventID,
		AggregateID:    cmd.AggregateID,
		AggregateType:  cmd.AggregateType,
		EventType:      cmd.EventType,
		Payload:        payload,
		SequenceNumber: lastSeq + 1,
		CorrelationID:  cmd.CorrelationID,
		OccurredAt:     occurredAt,
	}
	if err := evt.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Append(ctx, evt); err != nil {
		switch {
		case errors.Is(err, esDomain.ErrDuplicateEventID):
			// Otro escritor guardó el mismo EventID entre la comprobación y el insert.
			existing, findErr := s.existing(ctx, cmd)
			if findErr != nil {
				return nil, findErr
			}
			if existing != nil {
				return existing, nil
			}
			return nil, err
		case errors.Is(err, esDomain.ErrConcurrencyConflict):
			metrics.AppendConflicts.Inc()
			s.log.Debug("concurrency conflict detected",
				zap.String("aggregate_id", evt.AggregateID),
				zap.Int64("sequence_number", evt.SequenceNumber))
			return nil, err
		default:
			return nil, fmt.Errorf("append %s to %s: %w", evt.EventType, evt.AggregateID, err)
		}
	}

	metrics.EventsAppended.WithLabelValues(evt.EventType).Inc()
	s.log.Debug("event appended",
		zap.String("event_id", evt.EventID),
		zap.String("event_type", evt.EventType),
		zap.String("aggregate_id", evt.AggregateID),
		zap.Int64("sequence_number", evt.SequenceNumber))
	return &evt, nil
}

// AppendWithRetry repite Append mientras haya conflictos de concurrencia.
// Con ExpectedVersion el conflicto es del llamante y no se reintenta.
func (s *EventStore) AppendWithRetry(ctx context.Context, cmd AppendCommand) (*esDomain.Event, error) {
	if cmd.ExpectedVersion != nil {
		return s.Append(ctx, cmd)
	}
	if cmd.EventID == "" {
		cmd.EventID = uuid.NewString()
	}

	var evt *esDomain.Event
	attempts, err := sharedUtils.RetryWithBackoff(ctx, s.retry, func(ctx context.Context, _ int) error {
		var appendErr error
		evt, appendErr = s.Append(ctx, cmd)
		return appendErr
	})
	if err != nil {
		if errors.Is(err, esDomain.ErrConcurrencyConflict) {
			s.log.Warn("append retries exhausted",
				zap.String("aggregate_id", cmd.AggregateID),
				zap.Int("attempts", attempts))
		}
		return nil, err
	}
	return evt, nil
}

// GetEventStream devuelve el stream completo del agregado en orden de secuencia.
func (s *EventStore) GetEventStream(ctx context.Context, aggregateID string) ([]esDomain.Event, error) {
	if aggregateID == "" {
		return nil, fmt.Errorf("%w: aggregate id is required", sharedDomain.ErrValidation)
	}
	return s.repo.Find(ctx, esDomain.EventFilter{AggregateID: aggregateID})
}

func (s *EventStore) GetEventsByType(ctx context.Context, aggregateID, eventType string) ([]esDomain.Event, error) {
	if aggregateID == "" || eventType == "" {
		return nil, fmt.Errorf("%w: aggregate id and event type are required", sharedDomain.ErrValidation)
	}
	return s.repo.Find(ctx, esDomain.EventFilter{AggregateID: aggregateID, EventType: eventType})
}

// GetEventsInTimeRange filtra por OccurredAt (ambos extremos inclusivos) manteniendo el orden de secuencia.
func (s *EventStore) GetEventsInTimeRange(ctx context.Context, aggregateID string, start, end time.Time) ([]esDomain.Event, error) {
	if aggregateID == "" {
		return nil, fmt.Errorf("%w: aggregate id is required", sharedDomain.ErrValidation)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end must not be before start", sharedDomain.ErrValidation)
	}
	from, until := start.UTC(), end.UTC()
	return s.repo.Find(ctx, esDomain.EventFilter{AggregateID: aggregateID, From: &from, Until: &until})
}

func (s *EventStore) GetLatestEvent(ctx context.Context, aggregateID string) (*esDomain.Event, error) {
	if aggregateID == "" {
		return nil, fmt.Errorf("%w: aggregate id is required", sharedDomain.ErrValidation)
	}
	latest, err := s.latest(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, esDomain.ErrEventNotFound
	}
	return latest, nil
}

func (s *EventStore) GetEventCount(ctx context.Context, aggregateID string) (int64, error) {
	if aggregateID == "" {
		return 0, fmt.Errorf("%w: aggregate id is required", sharedDomain.ErrValidation)
	}
	return s.repo.Count(ctx, aggregateID)
}

// GetEventsByCorrelationID cruza agregados: ordena por OccurredAt, luego agregado y secuencia.
func (s *EventStore) GetEventsByCorrelationID(ctx context.Context, correlationID string) ([]esDomain.Event, error) {
	if correlationID == "" {
		return nil, fmt.Errorf("%w: correlation id is required", sharedDomain.ErrValidation)
	}
	return s.repo.Find(ctx, esDomain.EventFilter{CorrelationID: correlationID})
}

func (s *EventStore) latest(ctx context.Context, aggregateID string) (*esDomain.Event, error) {
	events, err := s.repo.Find(ctx, esDomain.EventFilter{AggregateID: aggregateID, Descending: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

// existing devuelve el evento ya guardado con cmd.EventID, nil si no existe,
// o ErrEventIDReused si ese ID pertenece a otro hecho.
func (s *EventStore) existing(ctx context.Context, cmd AppendCommand) (*esDomain.Event, error) {
	found, err := s.repo.FindByID(ctx, cmd.EventID)
	if errors.Is(err, esDomain.ErrEventNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	candidate := esDomain.Event{
		EventID:       cmd.EventID,
		AggregateID:   cmd.AggregateID,
		EventType:     cmd.EventType,
		CorrelationID: cmd.CorrelationID,
	}
	if !found.SameAs(candidate) {
		return nil, fmt.Errorf("%w: %s", esDomain.ErrEventIDReused, cmd.EventID)
	}
	return found, nil
}

func encodePayload(p interface{}) (json.RawMessage, error) {
	var raw []byte
	switch v := p.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: payload is not serializable: %v", esDomain.ErrInvalidEvent, err)
		}
		return b, nil
	}
	if !jsoniter.ConfigFastest.Valid(raw) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", esDomain.ErrInvalidEvent)
	}
	return append(json.RawMessage(nil), raw...), nil
}
