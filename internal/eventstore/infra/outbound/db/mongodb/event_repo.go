package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	esDomain "github.com/davicafu/sagalab/internal/eventstore/domain"
)

const (
	indexAggregateSequence = "uq_aggregate_sequence"
	indexCorrelation       = "ix_correlation_occurred"
)

// EventRepoMongoDB implementa EventRepository sobre una colección con índice único (aggregateId, sequenceNumber).
type EventRepoMongoDB struct {
	coll *mongo.Collection
}

var _ esDomain.EventRepository = (*EventRepoMongoDB)(nil)

// NewEventRepoMongoDB comprueba la conexión y asegura los índices.
func NewEventRepoMongoDB(ctx context.Context, client *mongo.Client, dbName string) (*EventRepoMongoDB, error) {
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not ping mongoDB: %w", err)
	}

	r := &EventRepoMongoDB{coll: client.Database(dbName).Collection("events")}
	if err := r.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// --- Struct de BSON para el mapeo ---
// El payload se guarda como texto para devolver exactamente los bytes recibidos y
// el instante en ns porque el tipo fecha de BSON solo llega a milisegundos.
type mongoEvent struct {
	EventID        string    `bson:"_id"`
	AggregateID    string    `bson:"aggregateId"`
	AggregateType  string    `bson:"aggregateType"`
	EventType      string    `bson:"eventType"`
	Payload        string    `bson:"payload"`
	SequenceNumber int64     `bson:"sequenceNumber"`
	CorrelationID  string    `bson:"correlationId"`
	OccurredAt     time.Time `bson:"occurredAt"`
	OccurredAtNs   int64     `bson:"occurredAtNs"`
}

func toMongoEvent(e esDomain.Event) mongoEvent {
	return mongoEvent{
		EventID:        e.EventID,
		AggregateID:    e.AggregateID,
		AggregateType:  e.AggregateType,
		EventType:      e.EventType,
		Payload:        string(e.Payload),
		SequenceNumber: e.SequenceNumber,
		CorrelationID:  e.CorrelationID,
		OccurredAt:     e.OccurredAt,
		OccurredAtNs:   e.OccurredAt.UnixNano(),
	}
}

func (m mongoEvent) toDomain() esDomain.Event {
	return esDomain.Event{
		EventID:        m.EventID,
		AggregateID:    m.AggregateID,
		AggregateType:  m.AggregateType,
		EventType:      m.EventType,
		Payload:        []byte(m.Payload),
		SequenceNumber: m.SequenceNumber,
		CorrelationID:  m.CorrelationID,
		OccurredAt:     time.Unix(0, m.OccurredAtNs).UTC(),
	}
}

func (r *EventRepoMongoDB) ensureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "aggregateId", Value: 1}, {Key: "sequenceNumber", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(indexAggregateSequence),
		},
		{
			Keys:    bson.D{{Key: "correlationId", Value: 1}, {Key: "occurredAtNs", Value: 1}},
			Options: options.Index().SetName(indexCorrelation),
		},
	})
	if err != nil {
		return fmt.Errorf("could not create event indexes: %w", err)
	}
	return nil
}

func (r *EventRepoMongoDB) Append(ctx context.Context, evt esDomain.Event) error {
	_, err := r.coll.InsertOne(ctx, toMongoEvent(evt))
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		if strings.Contains(err.Error(), indexAggregateSequence) {
			return esDomain.ErrConcurrencyConflict
		}
		return esDomain.ErrDuplicateEventID
	}
	return fmt.Errorf("failed to insert event: %w", err)
}

func (r *EventRepoMongoDB) FindByID(ctx context.Context, eventID string) (*esDomain.Event, error) {
	var m mongoEvent
	err := r.coll.FindOne(ctx, bson.M{"_id": eventID}).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, esDomain.ErrEventNotFound
		}
		return nil, err
	}
	evt := m.toDomain()
	return &evt, nil
}

func (r *EventRepoMongoDB) Find(ctx context.Context, f esDomain.EventFilter) ([]esDomain.Event, error) {
	filter := bson.M{}
	if f.AggregateID != "" {
		filter["aggregateId"] = f.AggregateID
	}
	if f.CorrelationID != "" {
		filter["correlationId"] = f.CorrelationID
	}
	if f.EventType != "" {
		filter["eventType"] = f.EventType
	}
	if f.From != nil || f.Until != nil {
		rng := bson.M{}
		if f.From != nil {
			rng["$gte"] = f.From.UnixNano()
		}
		if f.Until != nil {
			rng["$lte"] = f.Until.UnixNano()
		}
		filter["occurredAtNs"] = rng
	}

	dir := 1
	if f.Descending {
		dir = -1
	}
	sort := bson.D{{Key: "aggregateId", Value: dir}, {Key: "sequenceNumber", Value: dir}}
	if f.CorrelationID != "" {
		sort = append(bson.D{{Key: "occurredAtNs", Value: dir}}, sort...)
	}

	opts := options.Find().SetSort(sort)
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var events []esDomain.Event
	for cur.Next(ctx) {
		var m mongoEvent
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		events = append(events, m.toDomain())
	}
	return events, cur.Err()
}

func (r *EventRepoMongoDB) Count(ctx context.Context, aggregateID string) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{"aggregateId": aggregateID})
}
