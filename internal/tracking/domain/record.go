package domain

import (
	"fmt"
	"time"

	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	"github.com/davicafu/sagalab/shared/events"
	"github.com/davicafu/sagalab/shared/platform/bus"
	sharedQuery "github.com/davicafu/sagalab/shared/platform/query"
)

type ProductionStatus string

const (
	ProductionPending    ProductionStatus = "PENDING"
	ProductionPublishing ProductionStatus = "PUBLISHING"
	ProductionPublished  ProductionStatus = "PUBLISHED"
	ProductionFailed     ProductionStatus = "FAILED"
)

type ConsumptionStatus string

const (
	ConsumptionReceived   ConsumptionStatus = "RECEIVED"
	ConsumptionProcessing ConsumptionStatus = "PROCESSING"
	ConsumptionProcessed  ConsumptionStatus = "PROCESSED"
	ConsumptionFailed     ConsumptionStatus = "FAILED"
)

const (
	DefaultMaxRetries = 3
	MaxErrorLength    = 1000
	MaxStackLength    = 4000
)

var (
	ErrRecordNotFound    = fmt.Errorf("%w: delivery record", sharedDomain.ErrNotFound)
	ErrInvalidTransition = fmt.Errorf("%w: invalid delivery status transition", sharedDomain.ErrConflict)
	ErrInvalidRecord     = fmt.Errorf("%w: invalid delivery record", sharedDomain.ErrValidation)
)

// Columnas filtrables y ordenables. Los criterios solo usan estas constantes.
const (
	FieldStatus        = "status"
	FieldTopic         = "topic"
	FieldCorrelationID = "correlation_id"
	FieldEventType     = "event_type"
	FieldConsumerGroup = "consumer_group"
	FieldCreatedAt     = "created_at"
	FieldUpdatedAt     = "updated_at"
	FieldReceivedAt    = "received_at"
	FieldRetryCount    = "retry_count"
	FieldEventID       = "event_id"
)

// ProductionRecord sigue la vida de un evento desde que se decide publicarlo.
type ProductionRecord struct {
	EventID       string           `json:"eventId"`
	Topic         string           `json:"topic"`
	Key           string           `json:"key"`
	EventType     string           `json:"eventType"`
	Payload       []byte           `json:"-"`
	Status        ProductionStatus `json:"status"`
	RetryCount    int              `json:"retryCount"`
	MaxRetries    int              `json:"maxRetries"`
	Destination   *bus.Coordinates `json:"destination,omitempty"`
	CorrelationID string           `json:"correlationId,omitempty"`
	LastError     string           `json:"lastError,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	PublishedAt   *time.Time       `json:"publishedAt,omitempty"`
}

// NewProductionRecord guarda el sobre serializado: el relayer lo publica tal cual.
func NewProductionRecord(topic, key string, evt events.IntegrationEvent, maxRetries int, now time.Time) (ProductionRecord, error) {
	if topic == "" {
		return ProductionRecord{}, fmt.Errorf("%w: topic is required", ErrInvalidRecord)
	}
	if err := evt.Validate(); err != nil {
		return ProductionRecord{}, err
	}
	payload, err := evt.Encode()
	if err != nil {
		return ProductionRecord{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if key == "" {
		key = evt.PartitionKey()
	}
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	return ProductionRecord{
		EventID:       evt.ID,
		Topic:         topic,
		Key:           key,
		EventType:     evt.Type,
		Payload:       payload,
		Status:        ProductionPending,
		MaxRetries:    maxRetries,
		CorrelationID: evt.CorrelationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Message construye el mensaje que el relayer entrega al bus.
func (r ProductionRecord) Message() bus.Message {
	return bus.Message{
		Topic: r.Topic,
		Key:   r.Key,
		Value: r.Payload,
		Headers: map[string]string{
			"event_id":       r.EventID,
			"event_type":     r.EventType,
			"correlation_id": r.CorrelationID,
		},
	}
}

func (r ProductionRecord) Retryable() bool {
	return r.Status == ProductionFailed && r.RetryCount < r.MaxRetries
}

func (r ProductionRecord) Terminal() bool {
	return r.Status == ProductionPublished || (r.Status == ProductionFailed && !r.Retryable())
}

// ConsumptionRecord sigue la vida de un evento recibido por un grupo de consumo.
type ConsumptionRecord struct {
	EventID          string            `json:"eventId"`
	Topic            string            `json:"topic"`
	Source           bus.Coordinates   `json:"source"`
	ConsumerGroup    string            `json:"consumerGroup"`
	EventType        string            `json:"eventType"`
	CorrelationID    string            `json:"correlationId,omitempty"`
	Status           ConsumptionStatus `json:"status"`
	RetryCount       int               `json:"retryCount"`
	MaxRetries       int               `json:"maxRetries"`
	ProcessingTimeMs int64             `json:"processingTimeMs"`
	ErrorMessage     string            `json:"errorMessage,omitempty"`
	ErrorStack       string            `json:"errorStack,omitempty"`
	ReceivedAt       time.Time         `json:"receivedAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	ProcessedAt      *time.Time        `json:"processedAt,omitempty"`
}

func NewConsumptionRecord(source bus.Coordinates, group string, evt events.IntegrationEvent, maxRetries int, now time.Time) (ConsumptionRecord, error) {
	if err := evt.Validate(); err != nil {
		return ConsumptionRecord{}, err
	}
	if group == "" {
		return ConsumptionRecord{}, fmt.Errorf("%w: consumer group is required", ErrInvalidRecord)
	}
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	return ConsumptionRecord{
		EventID:       evt.ID,
		Topic:         source.Topic,
		Source:        source,
		ConsumerGroup: group,
		EventType:     evt.Type,
		CorrelationID: evt.CorrelationID,
		Status:        ConsumptionReceived,
		MaxRetries:    maxRetries,
		ReceivedAt:    now,
		UpdatedAt:     now,
	}, nil
}

func (r ConsumptionRecord) Retryable() bool {
	return r.Status == ConsumptionFailed && r.RetryCount < r.MaxRetries
}

func (r ConsumptionRecord) Terminal() bool {
	return r.Status == ConsumptionProcessed || (r.Status == ConsumptionFailed && !r.Retryable())
}

// Orden por defecto de los listados y campos aceptados desde fuera.
var (
	DefaultProductionSort  = sharedQuery.Sort{Field: FieldCreatedAt, Desc: true}
	DefaultConsumptionSort = sharedQuery.Sort{Field: FieldReceivedAt, Desc: true}
	ProductionSortFields   = []string{FieldCreatedAt, FieldUpdatedAt, FieldRetryCount, FieldEventID}
	ConsumptionSortFields  = []string{FieldReceivedAt, FieldUpdatedAt, FieldRetryCount, FieldEventID}
)
