package bus

import (
	"context"
	"fmt"
)

type Keyer interface {
	PartitionKey() string
}

// Message es lo que el tracker entrega al cliente del bus: topic, clave y payload serializado.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Coordinates indica dónde aterrizó (o de dónde salió) un mensaje dentro del broker.
// Offset = -1 cuando el broker no lo informa.
type Coordinates struct {
	Topic     string `json:"topic"`
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
}

func (c Coordinates) String() string {
	return fmt.Sprintf("%s[%d]@%d", c.Topic, c.Partition, c.Offset)
}

// La semántica de topic/nombre y formato del payload la decides en los adapters.
type EventPublisher interface {
	Publish(ctx context.Context, msg Message) (Coordinates, error)
}

// Delivery es un mensaje recibido junto con sus coordenadas de origen.
type Delivery struct {
	Message Message
	Source  Coordinates
}

// MessageHandler define la interfaz que debe cumplir cualquier consumidor de mensajes.
// Devolver error indica que el mensaje no debe confirmarse (se redelivera).
type MessageHandler interface {
	HandleMessage(ctx context.Context, d Delivery) error
}

// ExhaustedHandler lo implementan los handlers que necesitan saber que el bus deja de
// reintentar un mensaje y va a confirmarlo igualmente.
type ExhaustedHandler interface {
	HandleExhausted(ctx context.Context, d Delivery, cause error)
}

// NotifyExhausted avisa al handler si implementa ExhaustedHandler.
func NotifyExhausted(ctx context.Context, h MessageHandler, d Delivery, cause error) {
	if eh, ok := h.(ExhaustedHandler); ok {
		eh.HandleExhausted(ctx, d, cause)
	}
}

// HandlerFunc adapta una función a MessageHandler.
type HandlerFunc func(ctx context.Context, d Delivery) error

func (f HandlerFunc) HandleMessage(ctx context.Context, d Delivery) error { return f(ctx, d) }
