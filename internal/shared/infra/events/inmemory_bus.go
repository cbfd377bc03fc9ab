package events

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	sharedBus "github.com/davicafu/sagalab/shared/platform/bus"
	sharedUtils "github.com/davicafu/sagalab/shared/utils"
)

// InMemoryEventBus implementa el bus en proceso para el modo local.
// Cada topic es una única partición (0) con offsets crecientes.
type InMemoryEventBus struct {
	mu          sync.RWMutex // protege subscribers y closed
	subscribers map[string][]chan sharedBus.Delivery
	closed      bool

	offsetsMu sync.Mutex
	offsets   map[string]int64

	log *zap.Logger
}

var ErrBusClosed = errors.New("in-memory bus closed")

// Verifica en tiempo de compilación que cumple la interfaz
var _ sharedBus.EventPublisher = (*InMemoryEventBus)(nil)

func NewInMemoryEventBus(log *zap.Logger) *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make(map[string][]chan sharedBus.Delivery),
		offsets:     make(map[string]int64),
		log:         log,
	}
}

// Publish asigna el siguiente offset del topic y entrega el mensaje a todos los suscriptores.
// A diferencia de un broker real, bloquea si algún suscriptor tiene el buffer lleno.
func (b *InMemoryEventBus) Publish(ctx context.Context, msg sharedBus.Message) (sharedBus.Coordinates, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return sharedBus.Coordinates{}, ErrBusClosed
	}

	b.offsetsMu.Lock()
	coords := sharedBus.Coordinates{Topic: msg.Topic, Partition: 0, Offset: b.offsets[msg.Topic]}
	b.offsets[msg.Topic]++
	b.offsetsMu.Unlock()

	delivery := sharedBus.Delivery{Message: msg, Source: coords}
	for _, sub := range b.subscribers[msg.Topic] {
		select {
		case sub <- delivery:
		case <-ctx.Done():
			return sharedBus.Coordinates{}, ctx.Err()
		}
	}
	return coords, nil
}

// Subscribe suscribe un nuevo oyente al topic.
func (b *InMemoryEventBus) Subscribe(topic string, bufferSize int) <-chan sharedBus.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan sharedBus.Delivery, bufferSize)
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	return ch
}

// Consume arranca una goroutine que pasa cada entrega al handler.
// Si el handler falla se reintenta en local: aquí no existe redelivery del broker.
func (b *InMemoryEventBus) Consume(ctx context.Context, topic string, bufferSize, attempts int, handler sharedBus.MessageHandler) {
	if attempts < 1 {
		attempts = 1
	}
	ch := b.Subscribe(topic, bufferSize)
	b.log.Info("🎧 Consumidor en memoria iniciado", zap.String("topic", topic))

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.log.Info("🛑 Consumidor en memoria detenido", zap.String("topic", topic))
				return
			case d, ok := <-ch:
				if !ok {
					return
				}
				err := sharedUtils.Retry(ctx, attempts, 0, func() error {
					return handler.HandleMessage(ctx, d)
				})
				if err != nil && ctx.Err() == nil {
					b.log.Error("Mensaje descartado tras agotar reintentos",
						zap.String("topic", topic),
						zap.Int64("offset", d.Source.Offset),
						zap.Error(err))
					sharedBus.NotifyExhausted(ctx, handler, d, err)
				}
			}
		}
	}()
}

// Close cierra todos los canales de suscripción.
func (b *InMemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
}
