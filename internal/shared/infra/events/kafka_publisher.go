package events

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/segmentio/kafka-go"

	sharedBus "github.com/davicafu/sagalab/shared/platform/bus"
)

// KafkaPublisher publica mensajes con el balanceador Hash: misma clave, misma partición.
type KafkaPublisher struct {
	writer  *kafka.Writer
	dialer  *kafka.Dialer
	brokers []string
	hash    *kafka.Hash

	mu         sync.Mutex
	partitions map[string][]int

	log *zap.Logger
}

func NewKafkaPublisher(brokers []string, log *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{
		writer:     writer,
		dialer:     kafka.DefaultDialer,
		brokers:    brokers,
		hash:       &kafka.Hash{},
		partitions: make(map[string][]int),
		log:        log,
	}
}

// Publish escribe el mensaje y devuelve sus coordenadas. La partición se calcula con el mismo
// balanceador que usa el writer; el offset no lo expone el writer síncrono (-1).
func (p *KafkaPublisher) Publish(ctx context.Context, msg sharedBus.Message) (sharedBus.Coordinates, error) {
	km := kafka.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.Key),
		Value: msg.Value,
	}
	for k, v := range msg.Headers {
		km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	if err := p.writer.WriteMessages(ctx, km); err != nil {
		p.log.Error("Error publishing to Kafka", zap.String("topic", msg.Topic), zap.Error(err))
		return sharedBus.Coordinates{}, err
	}

	coords := sharedBus.Coordinates{
		Topic:     msg.Topic,
		Partition: p.partitionFor(ctx, km),
		Offset:    -1,
	}
	p.log.Debug("Event published successfully", zap.String("coordinates", coords.String()))
	return coords, nil
}

func (p *KafkaPublisher) partitionFor(ctx context.Context, km kafka.Message) int {
	p.mu.Lock()
	ids, ok := p.partitions[km.Topic]
	p.mu.Unlock()

	if !ok {
		if len(p.brokers) == 0 {
			return -1
		}
		parts, err := p.dialer.LookupPartitions(ctx, "tcp", p.brokers[0], km.Topic)
		if err != nil || len(parts) == 0 {
			p.log.Warn("No se pudieron leer las particiones del topic", zap.String("topic", km.Topic), zap.Error(err))
			return -1
		}
		ids = make([]int, 0, len(parts))
		for _, part := range parts {
			ids = append(ids, part.ID)
		}
		sort.Ints(ids)

		p.mu.Lock()
		p.partitions[km.Topic] = ids
		p.mu.Unlock()
	}
	return p.hash.Balance(km, ids...)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Verificación estática
var _ sharedBus.EventPublisher = (*KafkaPublisher)(nil)
