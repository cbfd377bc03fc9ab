package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	sharedBus "github.com/davicafu/sagalab/shared/platform/bus"
	sharedUtils "github.com/davicafu/sagalab/shared/utils"
)

// ConsumerAdapter es el "oído" que escucha en Kafka.
// Solo confirma el offset cuando el handler termina (bien o con fallo definitivo).
type ConsumerAdapter struct {
	reader   *kafka.Reader
	handler  sharedBus.MessageHandler
	attempts int
	log      *zap.Logger
}

func NewConsumerAdapter(brokers []string, topic, groupID string, handler sharedBus.MessageHandler, attempts int, log *zap.Logger) *ConsumerAdapter {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &ConsumerAdapter{
		reader:   reader,
		handler:  handler,
		attempts: attempts,
		log:      log,
	}
}

// Start inicia el bucle de consumo de mensajes en una goroutine.
func (c *ConsumerAdapter) Start(ctx context.Context) {
	cfg := c.reader.Config()
	c.log.Info("🎧 Iniciando consumidor de Kafka...",
		zap.String("topic", cfg.Topic),
		zap.String("group", cfg.GroupID),
		zap.Strings("brokers", cfg.Brokers),
	)

	go func() {
		defer c.reader.Close()
		for {
			// FetchMessage es bloqueante y no confirma el offset.
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.log.Info("Consumidor de Kafka detenido.", zap.String("topic", cfg.Topic))
					return
				}
				c.log.Error("Error al leer mensaje de Kafka", zap.Error(err))
				continue
			}

			delivery := toDelivery(msg)
			_, err = sharedUtils.RetryWithBackoff(ctx, sharedUtils.BackoffPolicy{
				Attempts:  c.attempts,
				BaseDelay: 200 * time.Millisecond,
				MaxDelay:  5 * time.Second,
				Jitter:    0.2,
			}, func(ctx context.Context, attempt int) error {
				return c.handler.HandleMessage(ctx, delivery)
			})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// Confirmamos para no bloquear la partición; el handler cierra su registro.
				c.log.Error("Mensaje confirmado tras agotar reintentos",
					zap.String("coordinates", delivery.Source.String()),
					zap.Error(err))
				sharedBus.NotifyExhausted(ctx, c.handler, delivery, err)
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.log.Warn("⚠️ No se pudo confirmar el offset", zap.String("coordinates", delivery.Source.String()), zap.Error(err))
			}
		}
	}()
}

func toDelivery(msg kafka.Message) sharedBus.Delivery {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return sharedBus.Delivery{
		Message: sharedBus.Message{
			Topic:   msg.Topic,
			Key:     string(msg.Key),
			Value:   msg.Value,
			Headers: headers,
		},
		Source: sharedBus.Coordinates{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
		},
	}
}
