package domain

import (
	"context"

	esDomain "github.com/davicafu/sagalab/internal/eventstore/domain"
)

// EventSource es la parte del Event Store que necesita el replay.
type EventSource interface {
	GetEventStream(ctx context.Context, aggregateID string) ([]esDomain.Event, error)
}
