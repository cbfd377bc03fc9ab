package application

import (
	"time"

	"github.com/google/uuid"

	"github.com/davicafu/sagalab/shared/events"
	"github.com/davicafu/sagalab/shared/platform/cache"
)

// Config son los límites de ejecución de cada paso.
type Config struct {
	StepTimeout         time.Duration
	StepRetries         int
	CompensationRetries int
	RetryDelay          time.Duration
	CacheTTL            time.Duration
	Topic               string
}

func DefaultConfig() Config {
	return Config{
		StepTimeout:         5 * time.Second,
		StepRetries:         3,
		CompensationRetries: 5,
		RetryDelay:          200 * time.Millisecond,
		CacheTTL:            5 * time.Minute,
		Topic:               events.BookingTopic,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StepTimeout <= 0 {
		c.StepTimeout = d.StepTimeout
	}
	if c.StepRetries < 1 {
		c.StepRetries = d.StepRetries
	}
	if c.CompensationRetries < 1 {
		c.CompensationRetries = d.CompensationRetries
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.Topic == "" {
		c.Topic = d.Topic
	}
	return c
}

type Option func(*Orchestrator)

func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// WithCache activa el cache-aside de las consultas (solo sagas terminadas).
func WithCache(c cache.Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithSteps limita el plan de reserva a los pasos indicados, en ese orden.
// Los nombres desconocidos se ignoran.
func WithSteps(names ...string) Option {
	return func(o *Orchestrator) {
		var plan []step
		for _, n := range names {
			if st, ok := stepByName(bookingPlan, n); ok {
				plan = append(plan, st)
			}
		}
		if len(plan) > 0 {
			o.plan = plan
		}
	}
}

func defaultID() string { return uuid.NewString() }
