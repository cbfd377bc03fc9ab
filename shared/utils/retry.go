package utils

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Retry ejecuta una función con reintentos configurables
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-time.After(delay):
			// espera antes del siguiente intento
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// BackoffPolicy configura RetryWithBackoff.
type BackoffPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter en [0,1]: fracción del delay que se aleatoriza.
	Jitter float64
	// Retryable decide si un error merece otro intento. nil = todos.
	Retryable func(error) bool
}

// RetryWithBackoff reintenta fn con backoff exponencial y jitter.
// Devuelve el número de intentos realizados y el último error.
// fn recibe el número de intento empezando en 1.
func RetryWithBackoff(ctx context.Context, p BackoffPolicy, fn func(ctx context.Context, attempt int) error) (int, error) {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return attempt, err
		}
		if attempt == p.Attempts {
			break
		}

		select {
		case <-time.After(p.delay(attempt)):
		case <-ctx.Done():
			return attempt, ctx.Err()
		}
	}
	return p.Attempts, err
}

func (p BackoffPolicy) delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		spread := d * p.Jitter
		d = d - spread + rand.Float64()*2*spread
	}
	return time.Duration(d)
}
