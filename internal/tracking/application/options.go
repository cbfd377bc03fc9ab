package application

import "time"

type options struct {
	clock func() time.Time
}

type Option func(*options)

// WithClock sustituye el reloj de los trackers (tests).
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

func buildOptions(opts []Option) options {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) now() time.Time {
	return o.clock().UTC()
}
