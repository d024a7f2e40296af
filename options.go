package client

import (
	"time"

	"github.com/jsp-lqk/linepipe/internal"
	"github.com/sirupsen/logrus"
)

type Option func(*internal.Options)

func WithDialTimeout(d time.Duration) Option {
	return func(o *internal.Options) { o.DialTimeout = d }
}

func WithKeepAlive(d time.Duration) Option {
	return func(o *internal.Options) { o.KeepAlive = d }
}

func WithFraming(f Framing) Option {
	return func(o *internal.Options) { o.Framing = f }
}

// WithArgPolicy picks how arguments containing whitespace are put on the wire.
// Anything other than ArgsRaw is an extension of the protocol.
func WithArgPolicy(p ArgPolicy) Option {
	return func(o *internal.Options) { o.ArgPolicy = p }
}

// WithMaxQueued bounds the number of requests waiting behind the one in flight.
// Requests beyond it fail with ErrConnectionOverloaded.
func WithMaxQueued(n int) Option {
	return func(o *internal.Options) { o.MaxQueued = n }
}

// WithReconnect redials after the server hangs up, keeping queued requests for the
// new connection. The request in flight at the time still fails.
func WithReconnect(attempts int, min, max time.Duration) Option {
	return func(o *internal.Options) {
		o.Reconnect = true
		if attempts > 0 {
			o.ReconnectAttempts = attempts
		}
		if min > 0 {
			o.ReconnectMin = min
		}
		if max > 0 {
			o.ReconnectMax = max
		}
	}
}

func WithLogger(l *logrus.Logger) Option {
	return func(o *internal.Options) { o.Logger = l }
}

func buildOptions(opts []Option) internal.Options {
	o := internal.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
