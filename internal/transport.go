package internal

import "context"

type EventKind int

const (
	DataReceived EventKind = iota
	TransportFailed
	Closed
)

func (k EventKind) String() string {
	switch k {
	case DataReceived:
		return "data"
	case TransportFailed:
		return "error"
	case Closed:
		return "close"
	default:
		return "unknown"
	}
}

// Event is everything a transport can report to the driver.
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

// Transport is one established connection.
//
// Start begins delivering events to sink from a single goroutine. Done is closed
// after the last event has been delivered. Write is only called by the driver while
// it holds its lock, so implementations need not guard it.
type Transport interface {
	Start(sink func(Event))
	Write(p []byte) error
	Close() error
	Done() <-chan struct{}
}

type Dialer interface {
	Dial(ctx context.Context, addr string) (Transport, error)
}
