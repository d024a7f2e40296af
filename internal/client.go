package internal

import (
	"time"

	"github.com/sirupsen/logrus"
)

type RawClient interface {
	Dispatch(name string, args ...string) <-chan Response
}

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Request is a command waiting for its single reply line.
type Request struct {
	command         []byte
	responseChannel chan Response
}

func newRequest(command []byte) *Request {
	// buffered so the event path never blocks on a caller that stopped listening
	return &Request{command: command, responseChannel: make(chan Response, 1)}
}

func (r *Request) resolve(value string) {
	r.responseChannel <- Response{Value: value}
}

func (r *Request) fail(err error) {
	r.responseChannel <- Response{Error: err}
}

type Response struct {
	Value string
	Error error
}

type ConnectionTarget struct {
	Address string
	Port    int
}

type Framing int

const (
	// FrameLine delivers one reply per '\n' terminated line.
	FrameLine Framing = iota
	// FrameChunk delivers whatever a single transport read returned.
	FrameChunk
)

type ArgPolicy int

const (
	ArgsRaw ArgPolicy = iota
	ArgsReject
	ArgsQuote
)

const (
	DefaultDialTimeout       = 5 * time.Second
	DefaultReconnectAttempts = 3
	DefaultReconnectMin      = 100 * time.Millisecond
	DefaultReconnectMax      = 2 * time.Second
)

type Options struct {
	DialTimeout time.Duration
	KeepAlive   time.Duration
	Framing     Framing
	ArgPolicy   ArgPolicy

	// MaxQueued bounds the request queue, 0 means unbounded.
	MaxQueued int

	Reconnect         bool
	ReconnectAttempts int
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration

	Logger *logrus.Logger
}

func DefaultOptions() Options {
	return Options{
		DialTimeout:       DefaultDialTimeout,
		ReconnectAttempts: DefaultReconnectAttempts,
		ReconnectMin:      DefaultReconnectMin,
		ReconnectMax:      DefaultReconnectMax,
	}
}
