package client

import (
	"context"

	"github.com/jsp-lqk/linepipe/internal"
)

// DefaultPort is the port the line-protocol server listens on unless told otherwise.
const DefaultPort = 8079

type (
	State            = internal.State
	Response         = internal.Response
	Framing          = internal.Framing
	ArgPolicy        = internal.ArgPolicy
	ConnectionError  = internal.ConnectionError
	TransportError   = internal.TransportError
	ConnectionTarget = internal.ConnectionTarget
)

const (
	Disconnected = internal.Disconnected
	Connecting   = internal.Connecting
	Connected    = internal.Connected
	Closing      = internal.Closing

	FrameLine  = internal.FrameLine
	FrameChunk = internal.FrameChunk

	ArgsRaw    = internal.ArgsRaw
	ArgsReject = internal.ArgsReject
	ArgsQuote  = internal.ArgsQuote
)

var (
	ErrNotConnected         = internal.ErrNotConnected
	ErrConnectionClosed     = internal.ErrConnectionClosed
	ErrConnectionOverloaded = internal.ErrConnectionOverloaded
	ErrInvalidState         = internal.ErrInvalidState
	ErrInvalidArgument      = internal.ErrInvalidArgument
)

// Client is the command surface shared by a single connection and a routed set of
// connections. Every method returns the server's reply line as is.
type Client interface {
	SendCommand(ctx context.Context, name string, args ...string) (string, error)

	Set(ctx context.Context, key, value string) (string, error)
	Get(ctx context.Context, key string) (string, error)
	Append(ctx context.Context, key, value string) (string, error)
	Strlen(ctx context.Context, key string) (string, error)

	Incr(ctx context.Context, key string) (string, error)
	RPush(ctx context.Context, key, value string) (string, error)
	LPush(ctx context.Context, key, value string) (string, error)
	RPop(ctx context.Context, key string) (string, error)
	LPop(ctx context.Context, key string) (string, error)
	LLen(ctx context.Context, key string) (string, error)
	Expire(ctx context.Context, key string, seconds int) (string, error)
	TTL(ctx context.Context, key string) (string, error)
	Publish(ctx context.Context, channel, message string) (string, error)

	Shutdown()
}
