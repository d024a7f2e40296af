package client

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jsp-lqk/linepipe/internal"
)

// Conn is a single connection to one server. Commands issued while another one is
// outstanding are queued and sent in order, one at a time.
type Conn struct {
	driver *internal.Driver
}

var _ Client = (*Conn)(nil)

func NewConn(opts ...Option) *Conn {
	return &Conn{driver: internal.NewDriver(nil, buildOptions(opts))}
}

func (c *Conn) Connect(ctx context.Context, host string, port int) error {
	return c.driver.Connect(ctx, host, port)
}

// Disconnect closes the connection. It is safe to call at any time, including
// when already disconnected.
func (c *Conn) Disconnect() {
	c.driver.Disconnect()
}

func (c *Conn) Shutdown() {
	c.driver.Disconnect()
}

func (c *Conn) State() State {
	return c.driver.State()
}

func (c *Conn) Addr() string {
	return c.driver.Addr()
}

// Dispatch issues a command without waiting. The returned channel delivers
// exactly one Response.
func (c *Conn) Dispatch(name string, args ...string) <-chan Response {
	return c.driver.Dispatch(name, args...)
}

// SendCommand issues a command and waits for its reply. If ctx ends first the
// request stays queued and will still consume its reply when it arrives.
func (c *Conn) SendCommand(ctx context.Context, name string, args ...string) (string, error) {
	ch := c.driver.Dispatch(name, args...)
	select {
	case r := <-ch:
		if r.Error != nil {
			return "", fmt.Errorf("operation failed: %w", r.Error)
		}
		return r.Value, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Conn) Set(ctx context.Context, key, value string) (string, error) {
	return c.SendCommand(ctx, "SET", key, value)
}

func (c *Conn) Get(ctx context.Context, key string) (string, error) {
	return c.SendCommand(ctx, "GET", key)
}

func (c *Conn) Append(ctx context.Context, key, value string) (string, error) {
	return c.SendCommand(ctx, "APPEND", key, value)
}

func (c *Conn) Strlen(ctx context.Context, key string) (string, error) {
	return c.SendCommand(ctx, "STRLEN", key)
}

func (c *Conn) Incr(ctx context.Context, key string) (string, error) {
	return c.SendCommand(ctx, "INCR", key)
}

func (c *Conn) RPush(ctx context.Context, key, value string) (string, error) {
	return c.SendCommand(ctx, "RPUSH", key, value)
}

func (c *Conn) LPush(ctx context.Context, key, value string) (string, error) {
	return c.SendCommand(ctx, "LPUSH", key, value)
}

func (c *Conn) RPop(ctx context.Context, key string) (string, error) {
	return c.SendCommand(ctx, "RPOP", key)
}

func (c *Conn) LPop(ctx context.Context, key string) (string, error) {
	return c.SendCommand(ctx, "LPOP", key)
}

func (c *Conn) LLen(ctx context.Context, key string) (string, error) {
	return c.SendCommand(ctx, "LLEN", key)
}

func (c *Conn) Expire(ctx context.Context, key string, seconds int) (string, error) {
	return c.SendCommand(ctx, "EXPIRE", key, strconv.Itoa(seconds))
}

func (c *Conn) TTL(ctx context.Context, key string) (string, error) {
	return c.SendCommand(ctx, "TTL", key)
}

func (c *Conn) Publish(ctx context.Context, channel, message string) (string, error) {
	return c.SendCommand(ctx, "PUB", channel, message)
}

// Export asks the server to write a snapshot to filename on its side.
func (c *Conn) Export(ctx context.Context, filename string) (string, error) {
	return c.SendCommand(ctx, "EXPORT", filename)
}
