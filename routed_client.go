package client

import (
	"context"
	"errors"
	"fmt"
)

// RoutedClient sends every command to the connection its Router picks for the
// command's first argument.
type RoutedClient struct {
	router Router
}

var _ Client = (*RoutedClient)(nil)

func NewRoutedClient(r Router) *RoutedClient {
	return &RoutedClient{router: r}
}

// SingleTargetClient connects to one server.
func SingleTargetClient(target ConnectionTarget, opts ...Option) (Client, error) {
	c, err := dialTarget(context.Background(), target, opts)
	if err != nil {
		return nil, err
	}
	return NewRoutedClient(NewDirectRouter(c)), nil
}

func ShardedClient(targets ...ConnectionTarget) (Client, error) {
	return ShardedClientWithOptions(nil, targets...)
}

// ShardedClientWithOptions connects to every target and shards keys over them.
// If any connect fails, the connections already made are closed.
func ShardedClientWithOptions(opts []Option, targets ...ConnectionTarget) (Client, error) {
	if len(targets) == 0 {
		return nil, errors.New("no targets")
	}
	conns := make([]*Conn, 0, len(targets))
	for _, t := range targets {
		c, err := dialTarget(context.Background(), t, opts)
		if err != nil {
			for _, c := range conns {
				c.Shutdown()
			}
			return nil, err
		}
		conns = append(conns, c)
	}
	return NewRoutedClient(NewShardedRouter(conns...)), nil
}

func dialTarget(ctx context.Context, t ConnectionTarget, opts []Option) (*Conn, error) {
	port := t.Port
	if port == 0 {
		port = DefaultPort
	}
	c := NewConn(opts...)
	if err := c.Connect(ctx, t.Address, port); err != nil {
		return nil, fmt.Errorf("connecting to target: %w", err)
	}
	return c, nil
}

func (c *RoutedClient) Router() Router {
	return c.router
}

func (c *RoutedClient) route(key string) *Conn {
	return c.router.Route(key)
}

func (c *RoutedClient) SendCommand(ctx context.Context, name string, args ...string) (string, error) {
	key := ""
	if len(args) > 0 {
		key = args[0]
	}
	return c.route(key).SendCommand(ctx, name, args...)
}

func (c *RoutedClient) Set(ctx context.Context, key, value string) (string, error) {
	return c.route(key).Set(ctx, key, value)
}

func (c *RoutedClient) Get(ctx context.Context, key string) (string, error) {
	return c.route(key).Get(ctx, key)
}

func (c *RoutedClient) Append(ctx context.Context, key, value string) (string, error) {
	return c.route(key).Append(ctx, key, value)
}

func (c *RoutedClient) Strlen(ctx context.Context, key string) (string, error) {
	return c.route(key).Strlen(ctx, key)
}

func (c *RoutedClient) Incr(ctx context.Context, key string) (string, error) {
	return c.route(key).Incr(ctx, key)
}

func (c *RoutedClient) RPush(ctx context.Context, key, value string) (string, error) {
	return c.route(key).RPush(ctx, key, value)
}

func (c *RoutedClient) LPush(ctx context.Context, key, value string) (string, error) {
	return c.route(key).LPush(ctx, key, value)
}

func (c *RoutedClient) RPop(ctx context.Context, key string) (string, error) {
	return c.route(key).RPop(ctx, key)
}

func (c *RoutedClient) LPop(ctx context.Context, key string) (string, error) {
	return c.route(key).LPop(ctx, key)
}

func (c *RoutedClient) LLen(ctx context.Context, key string) (string, error) {
	return c.route(key).LLen(ctx, key)
}

func (c *RoutedClient) Expire(ctx context.Context, key string, seconds int) (string, error) {
	return c.route(key).Expire(ctx, key, seconds)
}

func (c *RoutedClient) TTL(ctx context.Context, key string) (string, error) {
	return c.route(key).TTL(ctx, key)
}

func (c *RoutedClient) Publish(ctx context.Context, channel, message string) (string, error) {
	return c.route(channel).Publish(ctx, channel, message)
}

// GetMany fetches keys concurrently. Keys on the same connection still go out one
// at a time; keys on different shards overlap.
func (c *RoutedClient) GetMany(ctx context.Context, keys []string) (map[string]string, error) {
	type result struct {
		key   string
		value string
		err   error
	}
	results := make(chan result, len(keys))
	for _, k := range keys {
		ch := c.route(k).Dispatch("GET", k)
		go func(k string) {
			select {
			case r := <-ch:
				results <- result{key: k, value: r.Value, err: r.Error}
			case <-ctx.Done():
				results <- result{key: k, err: ctx.Err()}
			}
		}(k)
	}

	out := make(map[string]string, len(keys))
	var firstErr error
	for range keys {
		r := <-results
		if r.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("operation failed: %w", r.err)
			}
			continue
		}
		out[r.key] = r.value
	}
	return out, firstErr
}

func (c *RoutedClient) Shutdown() {
	c.router.Shutdown()
}
