package client

import (
	"hash/fnv"

	"github.com/dgryski/go-jump"
)

// ShardedRouter spreads keys over connections with jump consistent hashing.
type ShardedRouter struct {
	conns []*Conn
}

func NewShardedRouter(conns ...*Conn) *ShardedRouter {
	return &ShardedRouter{conns: conns}
}

func stringToUint64(s string) uint64 {
	hasher := fnv.New64a()
	hasher.Write([]byte(s))
	return hasher.Sum64()
}

func (r *ShardedRouter) Route(key string) *Conn {
	i := jump.Hash(stringToUint64(key), len(r.conns))
	return r.conns[i]
}

func (r *ShardedRouter) Conns() []*Conn {
	return r.conns
}

func (r *ShardedRouter) Shutdown() {
	for _, c := range r.conns {
		c.Shutdown()
	}
}
