package sync

import (
	"context"
	"errors"
	"hash/fnv"
	"time"
)

// ErrLockTimeout is returned when a shard cannot be acquired in time.
var ErrLockTimeout = errors.New("shard lock acquisition timed out")

const defaultShards = 64

// ShardedMutex provides per-key locking spread across a fixed number of shards.
// Keys hashing to the same shard serialize; everything else proceeds in parallel.
// Shards are one-slot channels so acquisition can be bounded by a timeout.
type ShardedMutex struct {
	shards []chan struct{}
}

// NewShardedMutex creates a ShardedMutex with n shards (64 when n <= 0).
func NewShardedMutex(n int) *ShardedMutex {
	if n <= 0 {
		n = defaultShards
	}
	m := &ShardedMutex{shards: make([]chan struct{}, n)}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
	}
	return m
}

// Lock acquires the lock for the given key's shard, blocking until available.
func (m *ShardedMutex) Lock(key string) {
	m.shards[m.shardFor(key)] <- struct{}{}
}

// Unlock releases the lock for the given key's shard.
func (m *ShardedMutex) Unlock(key string) {
	<-m.shards[m.shardFor(key)]
}

// LockTimeout acquires key's shard, giving up after timeout or when ctx ends.
// On success the returned function releases the lock.
func (m *ShardedMutex) LockTimeout(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	shard := m.shards[m.shardFor(key)]

	// Fast path avoids allocating a timer when uncontended.
	select {
	case shard <- struct{}{}:
		return func() { <-shard }, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case shard <- struct{}{}:
		return func() { <-shard }, nil
	case <-timer.C:
		return nil, ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// shardFor returns the shard index for the given key. Empty keys map to shard 0.
func (m *ShardedMutex) shardFor(key string) int {
	if key == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.shards)))
}
