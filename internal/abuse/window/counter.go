// Package window counts events per key inside a trailing time window.
package window

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

const defaultShards = 32

// Counter is an in-memory sliding window counter. Keys are spread across
// shards so unrelated principals never contend on the same mutex.
type Counter struct {
	shards []*shard
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow
}

// slidingWindow keeps event timestamps in ascending order.
type slidingWindow struct {
	timestamps []time.Time
	lastSeen   time.Time
}

// record inserts at keeping order; out-of-order arrivals from concurrent
// requests are placed where they belong.
func (sw *slidingWindow) record(at time.Time) {
	n := len(sw.timestamps)
	if n == 0 || !at.Before(sw.timestamps[n-1]) {
		sw.timestamps = append(sw.timestamps, at)
	} else {
		i := sort.Search(n, func(i int) bool { return sw.timestamps[i].After(at) })
		sw.timestamps = append(sw.timestamps, time.Time{})
		copy(sw.timestamps[i+1:], sw.timestamps[i:])
		sw.timestamps[i] = at
	}
	if at.After(sw.lastSeen) {
		sw.lastSeen = at
	}
}

// cleanupExpired drops events at or before now-window.
func (sw *slidingWindow) cleanupExpired(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		sw.timestamps = append(sw.timestamps[:0], sw.timestamps[i:]...)
	}
}

// New creates a Counter.
func New() *Counter {
	c := &Counter{shards: make([]*shard, defaultShards)}
	for i := range c.shards {
		c.shards[i] = &shard{windows: make(map[string]*slidingWindow)}
	}
	return c
}

func (c *Counter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Record appends an event at the given time, evicts expired entries and
// returns the in-window count including the new event.
func (c *Counter) Record(_ context.Context, key string, at time.Time, window time.Duration) (int, error) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	sw, ok := s.windows[key]
	if !ok {
		sw = &slidingWindow{}
		s.windows[key] = sw
	}
	sw.record(at)
	sw.cleanupExpired(at, window)
	return len(sw.timestamps), nil
}

// Count returns the number of events with timestamp > now-window.
func (c *Counter) Count(_ context.Context, key string, now time.Time, window time.Duration) (int, error) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	sw, ok := s.windows[key]
	if !ok {
		return 0, nil
	}
	sw.cleanupExpired(now, window)
	return len(sw.timestamps), nil
}

// Reset clears all events for key.
func (c *Counter) Reset(_ context.Context, key string) error {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// Sweep drops keys whose newest event is at or before now-maxWindow and
// returns how many were removed.
func (c *Counter) Sweep(now time.Time, maxWindow time.Duration) int {
	cutoff := now.Add(-maxWindow)
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key, sw := range s.windows {
			if !sw.lastSeen.After(cutoff) {
				delete(s.windows, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked keys.
func (c *Counter) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += len(s.windows)
		s.mu.Unlock()
	}
	return total
}
