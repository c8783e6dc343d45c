// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache is a cache-aside store for per-account configuration.
// Entries are loaded lazily from the source of truth, expire after a TTL
// and are dropped synchronously when the backing record is written.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL bounds how long an entry may be served without a reload.
const DefaultTTL = 10 * time.Minute

var requests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mailflow_config_cache_requests_total",
	Help: "Config cache lookups by cache and result",
}, []string{"cache", "result"})

// Loader reads a value from the source of truth. found is false when no
// record exists; that answer is cached too.
type Loader[V any] func(ctx context.Context, key string) (v V, found bool, err error)

type entry struct {
	data    []byte
	found   bool
	expires time.Time
}

// Cache is a TTL cache in front of a Loader. It is safe for concurrent use.
type Cache[V any] struct {
	name string
	ttl  time.Duration
	load Loader[V]
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]entry
	// gens holds the sequence number of each key's last invalidation.
	// Pruned keys read as floor, the highest pruned number, so a load
	// that started before a pruned invalidation still never matches.
	gens      map[string]uint64
	seq       uint64
	floor     uint64
	lastSweep time.Time
	group     singleflight.Group
}

// New creates a cache. name labels its metrics.
func New[V any](name string, ttl time.Duration, load Loader[V]) *Cache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[V]{
		name:    name,
		ttl:     ttl,
		load:    load,
		now:     time.Now,
		entries: make(map[string]entry),
		gens:    make(map[string]uint64),
	}
}

// generation returns the current generation of key. Callers hold mu.
func (c *Cache[V]) generation(key string) uint64 {
	if g, ok := c.gens[key]; ok {
		return g
	}
	return c.floor
}

// sweep drops expired entries and the generations of keys without an
// entry, at most once per TTL. Callers hold mu.
func (c *Cache[V]) sweep(now time.Time) {
	if now.Sub(c.lastSweep) < c.ttl {
		return
	}
	c.lastSweep = now
	for key, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, key)
		}
	}
	for key, g := range c.gens {
		if _, ok := c.entries[key]; ok {
			continue
		}
		c.floor = max(c.floor, g)
		delete(c.gens, key)
	}
}

type loaded struct {
	data  []byte
	found bool
}

// Get returns the value for key, loading it on a miss. Every caller gets
// its own copy. Concurrent misses for the same key share one load.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V

	now := c.now()
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !now.Before(e.expires) {
		delete(c.entries, key)
		ok = false
	}
	c.sweep(now)
	gen := c.generation(key)
	c.mu.Unlock()

	if ok {
		if !e.found {
			requests.WithLabelValues(c.name, "hit").Inc()
			return zero, false, nil
		}
		var v V
		err := json.Unmarshal(e.data, &v)
		if err == nil {
			requests.WithLabelValues(c.name, "hit").Inc()
			return v, true, nil
		}
		slog.Warn("cached value unreadable, loading directly",
			"cache", c.name,
			"key", key,
			"error", err,
		)
		return c.load(ctx, key)
	}
	requests.WithLabelValues(c.name, "miss").Inc()

	ch := c.group.DoChan(key+"\x00"+strconv.FormatUint(gen, 10), func() (any, error) {
		v, found, err := c.load(context.WithoutCancel(ctx), key)
		if err != nil {
			return nil, err
		}

		var data []byte
		if found {
			if data, err = json.Marshal(v); err != nil {
				return nil, err
			}
		}

		c.mu.Lock()
		if c.generation(key) == gen {
			c.entries[key] = entry{data: data, found: found, expires: c.now().Add(c.ttl)}
		}
		c.mu.Unlock()
		return loaded{data: data, found: found}, nil
	})

	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		l := res.Val.(loaded)
		if !l.found {
			return zero, false, nil
		}
		var v V
		if err := json.Unmarshal(l.data, &v); err != nil {
			return c.load(ctx, key)
		}
		return v, true, nil
	}
}

// Invalidate drops the entry for key. A load already in flight when
// Invalidate is called will not repopulate the cache.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.seq++
	c.gens[key] = c.seq
}

// Getter is the read side of a Cache.
type Getter[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
}
