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

package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// source is a fake source of truth.
type source struct {
	mu     sync.Mutex
	values map[string][]string
	calls  atomic.Int32
	err    error
	gate   chan struct{}
}

func (s *source) load(_ context.Context, key string) ([]string, bool, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, false, s.err
	}
	v, ok := s.values[key]
	return append([]string(nil), v...), ok, nil
}

func (s *source) set(key string, v []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = v
}

// TestCache_HitAfterMiss verifies the second lookup is served from cache.
func TestCache_HitAfterMiss(t *testing.T) {
	src := &source{values: map[string][]string{"a1": {"rule"}}}
	c := New("test", time.Minute, src.load)

	for i := 0; i < 3; i++ {
		v, found, err := c.Get(context.Background(), "a1")
		if err != nil || !found || len(v) != 1 || v[0] != "rule" {
			t.Fatalf("get %d = %v %v %v", i, v, found, err)
		}
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("loads = %d, want 1", n)
	}
}

// TestCache_NotFoundIsCached verifies an absent record is remembered.
func TestCache_NotFoundIsCached(t *testing.T) {
	src := &source{values: map[string][]string{}}
	c := New("test", time.Minute, src.load)

	for i := 0; i < 2; i++ {
		if _, found, err := c.Get(context.Background(), "none"); found || err != nil {
			t.Fatalf("get = %v %v, want not found", found, err)
		}
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("loads = %d, want 1", n)
	}
}

// TestCache_TTL verifies entries expire.
func TestCache_TTL(t *testing.T) {
	src := &source{values: map[string][]string{"a1": {"old"}}}
	c := New("test", time.Minute, src.load)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Get(context.Background(), "a1")
	src.set("a1", []string{"new"})

	now = now.Add(59 * time.Second)
	if v, _, _ := c.Get(context.Background(), "a1"); v[0] != "old" {
		t.Errorf("before expiry = %v, want old", v)
	}
	now = now.Add(2 * time.Second)
	if v, _, _ := c.Get(context.Background(), "a1"); v[0] != "new" {
		t.Errorf("after expiry = %v, want new", v)
	}
}

// TestCache_InvalidateObservesStore verifies the next lookup after
// Invalidate reads the current store state.
func TestCache_InvalidateObservesStore(t *testing.T) {
	src := &source{values: map[string][]string{"a1": {"v1"}}}
	c := New("test", time.Hour, src.load)

	c.Get(context.Background(), "a1")
	src.set("a1", []string{"v2"})
	c.Invalidate("a1")

	if v, _, _ := c.Get(context.Background(), "a1"); v[0] != "v2" {
		t.Errorf("after invalidate = %v, want v2", v)
	}
}

// TestCache_InvalidateDuringLoad verifies a load that started before
// Invalidate cannot repopulate the cache with stale data.
func TestCache_InvalidateDuringLoad(t *testing.T) {
	src := &source{values: map[string][]string{"a1": {"stale"}}, gate: make(chan struct{})}
	c := New("test", time.Hour, src.load)

	done := make(chan []string)
	go func() {
		v, _, _ := c.Get(context.Background(), "a1")
		done <- v
	}()

	for src.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	c.Invalidate("a1")
	close(src.gate)
	<-done

	src.mu.Lock()
	src.values["a1"] = []string{"fresh"}
	src.mu.Unlock()

	if v, _, _ := c.Get(context.Background(), "a1"); v[0] != "fresh" {
		t.Errorf("after invalidate during load = %v, want fresh", v)
	}
}

// TestCache_ValuesAreCopies verifies callers cannot mutate cached state.
func TestCache_ValuesAreCopies(t *testing.T) {
	src := &source{values: map[string][]string{"a1": {"orig"}}}
	c := New("test", time.Hour, src.load)

	v, _, _ := c.Get(context.Background(), "a1")
	v[0] = "mutated"

	if again, _, _ := c.Get(context.Background(), "a1"); again[0] != "orig" {
		t.Errorf("cached value = %v, want orig", again)
	}
}

// TestCache_ErrorsNotCached verifies load errors are returned and retried.
func TestCache_ErrorsNotCached(t *testing.T) {
	src := &source{values: map[string][]string{"a1": {"v"}}, err: errors.New("db down")}
	c := New("test", time.Hour, src.load)

	if _, _, err := c.Get(context.Background(), "a1"); err == nil {
		t.Fatal("expected error")
	}
	src.mu.Lock()
	src.err = nil
	src.mu.Unlock()

	if _, found, err := c.Get(context.Background(), "a1"); err != nil || !found {
		t.Errorf("retry = %v %v", found, err)
	}
}

// TestCache_CollapsesConcurrentMisses verifies one load serves concurrent
// callers.
func TestCache_CollapsesConcurrentMisses(t *testing.T) {
	src := &source{values: map[string][]string{"a1": {"v"}}, gate: make(chan struct{})}
	c := New("test", time.Hour, src.load)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, found, err := c.Get(context.Background(), "a1"); err != nil || !found || v[0] != "v" {
				t.Errorf("get = %v %v %v", v, found, err)
			}
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	if n := src.calls.Load(); n != 1 {
		t.Errorf("loads = %d, want 1", n)
	}
}

// TestCache_CanceledCaller verifies a canceled caller stops waiting.
func TestCache_CanceledCaller(t *testing.T) {
	src := &source{values: map[string][]string{"a1": {"v"}}, gate: make(chan struct{})}
	defer close(src.gate)
	c := New("test", time.Hour, src.load)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := c.Get(ctx, "a1"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// TestCache_SweepsExpired verifies expired entries and the generations of
// keys without an entry are dropped.
func TestCache_SweepsExpired(t *testing.T) {
	src := &source{values: map[string][]string{"a0": {"v"}}}
	c := New("test", time.Minute, src.load)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("a%d", i)
		c.Get(ctx, key)
		if i%2 == 0 {
			c.Invalidate(key)
		}
	}

	now = now.Add(2 * time.Minute)
	if v, found, _ := c.Get(ctx, "a0"); !found || v[0] != "v" {
		t.Fatalf("get after sweep = %v %v", v, found)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) != 1 {
		t.Errorf("entries = %d, want only the fresh load", len(c.entries))
	}
	if len(c.gens) != 0 {
		t.Errorf("generations = %d, want all pruned", len(c.gens))
	}
}

// TestCache_InvalidateSurvivesSweep verifies pruning the generation of an
// invalidated key still keeps a load started before the invalidation out
// of the cache.
func TestCache_InvalidateSurvivesSweep(t *testing.T) {
	src := &source{values: map[string][]string{"a1": {"stale"}}, gate: make(chan struct{})}
	c := New("test", time.Minute, src.load)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	done := make(chan struct{})
	go func() {
		c.Get(context.Background(), "a1")
		close(done)
	}()
	for src.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	c.Invalidate("a1")
	c.mu.Lock()
	c.sweep(now.Add(time.Hour))
	pruned := len(c.gens)
	c.mu.Unlock()
	if pruned != 0 {
		t.Fatalf("generations = %d, want pruned", pruned)
	}

	close(src.gate)
	<-done
	src.set("a1", []string{"fresh"})

	if v, _, _ := c.Get(context.Background(), "a1"); v[0] != "fresh" {
		t.Errorf("after sweep = %v, want fresh", v)
	}
}
