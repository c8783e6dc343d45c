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

package reprocess

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deepframe/mailflow/internal/broker"
	"github.com/deepframe/mailflow/internal/models"
	"github.com/deepframe/mailflow/internal/store"
)

// --- Mock processor ---

type mockProcessor struct {
	mu      sync.Mutex
	seen    []string
	results map[string]broker.Result
}

func (m *mockProcessor) ForceProcessTopics(_ context.Context, env *models.Envelope) broker.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, env.Attributes.ID)
	if res, ok := m.results[env.Attributes.ID]; ok {
		return res
	}
	return broker.Processed()
}

// --- Failing lister ---

type failingLister struct{}

func (failingLister) ListByAccountSince(context.Context, string, time.Time, int) ([]*models.Message, error) {
	return nil, errors.New("connection refused")
}

func seed(t *testing.T, msgs ...*models.Message) *store.MemoryMessages {
	t.Helper()
	s := store.NewMemoryMessages(nil)
	for _, m := range msgs {
		if err := s.UpsertIngested(context.Background(), m); err != nil {
			t.Fatalf("seed %s: %v", m.MessageID, err)
		}
	}
	return s
}

// TestRun_CountsOutcomes verifies per-account and total counters.
func TestRun_CountsOutcomes(t *testing.T) {
	now := time.Now().UTC()
	s := seed(t,
		&models.Message{MessageID: "m1", AccountID: "a1", Date: now.Add(-time.Hour)},
		&models.Message{MessageID: "m2", AccountID: "a1", Date: now.Add(-2 * time.Hour)},
		&models.Message{MessageID: "m3", AccountID: "a1", Date: now.Add(-3 * time.Hour)},
		&models.Message{MessageID: "old", AccountID: "a1", Date: now.Add(-48 * time.Hour)},
		&models.Message{MessageID: "other", AccountID: "a2", Date: now.Add(-time.Hour)},
	)
	proc := &mockProcessor{results: map[string]broker.Result{
		"m2": broker.Skipped("no text content"),
		"m3": broker.Failed(errors.New("extractor down")),
	}}

	res, err := NewRunner(Config{Lister: s, Processor: proc}).Run(context.Background(), Request{
		Accounts: []string{"a1"},
		Since:    24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.TotalProcessed != 1 || res.TotalSkipped != 1 || res.TotalFailed != 1 {
		t.Errorf("totals = %d/%d/%d, want 1/1/1", res.TotalProcessed, res.TotalSkipped, res.TotalFailed)
	}
	if len(proc.seen) != 3 {
		t.Errorf("processed ids = %v, want the three recent a1 messages", proc.seen)
	}
	// Oldest first.
	if proc.seen[0] != "m3" || proc.seen[2] != "m1" {
		t.Errorf("order = %v", proc.seen)
	}
}

// TestRun_Limit verifies the per-account limit.
func TestRun_Limit(t *testing.T) {
	now := time.Now().UTC()
	s := seed(t,
		&models.Message{MessageID: "m1", AccountID: "a1", Date: now.Add(-time.Hour)},
		&models.Message{MessageID: "m2", AccountID: "a1", Date: now.Add(-2 * time.Hour)},
	)
	proc := &mockProcessor{}

	res, err := NewRunner(Config{Lister: s, Processor: proc}).Run(context.Background(), Request{
		Accounts: []string{"a1"},
		Since:    24 * time.Hour,
		Limit:    1,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.TotalProcessed != 1 {
		t.Errorf("processed = %d, want 1", res.TotalProcessed)
	}
}

// TestRun_ListFailureContinues verifies a failing account does not stop the
// run.
func TestRun_ListFailureContinues(t *testing.T) {
	res, err := NewRunner(Config{Lister: failingLister{}, Processor: &mockProcessor{}}).Run(context.Background(), Request{
		Accounts: []string{"a1", "a2"},
		Since:    time.Hour,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.AccountResults) != 2 || res.TotalFailed != 2 {
		t.Errorf("results = %+v", res)
	}
}

// TestRun_Cancelled verifies cancellation aborts between messages.
func TestRun_Cancelled(t *testing.T) {
	now := time.Now().UTC()
	s := seed(t,
		&models.Message{MessageID: "m1", AccountID: "a1", Date: now.Add(-time.Hour)},
		&models.Message{MessageID: "m2", AccountID: "a1", Date: now.Add(-2 * time.Hour)},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(Config{Lister: s, Processor: &mockProcessor{}, Delay: time.Hour}).Run(ctx, Request{
		Accounts: []string{"a1"},
		Since:    24 * time.Hour,
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// TestRun_ElapsedUsesClock verifies elapsed time is measured on the
// runner's clock.
func TestRun_ElapsedUsesClock(t *testing.T) {
	s := seed(t)
	r := NewRunner(Config{Lister: s, Processor: &mockProcessor{}})
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	calls := 0
	r.now = func() time.Time {
		calls++
		return start.Add(time.Duration(calls-1) * time.Minute)
	}

	res, err := r.Run(context.Background(), Request{Accounts: []string{"a1"}, Since: time.Hour})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Elapsed != time.Minute {
		t.Errorf("elapsed = %v, want 1m", res.Elapsed)
	}
}
