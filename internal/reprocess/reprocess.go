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

// Package reprocess re-runs topic extraction over messages already stored
// for an account, for example after the extraction algorithm changed.
package reprocess

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deepframe/mailflow/internal/broker"
	"github.com/deepframe/mailflow/internal/models"
)

// Lister returns stored messages of one account.
type Lister interface {
	ListByAccountSince(ctx context.Context, accountID string, since time.Time, limit int) ([]*models.Message, error)
}

// Processor annotates a single message regardless of age.
type Processor interface {
	ForceProcessTopics(ctx context.Context, env *models.Envelope) broker.Result
}

// Request defines the scope of a reprocessing run.
type Request struct {
	Accounts []string
	Since    time.Duration // lookback window
	Limit    int           // per account; 0 means no limit
}

// Result summarises a completed run.
type Result struct {
	AccountResults []AccountResult
	TotalProcessed int
	TotalSkipped   int
	TotalFailed    int
	Elapsed        time.Duration
}

// AccountResult tracks per-account progress.
type AccountResult struct {
	AccountID string
	Processed int
	Skipped   int
	Failed    int
}

// Runner reprocesses stored messages.
type Runner struct {
	lister    Lister
	processor Processor
	delay     time.Duration
	now       func() time.Time
}

// Config holds dependencies for the runner.
type Config struct {
	Lister    Lister
	Processor Processor
	// Delay is the pause between messages, keeping load on the topic
	// service bounded. Zero means no pause.
	Delay time.Duration
}

// NewRunner creates a reprocessing runner.
func NewRunner(cfg Config) *Runner {
	return &Runner{
		lister:    cfg.Lister,
		processor: cfg.Processor,
		delay:     cfg.Delay,
		now:       time.Now,
	}
}

// Run reprocesses every requested account. A failing account is recorded
// and the run continues; only cancellation stops it early.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	start := r.now()
	since := start.UTC().Add(-req.Since)

	slog.Info("starting topic reprocessing",
		"accounts", len(req.Accounts),
		"since", since.Format(time.RFC3339),
	)

	result := &Result{}
	for _, accountID := range req.Accounts {
		ar, err := r.runAccount(ctx, accountID, since, req.Limit)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			slog.Error("reprocessing failed for account",
				"account_id", accountID,
				"error", err,
			)
			ar.Failed++
		}

		result.AccountResults = append(result.AccountResults, ar)
		result.TotalProcessed += ar.Processed
		result.TotalSkipped += ar.Skipped
		result.TotalFailed += ar.Failed
	}

	result.Elapsed = r.now().Sub(start)
	return result, nil
}

func (r *Runner) runAccount(ctx context.Context, accountID string, since time.Time, limit int) (AccountResult, error) {
	ar := AccountResult{AccountID: accountID}

	msgs, err := r.lister.ListByAccountSince(ctx, accountID, since, limit)
	if err != nil {
		return ar, fmt.Errorf("list messages: %w", err)
	}

	for i, m := range msgs {
		if i > 0 && r.delay > 0 {
			select {
			case <-ctx.Done():
				return ar, ctx.Err()
			case <-time.After(r.delay):
			}
		}

		res := r.processor.ForceProcessTopics(ctx, models.EnvelopeFor(m))
		switch res.Outcome {
		case broker.OutcomeProcessed:
			ar.Processed++
		case broker.OutcomeSkipped:
			ar.Skipped++
		default:
			slog.Warn("reprocess: message failed",
				"message_id", m.MessageID,
				"error", res.Err,
			)
			ar.Failed++
		}
	}

	slog.Info("account reprocessing complete",
		"account_id", accountID,
		"processed", ar.Processed,
		"skipped", ar.Skipped,
		"failed", ar.Failed,
	)
	return ar, nil
}
