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

// mailflow topic reprocessing command
//
// Standalone CLI tool that re-runs topic extraction over messages already
// stored for one or more accounts. Topic writes publish projection events,
// so the search index picks up the new topics.
//
// Usage:
//
//	go run ./cmd/reprocess/ --accounts <id>[,<id>...] [--since 720h] [--limit 500] [--delay 200ms]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deepframe/mailflow/internal/broker"
	"github.com/deepframe/mailflow/internal/config"
	"github.com/deepframe/mailflow/internal/reprocess"
	"github.com/deepframe/mailflow/internal/store"
	"github.com/deepframe/mailflow/internal/topics"
	"github.com/deepframe/mailflow/internal/vault"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	accountsFlag := flag.String("accounts", "", "Comma-separated list of account ids (required)")
	sinceFlag := flag.String("since", "720h", "Lookback duration (e.g. 168h for 1 week, 720h for 30 days)")
	limitFlag := flag.Int("limit", 0, "Maximum messages per account (0 = no limit)")
	delayFlag := flag.Duration("delay", 200*time.Millisecond, "Pause between messages")
	flag.Parse()

	var accounts []string
	for _, a := range strings.Split(*accountsFlag, ",") {
		if a = strings.TrimSpace(a); a != "" {
			accounts = append(accounts, a)
		}
	}
	if len(accounts) == 0 {
		fmt.Fprintf(os.Stderr, "Error: --accounts is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	sinceDuration, err := time.ParseDuration(*sinceFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid --since duration %q: %v\n", *sinceFlag, err)
		os.Exit(1)
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.DeepTopic.URL == "" {
		slog.Error("topic extraction service is not configured")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}

	// --- Connect to the broker ---
	amqpClient, err := broker.Dial(cfg.RabbitMQURL)
	if err != nil {
		slog.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	projections, err := amqpClient.NewPublisher(cfg.ProjectionExchange)
	if err != nil {
		slog.Error("failed to declare projection exchange", "error", err)
		os.Exit(1)
	}

	// --- Crypto boundary ---
	var transit vault.Transit
	if cfg.Vault.Enabled {
		tc, err := vault.NewTransitClient(vault.TransitConfig{
			Address:  cfg.Vault.Address,
			Mount:    cfg.Vault.Mount,
			RoleID:   cfg.Vault.RoleID,
			SecretID: cfg.Vault.SecretID,
		})
		if err != nil {
			slog.Error("failed to create Vault client", "error", err)
			os.Exit(1)
		}
		if err := tc.Login(ctx); err != nil {
			slog.Error("failed to log in to Vault", "error", err)
			os.Exit(1)
		}
		transit = tc
	}
	crypto := vault.NewBoundary(transit, cfg.Vault.Enabled)

	messages, err := store.NewMessageStore(ctx, pgPool, projections)
	if err != nil {
		slog.Error("failed to initialise message store", "error", err)
		os.Exit(1)
	}

	processor := topics.NewProcessor(crypto,
		topics.NewClient(&http.Client{Timeout: cfg.HTTPTimeout}, cfg.DeepTopic.URL, cfg.DeepTopic.Algorithm),
		messages,
		topics.Config{AttachmentsHost: cfg.AttachmentsHost})

	// --- Run ---
	runner := reprocess.NewRunner(reprocess.Config{
		Lister:    messages,
		Processor: processor,
		Delay:     *delayFlag,
	})

	result, err := runner.Run(ctx, reprocess.Request{
		Accounts: accounts,
		Since:    sinceDuration,
		Limit:    *limitFlag,
	})
	if err != nil {
		slog.Error("reprocessing aborted", "error", err)
		os.Exit(1)
	}

	// --- Summary ---
	slog.Info("reprocessing complete",
		"total_processed", result.TotalProcessed,
		"total_skipped", result.TotalSkipped,
		"total_failed", result.TotalFailed,
		"elapsed", result.Elapsed,
	)

	for _, ar := range result.AccountResults {
		slog.Info("account result",
			"account_id", ar.AccountID,
			"processed", ar.Processed,
			"skipped", ar.Skipped,
			"failed", ar.Failed,
		)
	}
}
