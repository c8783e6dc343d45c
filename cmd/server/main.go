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

// mailflow pipeline service
//
// Entry point for the email event pipeline. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL, Redis, the message broker and Vault
//  3. Builds the config caches read by the decision engines
//  4. Runs every enabled broker consumer
//  5. Serves the API, provider webhook, metrics and health endpoints
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/deepframe/mailflow/internal/api"
	"github.com/deepframe/mailflow/internal/autoreply"
	"github.com/deepframe/mailflow/internal/broker"
	"github.com/deepframe/mailflow/internal/cache"
	"github.com/deepframe/mailflow/internal/config"
	"github.com/deepframe/mailflow/internal/dedup"
	"github.com/deepframe/mailflow/internal/ingest"
	"github.com/deepframe/mailflow/internal/models"
	"github.com/deepframe/mailflow/internal/notify"
	"github.com/deepframe/mailflow/internal/provider"
	"github.com/deepframe/mailflow/internal/rules"
	"github.com/deepframe/mailflow/internal/search"
	"github.com/deepframe/mailflow/internal/settings"
	"github.com/deepframe/mailflow/internal/store"
	"github.com/deepframe/mailflow/internal/topics"
	"github.com/deepframe/mailflow/internal/vault"
	"github.com/deepframe/mailflow/internal/webhook"
)

// consumer is one named subscription and its handler.
type consumer struct {
	name    string
	queue   broker.QueueConfig
	handler broker.Handler
}

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting mailflow pipeline service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"raw_exchange", cfg.RawExchange.Name,
		"projection_exchange", cfg.ProjectionExchange.Name,
		"vault_enabled", cfg.Vault.Enabled,
		"cache_ttl", cfg.CacheTTL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Connect to the broker ---
	amqpClient, err := broker.Dial(cfg.RabbitMQURL)
	if err != nil {
		slog.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	rawPublisher, err := amqpClient.NewPublisher(cfg.RawExchange)
	if err != nil {
		slog.Error("failed to declare raw exchange", "error", err)
		os.Exit(1)
	}
	projections, err := amqpClient.NewPublisher(cfg.ProjectionExchange)
	if err != nil {
		slog.Error("failed to declare projection exchange", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to broker")

	// --- Crypto boundary ---
	// transit stays a nil interface when Vault is disabled.
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

	// --- Stores ---
	messages, err := store.NewMessageStore(ctx, pgPool, projections)
	if err != nil {
		slog.Error("failed to initialise message store", "error", err)
		os.Exit(1)
	}
	settingsStore, err := store.NewSettingsStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise settings store", "error", err)
		os.Exit(1)
	}

	// --- Collaborator clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	mailProvider := provider.NewClient(httpClient, cfg.Provider.URL, cfg.Provider.RPS, cfg.Provider.Burst)
	filter := dedup.NewFilter(rdb, cfg.DedupTTL)

	// --- Config caches ---
	autoReplyCache := cache.New("auto_replies", cfg.CacheTTL, autoreply.LoadSettings(settingsStore.GetAutoReply))
	rulesCache := cache.New("mail_rules", cfg.CacheTTL, rules.LoadRules(settingsStore.ListMailRules))
	emailCache := cache.New[string]("account_emails", cfg.CacheTTL, mailProvider.AccountEmail)
	settingsService := settings.NewService(settingsStore, rulesCache, autoReplyCache)

	// --- Pipeline stages ---
	processor := topics.NewProcessor(crypto,
		topics.NewClient(httpClient, cfg.DeepTopic.URL, cfg.DeepTopic.Algorithm),
		messages,
		topics.Config{
			DiscoveryWindow: cfg.Thresholds.TopicsDiscovery,
			AttachmentsHost: cfg.AttachmentsHost,
		})

	raw := broker.QueueConfig{Exchange: cfg.RawExchange}
	projected := broker.QueueConfig{
		Exchange: cfg.ProjectionExchange,
		Routes:   []string{models.ProjectionInsert, models.ProjectionUpdate, models.ProjectionDelete},
	}

	consumers := []consumer{
		{config.ConsumerMessages, raw, broker.JSON(ingest.NewConsumer(crypto, messages, cfg.AttachmentsHost).Handle)},
		{config.ConsumerTopics, raw, broker.JSON(processor.Handle)},
		{config.ConsumerAutoReplies, raw, broker.JSON(
			autoreply.NewEngine(autoReplyCache, crypto, mailProvider, filter, cfg.Thresholds.AutoReplies).Handle)},
		{config.ConsumerMailRules, raw, broker.JSON(
			rules.NewEngine(rulesCache, emailCache, crypto, mailProvider, filter, cfg.Thresholds.MailRules).Handle)},
	}

	healthChecks := map[string]api.HealthCheck{
		"postgres": messages.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}

	if cfg.Consumer(config.ConsumerNotifications).Enabled {
		push := notify.NewPushClient(httpClient, cfg.Push.URL, cfg.Push.AppID, cfg.Push.APIKey)
		consumers = append(consumers, consumer{
			config.ConsumerNotifications, raw,
			broker.JSON(notify.NewConsumer(push, cfg.Thresholds.Notifications).Handle),
		})
	}

	if len(cfg.Elasticsearch.Addresses) > 0 {
		index, err := search.NewESIndex(search.ESConfig{
			Addresses: cfg.Elasticsearch.Addresses,
			Username:  cfg.Elasticsearch.Username,
			Password:  cfg.Elasticsearch.Password,
		})
		if err != nil {
			slog.Error("failed to create search index client", "error", err)
			os.Exit(1)
		}
		projector := search.NewProjector(index, crypto)
		consumers = append(consumers,
			consumer{config.ConsumerSearchMessages, projected, broker.JSON(projector.HandleMessages)},
			consumer{config.ConsumerSearchTopics, projected, broker.JSON(projector.HandleTopics)},
			consumer{config.ConsumerSearchContacts, projected, broker.JSON(projector.HandleContacts)},
		)
		healthChecks["elasticsearch"] = index.Ping
	}

	// --- Run consumers ---
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range consumers {
		cc := cfg.Consumer(c.name)
		if !cc.Enabled {
			slog.Info("consumer disabled", "consumer", c.name)
			continue
		}
		g.Go(func() error {
			err := amqpClient.Consume(gctx, c.name, c.queue, c.handler, cc.Concurrency)
			if err == nil && gctx.Err() == nil {
				err = fmt.Errorf("consumer %s: delivery stream closed", c.name)
			}
			return err
		})
	}

	// --- HTTP Server ---
	mux := http.NewServeMux()
	api.NewHandler(messages, processor, crypto, settingsService).Register(mux)
	mux.Handle("/webhook", webhook.NewHandler(cfg.WebhookSecret, rawPublisher))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", api.HealthHandler(healthChecks))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * cfg.HTTPTimeout,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

		select {
		case sig := <-sigCh:
			slog.Info("received shutdown signal", "signal", sig)
		case <-gctx.Done():
			slog.Error("consumer group stopped", "error", context.Cause(gctx))
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("http server listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", "error", err)
		os.Exit(1)
	}

	if err := g.Wait(); err != nil {
		slog.Error("consumers failed", "error", err)
		os.Exit(1)
	}
	slog.Info("mailflow pipeline service stopped")
}
