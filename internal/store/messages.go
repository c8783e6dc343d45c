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

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deepframe/mailflow/internal/models"
)

// MessageStore keeps message documents in a Postgres JSONB column.
type MessageStore struct {
	pool     *pgxpool.Pool
	notifier Notifier
}

// NewMessageStore creates a message store backed by the given Postgres
// pool. It ensures the messages table exists on creation. Projection events
// go to notifier, which may be nil.
func NewMessageStore(ctx context.Context, pool *pgxpool.Pool, notifier Notifier) (*MessageStore, error) {
	s := &MessageStore{pool: pool, notifier: notifier}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure message schema: %w", err)
	}
	slog.Info("message store initialised")
	return s, nil
}

func (s *MessageStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			date       TIMESTAMPTZ,
			doc        JSONB NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_messages_account_date ON messages(account_id, date);
	`)
	return err
}

// UpsertIngested implements Messages.
func (s *MessageStore) UpsertIngested(ctx context.Context, m *models.Message) error {
	doc, err := insertDocument(m)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", m.MessageID, err)
	}
	patch, err := ingestionPatch(m)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", m.MessageID, err)
	}

	var inserted bool
	err = s.pool.QueryRow(ctx, `
		INSERT INTO messages (message_id, account_id, date, doc)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (message_id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			date       = EXCLUDED.date,
			doc        = messages.doc || $5::jsonb,
			updated_at = NOW()
		RETURNING (xmax = 0)
	`, m.MessageID, m.AccountID, nullTime(m.Date), string(doc), string(patch)).Scan(&inserted)
	if err != nil {
		return fmt.Errorf("upsert message %s: %w", m.MessageID, err)
	}

	event := models.ProjectionUpdate
	if inserted {
		event = models.ProjectionInsert
	}
	s.publish(ctx, event, m.MessageID, nil)
	return nil
}

// UpdateTopics implements Messages.
func (s *MessageStore) UpdateTopics(ctx context.Context, accountID, messageID string, topics []models.Topic) error {
	if topics == nil {
		topics = []models.Topic{}
	}
	encoded, err := json.Marshal(topics)
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}

	var inserted bool
	err = s.pool.QueryRow(ctx, `
		INSERT INTO messages (message_id, account_id, doc)
		VALUES ($1, $2, jsonb_build_object('messageId', $1::text, 'accountId', $2::text, 'topics', $3::jsonb))
		ON CONFLICT (message_id) DO UPDATE SET
			doc        = jsonb_set(messages.doc, '{topics}', $3::jsonb),
			updated_at = NOW()
		RETURNING (xmax = 0)
	`, messageID, accountID, string(encoded)).Scan(&inserted)
	if err != nil {
		return fmt.Errorf("update topics for %s: %w", messageID, err)
	}

	event := models.ProjectionUpdate
	if inserted {
		event = models.ProjectionInsert
	}
	s.publish(ctx, event, messageID, nil)
	return nil
}

// AddUserTopics implements Messages.
func (s *MessageStore) AddUserTopics(ctx context.Context, accountID, messageID string, topics []models.Topic) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var doc []byte
	err = tx.QueryRow(ctx, `
		SELECT doc FROM messages
		WHERE account_id = $1 AND message_id = $2
		FOR UPDATE
	`, accountID, messageID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("load message %s: %w", messageID, err)
	}

	current, err := decodeDocument(doc)
	if err != nil {
		return 0, err
	}
	merged, added := models.AppendUserTopics(current.Topics, topics)
	if added == 0 {
		return 0, tx.Commit(ctx)
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return 0, fmt.Errorf("encode topics: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE messages
		SET doc = jsonb_set(doc, '{topics}', $2::jsonb), updated_at = NOW()
		WHERE message_id = $1
	`, messageID, string(encoded))
	if err != nil {
		return 0, fmt.Errorf("append topics for %s: %w", messageID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	s.publish(ctx, models.ProjectionUpdate, messageID, nil)
	return added, nil
}

// SetAnnotations implements Messages.
func (s *MessageStore) SetAnnotations(ctx context.Context, accountID, messageID string, annotations []models.TopicAnnotation, textShared bool) error {
	encoded, err := json.Marshal(models.UniqueAnnotations(annotations))
	if err != nil {
		return fmt.Errorf("encode annotations: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET doc = doc || jsonb_build_object('topicsAnnotations', $3::jsonb, 'textShared', $4::boolean),
		    updated_at = NOW()
		WHERE account_id = $1 AND message_id = $2
	`, accountID, messageID, string(encoded), textShared)
	if err != nil {
		return fmt.Errorf("set annotations for %s: %w", messageID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.publish(ctx, models.ProjectionUpdate, messageID, nil)
	return nil
}

// Get implements Messages.
func (s *MessageStore) Get(ctx context.Context, accountID, messageID string) (*models.Message, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `
		SELECT doc FROM messages WHERE account_id = $1 AND message_id = $2
	`, accountID, messageID).Scan(&doc)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeDocument(doc)
}

// Delete implements Messages.
func (s *MessageStore) Delete(ctx context.Context, messageID string) error {
	var doc []byte
	err := s.pool.QueryRow(ctx, `
		DELETE FROM messages WHERE message_id = $1 RETURNING doc
	`, messageID).Scan(&doc)
	if err == pgx.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}

	s.publish(ctx, models.ProjectionDelete, messageID, doc)
	return nil
}

// ListByAccountSince implements Messages.
func (s *MessageStore) ListByAccountSince(ctx context.Context, accountID string, since time.Time, limit int) ([]*models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT doc FROM messages
		WHERE account_id = $1 AND date >= $2
		ORDER BY date
		LIMIT $3
	`, accountID, since, nullLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		m, err := decodeDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// publish emits a projection event while holding a transaction-scoped
// advisory lock on messageID, so publishes for one message never overtake
// each other across writers. Inserts and updates carry the row as it stands
// under the lock and are dropped when the row is gone; deletes carry the
// removed document.
func (s *MessageStore) publish(ctx context.Context, event, messageID string, deleted []byte) {
	if s.notifier == nil {
		return
	}
	log := slog.With("message_id", messageID, "event", event)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		log.Error("projection lock unavailable", "error", err)
		return
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, messageID); err != nil {
		log.Error("projection lock failed", "error", err)
		return
	}

	doc := deleted
	if event != models.ProjectionDelete {
		err := tx.QueryRow(ctx, `SELECT doc FROM messages WHERE message_id = $1`, messageID).Scan(&doc)
		if errors.Is(err, pgx.ErrNoRows) {
			log.Debug("message removed before projection")
			return
		}
		if err != nil {
			log.Error("projection read failed", "error", err)
			return
		}
	}

	project(ctx, s.notifier, event, doc)
	if err := tx.Commit(ctx); err != nil {
		log.Warn("release projection lock", "error", err)
	}
}

// Ping reports whether Postgres is reachable.
func (s *MessageStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// nullLimit maps non-positive limits to NULL, which Postgres reads as no
// limit.
func nullLimit(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}
