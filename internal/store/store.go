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

// Package store persists messages and per-account settings. Messages are
// JSON documents keyed by message id; every write is scoped to the fields
// its caller owns, so concurrent consumers never clobber each other.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/deepframe/mailflow/internal/models"
)

// ErrNotFound is returned by writes that require an existing record.
var ErrNotFound = errors.New("record not found")

// Notifier publishes projection events. *broker.Publisher satisfies it.
type Notifier interface {
	Publish(ctx context.Context, routingKey string, v any) error
}

// Messages is the message document store.
type Messages interface {
	// UpsertIngested inserts the message or replaces its ingestion-owned
	// fields, leaving topics and collaborator-owned fields untouched.
	UpsertIngested(ctx context.Context, m *models.Message) error
	// UpdateTopics replaces only the topics field, creating a stub
	// document when the message does not exist yet.
	UpdateTopics(ctx context.Context, accountID, messageID string, topics []models.Topic) error
	// AddUserTopics appends topics not present by name and returns how
	// many were added.
	AddUserTopics(ctx context.Context, accountID, messageID string, topics []models.Topic) (int, error)
	// SetAnnotations replaces the human topic ratings and share flag.
	SetAnnotations(ctx context.Context, accountID, messageID string, annotations []models.TopicAnnotation, textShared bool) error
	// Get returns nil when the message does not exist.
	Get(ctx context.Context, accountID, messageID string) (*models.Message, error)
	// Delete removes the message; deleting a missing message is a no-op.
	Delete(ctx context.Context, messageID string) error
	// ListByAccountSince returns an account's messages dated at or after
	// since, oldest first.
	ListByAccountSince(ctx context.Context, accountID string, since time.Time, limit int) ([]*models.Message, error)
}

// Settings is the per-account configuration store.
type Settings interface {
	GetAutoReply(ctx context.Context, accountID string) (*models.AutoReply, error)
	PutAutoReply(ctx context.Context, ar models.AutoReply) error
	DeleteAutoReply(ctx context.Context, accountID string) error
	ListMailRules(ctx context.Context, accountID string) ([]models.MailRule, error)
	CreateMailRule(ctx context.Context, r models.MailRule) (models.MailRule, error)
	UpdateMailRule(ctx context.Context, r models.MailRule) error
	DeleteMailRule(ctx context.Context, accountID string, id int64) error
}

// ingestionKeys are the document fields owned by the ingestion consumer.
var ingestionKeys = []string{
	"messageId", "accountId", "threadId", "subject", "from", "to", "cc",
	"bcc", "participants", "date", "unread", "snippet", "body", "bodyText",
	"encrypted", "files", "folder", "labels",
}

// insertDocument encodes a complete new document.
func insertDocument(m *models.Message) ([]byte, error) {
	doc := m.Clone()
	if doc.Topics == nil {
		doc.Topics = []models.Topic{}
	}
	if doc.TopicsAnnotations == nil {
		doc.TopicsAnnotations = []models.TopicAnnotation{}
	}
	return json.Marshal(doc)
}

// ingestionPatch encodes only the ingestion-owned fields of m. Absent
// fields are written as null so they are replaced, not kept.
func ingestionPatch(m *models.Message) ([]byte, error) {
	full, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(full, &fields); err != nil {
		return nil, err
	}

	patch := make(map[string]json.RawMessage, len(ingestionKeys))
	for _, k := range ingestionKeys {
		if v, ok := fields[k]; ok {
			patch[k] = v
		} else {
			patch[k] = json.RawMessage("null")
		}
	}
	return json.Marshal(patch)
}

// mergeDocument overlays the top-level keys of patch onto doc, the same
// way Postgres' jsonb || operator does.
func mergeDocument(doc, patch []byte) ([]byte, error) {
	var base, over map[string]json.RawMessage
	if err := json.Unmarshal(doc, &base); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(patch, &over); err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	if base == nil {
		base = make(map[string]json.RawMessage, len(over))
	}
	for k, v := range over {
		base[k] = v
	}
	return json.Marshal(base)
}

func decodeDocument(doc []byte) (*models.Message, error) {
	var m models.Message
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("decode message document: %w", err)
	}
	return &m, nil
}

// project publishes a projection event for a stored document. Failures are
// logged; persistence already succeeded.
func project(ctx context.Context, n Notifier, event string, doc []byte) {
	if n == nil {
		return
	}
	m, err := decodeDocument(doc)
	if err != nil {
		slog.Error("projection skipped", "event", event, "error", err)
		return
	}

	ev := models.ProjectionEvent{ID: m.MessageID, Event: event, Attributes: m}
	if err := n.Publish(ctx, event, ev); err != nil {
		slog.Error("projection publish failed",
			"message_id", m.MessageID,
			"event", event,
			"error", err,
		)
	}
}
