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
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/deepframe/mailflow/internal/models"
)

// MemoryMessages is an in-memory Messages implementation. Documents are
// kept encoded and merged key by key, matching the Postgres store.
type MemoryMessages struct {
	mu       sync.RWMutex
	docs     map[string][]byte
	notifier Notifier

	// pubMu orders projection publishes; each publish carries the document
	// as it stands when the publish runs.
	pubMu sync.Mutex
}

// NewMemoryMessages creates an empty in-memory message store.
func NewMemoryMessages(notifier Notifier) *MemoryMessages {
	return &MemoryMessages{
		docs:     make(map[string][]byte),
		notifier: notifier,
	}
}

// UpsertIngested implements Messages.
func (s *MemoryMessages) UpsertIngested(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	existing, ok := s.docs[m.MessageID]
	var doc []byte
	var err error
	if ok {
		var patch []byte
		if patch, err = ingestionPatch(m); err == nil {
			doc, err = mergeDocument(existing, patch)
		}
	} else {
		doc, err = insertDocument(m)
	}
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("upsert message %s: %w", m.MessageID, err)
	}
	s.docs[m.MessageID] = doc
	s.mu.Unlock()

	if ok {
		s.publishLatest(ctx, models.ProjectionUpdate, m.MessageID)
	} else {
		s.publishLatest(ctx, models.ProjectionInsert, m.MessageID)
	}
	return nil
}

// UpdateTopics implements Messages.
func (s *MemoryMessages) UpdateTopics(ctx context.Context, accountID, messageID string, topics []models.Topic) error {
	if topics == nil {
		topics = []models.Topic{}
	}
	encoded, err := json.Marshal(map[string]any{"topics": topics})
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}

	s.mu.Lock()
	existing, ok := s.docs[messageID]
	if !ok {
		existing, _ = json.Marshal(map[string]string{"messageId": messageID, "accountId": accountID})
	}
	doc, err := mergeDocument(existing, encoded)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.docs[messageID] = doc
	s.mu.Unlock()

	event := models.ProjectionUpdate
	if !ok {
		event = models.ProjectionInsert
	}
	s.publishLatest(ctx, event, messageID)
	return nil
}

// AddUserTopics implements Messages.
func (s *MemoryMessages) AddUserTopics(ctx context.Context, accountID, messageID string, topics []models.Topic) (int, error) {
	s.mu.Lock()
	current, err := s.lookup(accountID, messageID)
	if err != nil || current == nil {
		s.mu.Unlock()
		if err == nil {
			err = ErrNotFound
		}
		return 0, err
	}

	merged, added := models.AppendUserTopics(current.Topics, topics)
	if added == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	encoded, err := json.Marshal(map[string]any{"topics": merged})
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	doc, err := mergeDocument(s.docs[messageID], encoded)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.docs[messageID] = doc
	s.mu.Unlock()

	s.publishLatest(ctx, models.ProjectionUpdate, messageID)
	return added, nil
}

// SetAnnotations implements Messages.
func (s *MemoryMessages) SetAnnotations(ctx context.Context, accountID, messageID string, annotations []models.TopicAnnotation, textShared bool) error {
	encoded, err := json.Marshal(map[string]any{
		"topicsAnnotations": models.UniqueAnnotations(annotations),
		"textShared":        textShared,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	current, err := s.lookup(accountID, messageID)
	if err != nil || current == nil {
		s.mu.Unlock()
		if err == nil {
			err = ErrNotFound
		}
		return err
	}
	doc, err := mergeDocument(s.docs[messageID], encoded)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.docs[messageID] = doc
	s.mu.Unlock()

	s.publishLatest(ctx, models.ProjectionUpdate, messageID)
	return nil
}

// Get implements Messages.
func (s *MemoryMessages) Get(_ context.Context, accountID, messageID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(accountID, messageID)
}

// lookup decodes a document owned by accountID. Callers hold the lock.
func (s *MemoryMessages) lookup(accountID, messageID string) (*models.Message, error) {
	doc, ok := s.docs[messageID]
	if !ok {
		return nil, nil
	}
	m, err := decodeDocument(doc)
	if err != nil {
		return nil, err
	}
	if m.AccountID != accountID {
		return nil, nil
	}
	return m, nil
}

// Delete implements Messages.
func (s *MemoryMessages) Delete(ctx context.Context, messageID string) error {
	s.mu.Lock()
	doc, ok := s.docs[messageID]
	delete(s.docs, messageID)
	s.mu.Unlock()

	if ok {
		s.pubMu.Lock()
		project(ctx, s.notifier, models.ProjectionDelete, doc)
		s.pubMu.Unlock()
	}
	return nil
}

// publishLatest publishes the current document of messageID. A document
// deleted in the meantime is not published; its delete event follows.
func (s *MemoryMessages) publishLatest(ctx context.Context, event, messageID string) {
	if s.notifier == nil {
		return
	}
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.RLock()
	doc, ok := s.docs[messageID]
	s.mu.RUnlock()
	if ok {
		project(ctx, s.notifier, event, doc)
	}
}

// ListByAccountSince implements Messages.
func (s *MemoryMessages) ListByAccountSince(_ context.Context, accountID string, since time.Time, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Message
	for _, doc := range s.docs {
		m, err := decodeDocument(doc)
		if err != nil {
			return nil, err
		}
		if m.AccountID == accountID && !m.Date.IsZero() && !m.Date.Before(since) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemorySettings is an in-memory Settings implementation.
type MemorySettings struct {
	mu          sync.RWMutex
	autoReplies map[string]models.AutoReply
	rules       map[int64]models.MailRule
	nextID      int64
}

// NewMemorySettings creates an empty in-memory settings store.
func NewMemorySettings() *MemorySettings {
	return &MemorySettings{
		autoReplies: make(map[string]models.AutoReply),
		rules:       make(map[int64]models.MailRule),
		nextID:      1,
	}
}

// GetAutoReply implements Settings.
func (s *MemorySettings) GetAutoReply(_ context.Context, accountID string) (*models.AutoReply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ar, ok := s.autoReplies[accountID]
	if !ok {
		return nil, nil
	}
	return &ar, nil
}

// PutAutoReply implements Settings.
func (s *MemorySettings) PutAutoReply(_ context.Context, ar models.AutoReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoReplies[ar.AccountID] = ar
	return nil
}

// DeleteAutoReply implements Settings.
func (s *MemorySettings) DeleteAutoReply(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.autoReplies, accountID)
	return nil
}

// ListMailRules implements Settings.
func (s *MemorySettings) ListMailRules(_ context.Context, accountID string) ([]models.MailRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.MailRule
	for _, r := range s.rules {
		if r.AccountID == accountID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateMailRule implements Settings.
func (s *MemorySettings) CreateMailRule(_ context.Context, r models.MailRule) (models.MailRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.nextID
	s.nextID++
	s.rules[r.ID] = r
	return r, nil
}

// UpdateMailRule implements Settings.
func (s *MemorySettings) UpdateMailRule(_ context.Context, r models.MailRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rules[r.ID]
	if !ok || existing.AccountID != r.AccountID {
		return ErrNotFound
	}
	s.rules[r.ID] = r
	return nil
}

// DeleteMailRule implements Settings.
func (s *MemorySettings) DeleteMailRule(_ context.Context, accountID string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rules[id]
	if !ok || existing.AccountID != accountID {
		return ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

var (
	_ Messages = (*MessageStore)(nil)
	_ Messages = (*MemoryMessages)(nil)
	_ Settings = (*SettingsStore)(nil)
	_ Settings = (*MemorySettings)(nil)
)
