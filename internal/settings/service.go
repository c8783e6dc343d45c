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

// Package settings owns the write paths for per-account configuration.
// Every write is validated, persisted and then invalidates the cached copy
// before returning, so the next engine read observes it.
package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/deepframe/mailflow/internal/models"
	"github.com/deepframe/mailflow/internal/rules"
	"github.com/deepframe/mailflow/internal/store"
)

// ErrInvalidAutoReply is returned for an auto-reply whose window is
// inverted.
var ErrInvalidAutoReply = errors.New("invalid auto-reply")

// Invalidator drops a cached entry.
type Invalidator interface {
	Invalidate(key string)
}

// Service validates and persists configuration writes.
type Service struct {
	store       store.Settings
	rules       Invalidator
	autoReplies Invalidator
}

// NewService creates a settings service. rules and autoReplies are the
// caches keyed by account id that the engines read from.
func NewService(st store.Settings, rules, autoReplies Invalidator) *Service {
	return &Service{store: st, rules: rules, autoReplies: autoReplies}
}

// ListMailRules returns an account's stored rules.
func (s *Service) ListMailRules(ctx context.Context, accountID string) ([]models.MailRule, error) {
	return s.store.ListMailRules(ctx, accountID)
}

// CreateMailRule validates and stores a new rule.
func (s *Service) CreateMailRule(ctx context.Context, r models.MailRule) (models.MailRule, error) {
	if _, err := rules.Parse(r); err != nil {
		return models.MailRule{}, err
	}
	defer s.rules.Invalidate(r.AccountID)

	created, err := s.store.CreateMailRule(ctx, r)
	if err != nil {
		return models.MailRule{}, fmt.Errorf("create mail rule: %w", err)
	}
	return created, nil
}

// UpdateMailRule validates and replaces a stored rule.
func (s *Service) UpdateMailRule(ctx context.Context, r models.MailRule) error {
	if _, err := rules.Parse(r); err != nil {
		return err
	}
	defer s.rules.Invalidate(r.AccountID)

	if err := s.store.UpdateMailRule(ctx, r); err != nil {
		return fmt.Errorf("update mail rule %d: %w", r.ID, err)
	}
	return nil
}

// DeleteMailRule removes a stored rule.
func (s *Service) DeleteMailRule(ctx context.Context, accountID string, id int64) error {
	defer s.rules.Invalidate(accountID)

	if err := s.store.DeleteMailRule(ctx, accountID, id); err != nil {
		return fmt.Errorf("delete mail rule %d: %w", id, err)
	}
	return nil
}

// GetAutoReply returns the stored auto-reply, or nil.
func (s *Service) GetAutoReply(ctx context.Context, accountID string) (*models.AutoReply, error) {
	return s.store.GetAutoReply(ctx, accountID)
}

// PutAutoReply validates and stores an auto-reply.
func (s *Service) PutAutoReply(ctx context.Context, ar models.AutoReply) error {
	if ar.DateFrom != nil && ar.DateTo != nil && ar.DateFrom.After(*ar.DateTo) {
		return fmt.Errorf("%w: dateFrom is after dateTo", ErrInvalidAutoReply)
	}
	defer s.autoReplies.Invalidate(ar.AccountID)

	if err := s.store.PutAutoReply(ctx, ar); err != nil {
		return fmt.Errorf("put auto-reply: %w", err)
	}
	return nil
}

// DeleteAutoReply removes an account's auto-reply.
func (s *Service) DeleteAutoReply(ctx context.Context, accountID string) error {
	defer s.autoReplies.Invalidate(accountID)

	if err := s.store.DeleteAutoReply(ctx, accountID); err != nil {
		return fmt.Errorf("delete auto-reply: %w", err)
	}
	return nil
}
