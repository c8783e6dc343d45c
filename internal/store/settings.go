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
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deepframe/mailflow/internal/models"
)

// SettingsStore keeps auto-reply settings and mail rules in Postgres.
type SettingsStore struct {
	pool *pgxpool.Pool
}

// NewSettingsStore creates a settings store and ensures its tables exist.
func NewSettingsStore(ctx context.Context, pool *pgxpool.Pool) (*SettingsStore, error) {
	s := &SettingsStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure settings schema: %w", err)
	}
	slog.Info("settings store initialised")
	return s, nil
}

func (s *SettingsStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS auto_replies (
			account_id TEXT PRIMARY KEY,
			enabled    BOOLEAN NOT NULL DEFAULT FALSE,
			date_from  TIMESTAMPTZ,
			date_to    TIMESTAMPTZ,
			content    TEXT DEFAULT '',
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS mail_rules (
			id              BIGSERIAL PRIMARY KEY,
			account_id      TEXT NOT NULL,
			title           TEXT DEFAULT '',
			condition_name  TEXT NOT NULL,
			condition_rule  TEXT NOT NULL,
			condition_value TEXT DEFAULT '',
			action_name     TEXT NOT NULL,
			action_value    TEXT DEFAULT '',
			created_at      TIMESTAMPTZ DEFAULT NOW(),
			updated_at      TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_mail_rules_account ON mail_rules(account_id);
	`)
	return err
}

// GetAutoReply returns nil when the account has no auto-reply settings.
func (s *SettingsStore) GetAutoReply(ctx context.Context, accountID string) (*models.AutoReply, error) {
	var ar models.AutoReply
	var content *string
	err := s.pool.QueryRow(ctx, `
		SELECT account_id, enabled, date_from, date_to, content
		FROM auto_replies
		WHERE account_id = $1
	`, accountID).Scan(&ar.AccountID, &ar.Enabled, &ar.DateFrom, &ar.DateTo, &content)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if content != nil {
		ar.Content = *content
	}
	return &ar, nil
}

// PutAutoReply inserts or replaces an account's auto-reply settings.
func (s *SettingsStore) PutAutoReply(ctx context.Context, ar models.AutoReply) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO auto_replies (account_id, enabled, date_from, date_to, content)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id) DO UPDATE SET
			enabled    = EXCLUDED.enabled,
			date_from  = EXCLUDED.date_from,
			date_to    = EXCLUDED.date_to,
			content    = EXCLUDED.content,
			updated_at = NOW()
	`, ar.AccountID, ar.Enabled, ar.DateFrom, ar.DateTo, ar.Content)
	return err
}

// DeleteAutoReply removes an account's auto-reply settings.
func (s *SettingsStore) DeleteAutoReply(ctx context.Context, accountID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM auto_replies WHERE account_id = $1`, accountID)
	return err
}

// ListMailRules returns an account's rules in creation order.
func (s *SettingsStore) ListMailRules(ctx context.Context, accountID string) ([]models.MailRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, title, condition_name, condition_rule,
		       condition_value, action_name, action_value
		FROM mail_rules
		WHERE account_id = $1
		ORDER BY id
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.MailRule
	for rows.Next() {
		var r models.MailRule
		if err := rows.Scan(
			&r.ID, &r.AccountID, &r.Title, &r.ConditionName, &r.ConditionRule,
			&r.ConditionValue, &r.ActionName, &r.ActionValue,
		); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// CreateMailRule inserts a rule and returns it with its assigned id.
func (s *SettingsStore) CreateMailRule(ctx context.Context, r models.MailRule) (models.MailRule, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO mail_rules
			(account_id, title, condition_name, condition_rule, condition_value, action_name, action_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, r.AccountID, r.Title, r.ConditionName, r.ConditionRule, r.ConditionValue, r.ActionName, r.ActionValue).Scan(&r.ID)
	return r, err
}

// UpdateMailRule replaces a rule owned by r.AccountID.
func (s *SettingsStore) UpdateMailRule(ctx context.Context, r models.MailRule) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mail_rules
		SET title = $3, condition_name = $4, condition_rule = $5, condition_value = $6,
		    action_name = $7, action_value = $8, updated_at = NOW()
		WHERE id = $1 AND account_id = $2
	`, r.ID, r.AccountID, r.Title, r.ConditionName, r.ConditionRule, r.ConditionValue, r.ActionName, r.ActionValue)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMailRule removes a rule owned by accountID.
func (s *SettingsStore) DeleteMailRule(ctx context.Context, accountID string, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM mail_rules WHERE id = $1 AND account_id = $2`, id, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
