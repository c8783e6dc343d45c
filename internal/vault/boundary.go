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

// Package vault is the crypto boundary around message payloads. Sensitive
// text fields are encrypted at rest with account-scoped transit keys and
// decrypted on read; the boundary never forwards a transit failure to its
// callers on the decrypt path.
package vault

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deepframe/mailflow/internal/models"
)

// Placeholder replaces text fields that are still encrypted on any surface
// that renders them.
const Placeholder = "Unable to decrypt message at the moment. Please try again later"

// Transit performs batch encryption with a named key.
type Transit interface {
	Encrypt(ctx context.Context, key string, plaintexts []string) ([]string, error)
	Decrypt(ctx context.Context, key string, ciphertexts []string) ([]string, error)
}

// Boundary decrypts on read and encrypts on write.
type Boundary struct {
	transit Transit
	enabled bool
}

// NewBoundary creates a crypto boundary. When enabled is false no transit
// calls are made.
func NewBoundary(transit Transit, enabled bool) *Boundary {
	return &Boundary{transit: transit, enabled: enabled}
}

// Enabled reports whether the transit service is in use.
func (b *Boundary) Enabled() bool {
	return b.enabled
}

// KeyName returns the transit key for an account.
func KeyName(accountID string) string {
	return "account-" + accountID
}

// Decrypt returns a decrypted copy of m. If the message cannot be decrypted
// the copy keeps Encrypted set and its ciphertext fields.
func (b *Boundary) Decrypt(ctx context.Context, m *models.Message) *models.Message {
	if m == nil {
		return nil
	}
	out := m.Clone()
	if !out.Encrypted {
		return out
	}

	if !b.enabled {
		slog.Error("encrypted message and transit service is disabled",
			"message_id", m.MessageID,
			"account_id", m.AccountID,
		)
		return out
	}

	plain, err := b.transit.Decrypt(ctx, KeyName(m.AccountID), sensitiveFields(out))
	if err != nil {
		slog.Error("decrypt message failed",
			"message_id", m.MessageID,
			"account_id", m.AccountID,
			"error", err,
		)
		return out
	}
	if len(plain) != 4 {
		slog.Error("decrypt returned unexpected batch size",
			"message_id", m.MessageID,
			"size", len(plain),
		)
		return out
	}

	setSensitiveFields(out, plain)
	out.Encrypted = false
	return out
}

// Encrypt returns an encrypted copy of m. With the transit service disabled
// the copy is returned unchanged.
func (b *Boundary) Encrypt(ctx context.Context, m *models.Message) (*models.Message, error) {
	if m == nil {
		return nil, nil
	}
	out := m.Clone()
	if !b.enabled || out.Encrypted {
		return out, nil
	}

	cipher, err := b.transit.Encrypt(ctx, KeyName(m.AccountID), sensitiveFields(out))
	if err != nil {
		return nil, fmt.Errorf("encrypt message %s: %w", m.MessageID, err)
	}
	if len(cipher) != 4 {
		return nil, fmt.Errorf("encrypt message %s: unexpected batch size %d", m.MessageID, len(cipher))
	}

	setSensitiveFields(out, cipher)
	out.Encrypted = true
	return out, nil
}

// Redact substitutes the placeholder for every text field of a message that
// is still encrypted.
func Redact(m *models.Message) *models.Message {
	if m == nil || !m.Encrypted {
		return m
	}
	out := m.Clone()
	out.Body = Placeholder
	out.BodyText = Placeholder
	out.Snippet = Placeholder
	out.Subject = Placeholder
	return out
}

// sensitiveFields returns the transit batch in its fixed order.
func sensitiveFields(m *models.Message) []string {
	return []string{m.Body, m.BodyText, m.Snippet, m.Subject}
}

func setSensitiveFields(m *models.Message, values []string) {
	m.Body = values[0]
	m.BodyText = values[1]
	m.Snippet = values[2]
	m.Subject = values[3]
}
