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

// Package ingest persists inbound message envelopes. Each message is
// decrypted, has its inline attachment references rewritten and its plain
// text derived, and is re-encrypted before an idempotent upsert.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/deepframe/mailflow/internal/broker"
	"github.com/deepframe/mailflow/internal/htmltext"
	"github.com/deepframe/mailflow/internal/models"
)

// Crypto is the boundary messages cross on the way in and out.
type Crypto interface {
	Decrypt(ctx context.Context, m *models.Message) *models.Message
	Encrypt(ctx context.Context, m *models.Message) (*models.Message, error)
}

// Store is the subset of the message store ingestion writes to.
type Store interface {
	UpsertIngested(ctx context.Context, m *models.Message) error
	Delete(ctx context.Context, messageID string) error
}

// Consumer ingests message envelopes.
type Consumer struct {
	crypto          Crypto
	store           Store
	attachmentsHost string
}

// NewConsumer creates an ingestion consumer.
func NewConsumer(crypto Crypto, store Store, attachmentsHost string) *Consumer {
	return &Consumer{
		crypto:          crypto,
		store:           store,
		attachmentsHost: attachmentsHost,
	}
}

// Handle is the broker entry point.
func (c *Consumer) Handle(ctx context.Context, env *models.Envelope) broker.Result {
	if env.Object != models.ObjectMessage {
		return broker.Skipped("not a message")
	}
	if env.Event == models.EventDelete {
		return c.remove(ctx, env)
	}
	if !env.HasIdentity() {
		return broker.Skipped("missing message identity")
	}

	m := c.crypto.Decrypt(ctx, env.Attributes.ToMessage())
	if m.Encrypted {
		return broker.Failed(errors.New("message could not be decrypted"))
	}

	m.RewriteInlineAttachments(c.attachmentsHost)
	m.BodyText = htmltext.PlainText(m.Body)

	sealed, err := c.crypto.Encrypt(ctx, m)
	if err != nil {
		return broker.Failed(err)
	}
	if err := c.store.UpsertIngested(ctx, sealed); err != nil {
		return broker.Failed(err)
	}
	return broker.Processed()
}

func (c *Consumer) remove(ctx context.Context, env *models.Envelope) broker.Result {
	if env.Attributes == nil || env.Attributes.ID == "" {
		return broker.Skipped("missing message identity")
	}
	if err := c.store.Delete(ctx, env.Attributes.ID); err != nil {
		return broker.Failed(fmt.Errorf("delete message: %w", err))
	}
	return broker.Processed()
}
