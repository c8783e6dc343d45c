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

package topics

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/deepframe/mailflow/internal/broker"
	"github.com/deepframe/mailflow/internal/htmltext"
	"github.com/deepframe/mailflow/internal/models"
)

// DefaultDiscoveryWindow is how far back message dates may lie and still be
// annotated by the consumer.
const DefaultDiscoveryWindow = 60 * 24 * time.Hour

// Store persists topics. Implementations must touch no other message field.
type Store interface {
	UpdateTopics(ctx context.Context, accountID, messageID string, topics []models.Topic) error
}

// Decrypter returns a decrypted copy of a message.
type Decrypter interface {
	Decrypt(ctx context.Context, m *models.Message) *models.Message
}

// Config controls the processor.
type Config struct {
	// DiscoveryWindow skips messages dated further back than this. Zero
	// disables the check.
	DiscoveryWindow time.Duration
	// AttachmentsHost is the base URL for inline attachment references.
	AttachmentsHost string
}

// Processor annotates messages with topics.
type Processor struct {
	crypto    Decrypter
	extractor Extractor
	store     Store
	cfg       Config
	now       func() time.Time
}

// NewProcessor creates a topic processor.
func NewProcessor(crypto Decrypter, extractor Extractor, store Store, cfg Config) *Processor {
	return &Processor{
		crypto:    crypto,
		extractor: extractor,
		store:     store,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Handle is the broker entry point.
func (p *Processor) Handle(ctx context.Context, env *models.Envelope) broker.Result {
	return p.ProcessTopics(ctx, env)
}

// ProcessTopics annotates a newly created message unless it is older than
// the discovery window.
func (p *Processor) ProcessTopics(ctx context.Context, env *models.Envelope) broker.Result {
	if !env.IsMessageCreate() {
		return broker.Skipped("not a message creation")
	}
	if !env.HasIdentity() {
		return broker.Skipped("missing message identity")
	}
	if w := p.cfg.DiscoveryWindow; w > 0 && env.Attributes.Date.Before(p.now().Add(-w)) {
		return broker.Skipped("outside discovery window")
	}
	return p.annotate(ctx, env.Attributes.ToMessage())
}

// ForceProcessTopics annotates a message regardless of event type and age.
func (p *Processor) ForceProcessTopics(ctx context.Context, env *models.Envelope) broker.Result {
	if env == nil || env.Attributes == nil || env.Attributes.ID == "" {
		return broker.Skipped("missing message identity")
	}
	return p.annotate(ctx, env.Attributes.ToMessage())
}

func (p *Processor) annotate(ctx context.Context, m *models.Message) broker.Result {
	m = p.crypto.Decrypt(ctx, m)
	if m.Encrypted {
		return broker.Failed(errors.New("message could not be decrypted"))
	}

	m.RewriteInlineAttachments(p.cfg.AttachmentsHost)
	masked := htmltext.Masked(m.Body)
	normalized := htmltext.PlainText(m.Body)
	if normalized == "" {
		return broker.Skipped("no text content")
	}

	extracted, err := p.extractor.Extract(ctx, normalized)
	if err != nil {
		slog.Error("topic extraction failed",
			"message_id", m.MessageID,
			"error", err,
		)
		return broker.Failed(err)
	}

	topics := Remap(extracted, normalized, masked)
	if err := p.store.UpdateTopics(ctx, m.AccountID, m.MessageID, topics); err != nil {
		return broker.Failed(err)
	}

	slog.Debug("message topics updated",
		"message_id", m.MessageID,
		"topics", len(topics),
	)
	return broker.Processed()
}
