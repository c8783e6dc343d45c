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

// Package autoreply answers new unread messages on behalf of accounts with
// an active auto-reply window.
package autoreply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/deepframe/mailflow/internal/broker"
	"github.com/deepframe/mailflow/internal/cache"
	"github.com/deepframe/mailflow/internal/dedup"
	"github.com/deepframe/mailflow/internal/htmltext"
	"github.com/deepframe/mailflow/internal/models"
	"github.com/deepframe/mailflow/internal/provider"
)

// DefaultRecency is the default age limit for messages that get a reply.
const DefaultRecency = 10 * time.Minute

const engineName = "autoreply"

// Sender sends drafts through the provider.
type Sender interface {
	SendMessage(ctx context.Context, accountID string, d provider.Draft) error
}

// Decrypter returns a decrypted copy of a message.
type Decrypter interface {
	Decrypt(ctx context.Context, m *models.Message) *models.Message
}

// Deduper reports whether an action key is new. It may be nil.
type Deduper interface {
	IsNew(ctx context.Context, key string) (bool, error)
}

// Engine sends auto-replies.
type Engine struct {
	settings cache.Getter[models.AutoReply]
	crypto   Decrypter
	sender   Sender
	dedup    Deduper
	recency  time.Duration
	now      func() time.Time
}

// NewEngine creates the auto-reply engine. A zero recency disables the age
// check.
func NewEngine(settings cache.Getter[models.AutoReply], crypto Decrypter, sender Sender, d Deduper, recency time.Duration) *Engine {
	return &Engine{
		settings: settings,
		crypto:   crypto,
		sender:   sender,
		dedup:    d,
		recency:  recency,
		now:      time.Now,
	}
}

// Handle is the broker entry point.
func (e *Engine) Handle(ctx context.Context, env *models.Envelope) broker.Result {
	if !env.IsMessageCreate() {
		return broker.Skipped("not a message creation")
	}
	if !env.HasIdentity() {
		return broker.Skipped("missing message identity")
	}
	if !env.Attributes.Unread {
		return broker.Skipped("message already read")
	}
	now := e.now()
	if e.recency > 0 && env.Attributes.Date.Before(now.Add(-e.recency)) {
		return broker.Skipped("message too old")
	}

	accountID := env.Attributes.AccountID
	ar, found, err := e.settings.Get(ctx, accountID)
	if err != nil {
		return broker.Failed(fmt.Errorf("load auto-reply settings: %w", err))
	}
	if !found || !Active(ar, now) {
		return broker.Skipped("auto-reply inactive")
	}

	msg := e.crypto.Decrypt(ctx, env.Attributes.ToMessage())
	if msg.Encrypted {
		return broker.Failed(errors.New("message could not be decrypted"))
	}

	if e.dedup != nil {
		isNew, err := e.dedup.IsNew(ctx, dedup.ActionKey(engineName, msg.MessageID, "reply"))
		if err != nil {
			slog.Warn("dedup check failed, proceeding",
				"message_id", msg.MessageID,
				"error", err,
			)
		} else if !isNew {
			return broker.Skipped("auto-reply already sent")
		}
	}

	if err := e.sender.SendMessage(ctx, accountID, ReplyDraft(msg, ar.Content)); err != nil {
		slog.Error("auto-reply send failed",
			"message_id", msg.MessageID,
			"account_id", accountID,
			"error", err,
		)
		return broker.Failed(err)
	}

	slog.Info("auto-reply sent",
		"message_id", msg.MessageID,
		"account_id", accountID,
	)
	return broker.Processed()
}

// Active reports whether the settings are enabled with both dates set and
// now inside the closed window.
func Active(ar models.AutoReply, now time.Time) bool {
	if !ar.Enabled || ar.DateFrom == nil || ar.DateTo == nil {
		return false
	}
	return !now.Before(*ar.DateFrom) && !now.After(*ar.DateTo)
}

// ReplyDraft builds the reply to m: sender and recipient swapped, the
// configured content above the quoted original.
func ReplyDraft(m *models.Message, content string) provider.Draft {
	return provider.Draft{
		Subject: "RE: " + m.Subject,
		From:    m.To,
		ReplyTo: []models.Contact{},
		To:      []models.Contact{m.From},
		Cc:      []models.Contact{},
		Bcc:     []models.Contact{},
		Body:    htmltext.Sanitize(content) + "\n<br>\n<blockquote>" + htmltext.Sanitize(m.Body) + "</blockquote>\n",
		FileIDs: []string{},
	}
}

// LoadSettings returns a cache loader over the settings store.
func LoadSettings(get func(ctx context.Context, accountID string) (*models.AutoReply, error)) cache.Loader[models.AutoReply] {
	return func(ctx context.Context, accountID string) (models.AutoReply, bool, error) {
		ar, err := get(ctx, accountID)
		if err != nil || ar == nil {
			return models.AutoReply{}, false, err
		}
		return *ar, true, nil
	}
}
