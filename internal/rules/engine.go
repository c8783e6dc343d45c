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

package rules

import (
	"context"
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

// DefaultRecency is the default age limit for messages rules apply to.
const DefaultRecency = 10 * time.Minute

const engineName = "rules"

// Sender performs provider-side actions.
type Sender interface {
	SendMessage(ctx context.Context, accountID string, d provider.Draft) error
	MarkAsRead(ctx context.Context, accountID, messageID string) error
}

// Decrypter returns a decrypted copy of a message.
type Decrypter interface {
	Decrypt(ctx context.Context, m *models.Message) *models.Message
}

// Deduper reports whether an action key is new. It may be nil.
type Deduper interface {
	IsNew(ctx context.Context, key string) (bool, error)
}

// Engine applies cached mail rules to inbound messages.
type Engine struct {
	rules   cache.Getter[[]Rule]
	emails  cache.Getter[string]
	crypto  Decrypter
	sender  Sender
	dedup   Deduper
	recency time.Duration
	now     func() time.Time
}

// NewEngine creates the mail-rule engine. A zero recency disables the age
// check.
func NewEngine(rules cache.Getter[[]Rule], emails cache.Getter[string], crypto Decrypter, sender Sender, d Deduper, recency time.Duration) *Engine {
	return &Engine{
		rules:   rules,
		emails:  emails,
		crypto:  crypto,
		sender:  sender,
		dedup:   d,
		recency: recency,
		now:     time.Now,
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
	if e.recency > 0 && env.Attributes.Date.Before(e.now().Add(-e.recency)) {
		return broker.Skipped("message too old")
	}

	accountID := env.Attributes.AccountID
	rules, found, err := e.rules.Get(ctx, accountID)
	if err != nil {
		return broker.Failed(fmt.Errorf("load mail rules: %w", err))
	}
	if !found || len(rules) == 0 {
		return broker.Skipped("no mail rules")
	}

	accountEmail, _, err := e.emails.Get(ctx, accountID)
	if err != nil {
		return broker.Failed(fmt.Errorf("resolve account email: %w", err))
	}

	msg := e.crypto.Decrypt(ctx, env.Attributes.ToMessage())
	actions := Evaluate(msg, accountEmail, rules)
	if len(actions) == 0 {
		return broker.Skipped("no matching rules")
	}

	for _, a := range actions {
		e.perform(ctx, msg, a)
	}
	return broker.Processed()
}

// perform runs one action. Failures are logged and never stop the others.
func (e *Engine) perform(ctx context.Context, msg *models.Message, a Action) {
	log := slog.With(
		"message_id", msg.MessageID,
		"account_id", msg.AccountID,
		"rule_id", a.RuleID,
		"action", a.Kind.String(),
	)

	if a.Kind == ActionForward && msg.Encrypted {
		log.Warn("message still encrypted, not forwarding")
		return
	}

	if e.dedup != nil {
		isNew, err := e.dedup.IsNew(ctx, dedup.ActionKey(engineName, msg.MessageID, a.key()))
		if err != nil {
			log.Warn("dedup check failed, proceeding", "error", err)
		} else if !isNew {
			log.Debug("action already taken")
			return
		}
	}

	var err error
	switch a.Kind {
	case ActionMarkAsRead:
		err = e.sender.MarkAsRead(ctx, msg.AccountID, msg.MessageID)
	case ActionForward:
		err = e.sender.SendMessage(ctx, msg.AccountID, ForwardDraft(msg, a.Target))
	}
	if err != nil {
		log.Error("mail rule action failed", "error", err)
		return
	}
	log.Info("mail rule action performed")
}

// ForwardDraft builds the forward of m to a single recipient with the
// original body quoted.
func ForwardDraft(m *models.Message, target string) provider.Draft {
	return provider.Draft{
		Subject: "fwd: " + m.Subject,
		From:    m.To,
		ReplyTo: []models.Contact{},
		To:      []models.Contact{{Email: target}},
		Cc:      []models.Contact{},
		Bcc:     []models.Contact{},
		Body:    "\n<br>\n<blockquote>" + htmltext.Sanitize(m.Body) + "</blockquote>\n",
		FileIDs: []string{},
	}
}

// LoadRules returns a cache loader that reads and parses an account's
// stored rules.
func LoadRules(list func(ctx context.Context, accountID string) ([]models.MailRule, error)) cache.Loader[[]Rule] {
	return func(ctx context.Context, accountID string) ([]Rule, bool, error) {
		stored, err := list(ctx, accountID)
		if err != nil {
			return nil, false, err
		}
		if len(stored) == 0 {
			return nil, false, nil
		}
		return ParseAll(stored), true, nil
	}
}
