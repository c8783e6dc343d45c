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

package search

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"

	"github.com/deepframe/mailflow/internal/broker"
	"github.com/deepframe/mailflow/internal/models"
)

// Contact is the indexed form of a sender or recipient.
type Contact struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Document is the indexed form of a message. Empty fields are omitted.
type Document struct {
	AccountID string     `json:"accountId,omitempty"`
	MessageID string     `json:"messageId,omitempty"`
	From      *Contact   `json:"from,omitempty"`
	To        []Contact  `json:"to,omitempty"`
	Cc        []Contact  `json:"cc,omitempty"`
	Bcc       []Contact  `json:"bcc,omitempty"`
	Subject   string     `json:"subject,omitempty"`
	BodyText  string     `json:"bodyText,omitempty"`
	Snippet   string     `json:"snippet,omitempty"`
	Date      *time.Time `json:"date,omitempty"`
	Labels    []string   `json:"labels,omitempty"`
	Files     []string   `json:"files,omitempty"`
	Topics    []string   `json:"topics,omitempty"`
}

// TopicDoc is one topic name known for an account.
type TopicDoc struct {
	Name      string `json:"name"`
	AccountID string `json:"accountId"`
}

// ContactDoc is one correspondent known for an account.
type ContactDoc struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	AccountID string `json:"accountId"`
}

// Decrypter opens encrypted messages.
type Decrypter interface {
	Decrypt(ctx context.Context, m *models.Message) *models.Message
}

// Format builds the search document for a message. Text fields of a message
// that is still encrypted are left out.
func Format(m *models.Message) Document {
	d := Document{
		AccountID: m.AccountID,
		MessageID: m.MessageID,
		To:        contacts(m.To),
		Cc:        contacts(m.Cc),
		Bcc:       contacts(m.Bcc),
	}
	if m.From != (models.Contact{}) {
		d.From = &Contact{Email: m.From.Email, Name: m.From.Name}
	}
	if !m.Encrypted {
		d.Subject = m.Subject
		d.BodyText = m.BodyText
		d.Snippet = m.Snippet
	}
	if !m.Date.IsZero() {
		date := m.Date
		d.Date = &date
	}
	for _, l := range m.Labels {
		d.Labels = append(d.Labels, l.ID)
	}
	for _, f := range m.Files {
		name := f.Filename
		if name == "" {
			name = f.ContentID
		}
		d.Files = append(d.Files, name)
	}
	for _, t := range m.Topics {
		d.Topics = append(d.Topics, t.Name)
	}
	return d
}

func contacts(in []models.Contact) []Contact {
	if len(in) == 0 {
		return nil
	}
	out := make([]Contact, len(in))
	for i, c := range in {
		out[i] = Contact{Email: c.Email, Name: c.Name}
	}
	return out
}

// docID derives a stable document id from its parts.
func docID(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// Projector keeps the search indexes in step with projection events.
type Projector struct {
	index  Index
	crypto Decrypter
}

// NewProjector creates a projector writing to index.
func NewProjector(index Index, crypto Decrypter) *Projector {
	return &Projector{index: index, crypto: crypto}
}

func valid(ev *models.ProjectionEvent) bool {
	return ev != nil && ev.ID != "" && ev.Attributes != nil && ev.Attributes.AccountID != ""
}

// HandleMessages indexes or removes the message document.
func (p *Projector) HandleMessages(ctx context.Context, ev *models.ProjectionEvent) broker.Result {
	if !valid(ev) {
		return broker.Skipped("missing message identity")
	}
	accountID := ev.Attributes.AccountID

	if ev.Event == models.ProjectionDelete {
		if err := p.index.Delete(ctx, IndexMessages, ev.ID, accountID); err != nil {
			return broker.Failed(err)
		}
		return broker.Processed()
	}

	doc := Format(p.crypto.Decrypt(ctx, ev.Attributes))
	if err := p.index.Put(ctx, IndexMessages, ev.ID, accountID, doc); err != nil {
		return broker.Failed(err)
	}
	return broker.Processed()
}

// HandleTopics records the message's topic names for its account. Names
// stay indexed after the message is deleted.
func (p *Projector) HandleTopics(ctx context.Context, ev *models.ProjectionEvent) broker.Result {
	if !valid(ev) {
		return broker.Skipped("missing message identity")
	}
	if ev.Event == models.ProjectionDelete {
		return broker.Skipped("topics are kept on delete")
	}
	if len(ev.Attributes.Topics) == 0 {
		return broker.Skipped("no topics")
	}

	accountID := ev.Attributes.AccountID
	docs := make([]BulkDoc, 0, len(ev.Attributes.Topics))
	for _, t := range ev.Attributes.Topics {
		docs = append(docs, BulkDoc{
			ID:      docID(accountID, t.Name),
			Routing: accountID,
			Body:    TopicDoc{Name: t.Name, AccountID: accountID},
		})
	}
	if err := p.index.Bulk(ctx, IndexTopics, docs); err != nil {
		return broker.Failed(err)
	}
	return broker.Processed()
}

// HandleContacts records the message's participants for its account.
// Emails are stored lowercased.
func (p *Projector) HandleContacts(ctx context.Context, ev *models.ProjectionEvent) broker.Result {
	if !valid(ev) {
		return broker.Skipped("missing message identity")
	}
	if ev.Event == models.ProjectionDelete {
		return broker.Skipped("contacts are kept on delete")
	}
	if len(ev.Attributes.Participants) == 0 {
		return broker.Skipped("no participants")
	}

	accountID := ev.Attributes.AccountID
	docs := make([]BulkDoc, 0, len(ev.Attributes.Participants))
	for _, c := range ev.Attributes.Participants {
		email := strings.ToLower(c.Email)
		docs = append(docs, BulkDoc{
			ID:      docID(accountID, strings.ToLower(c.Name), email),
			Routing: accountID,
			Body:    ContactDoc{Name: c.Name, Email: email, AccountID: accountID},
		})
	}
	if err := p.index.Bulk(ctx, IndexContacts, docs); err != nil {
		return broker.Failed(err)
	}
	return broker.Processed()
}
