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

package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Envelope objects and events.
const (
	ObjectMessage = "message"
	EventCreate   = "create"
	EventUpdate   = "update"
	EventDelete   = "delete"
)

// Envelope is a broker-delivered event describing a message lifecycle change.
type Envelope struct {
	Object     string      `json:"object"`
	Event      string      `json:"event"`
	Attributes *Attributes `json:"attributes"`
}

// Attributes carries message fields using the provider's snake_case naming.
type Attributes struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	ThreadID  string    `json:"thread_id"`
	Subject   string    `json:"subject"`
	From      []Contact `json:"from"`
	To        []Contact `json:"to"`
	Cc        []Contact `json:"cc"`
	Bcc       []Contact `json:"bcc"`
	Date      Timestamp `json:"date"`
	Body      string    `json:"body"`
	BodyText  string    `json:"body_text,omitempty"`
	Snippet   string    `json:"snippet"`
	Unread    bool      `json:"unread"`
	Starred   bool      `json:"starred"`
	Files     []File    `json:"files"`
	Labels    []Folder  `json:"labels"`
	Folder    *Folder   `json:"folder,omitempty"`
	Encrypted bool      `json:"encrypted"`
}

// HasIdentity reports whether the envelope carries the fields every consumer
// needs: id, account_id and a sender.
func (e *Envelope) HasIdentity() bool {
	if e == nil || e.Attributes == nil {
		return false
	}
	a := e.Attributes
	return a.ID != "" && a.AccountID != "" && len(a.From) > 0
}

// IsMessageCreate reports whether the envelope announces a new message.
func (e *Envelope) IsMessageCreate() bool {
	return e != nil && e.Object == ObjectMessage && e.Event == EventCreate
}

// ToMessage converts envelope attributes into a Message. Collaborator-owned
// fields are left at their zero values.
func (a *Attributes) ToMessage() *Message {
	m := &Message{
		MessageID: a.ID,
		AccountID: a.AccountID,
		ThreadID:  a.ThreadID,
		Subject:   a.Subject,
		To:        a.To,
		Cc:        a.Cc,
		Bcc:       a.Bcc,
		Date:      a.Date.Time,
		Unread:    a.Unread,
		Starred:   a.Starred,
		Snippet:   a.Snippet,
		Body:      a.Body,
		BodyText:  a.BodyText,
		Encrypted: a.Encrypted,
		Files:     a.Files,
		Folder:    a.Folder,
		Labels:    a.Labels,
	}
	if len(a.From) > 0 {
		m.From = a.From[0]
	}
	m.Participants = UnionContacts(a.From, a.To, a.Cc, a.Bcc)
	return m.Clone()
}

// EnvelopeFor rebuilds a create envelope from a stored message so it can be
// run through a consumer again.
func EnvelopeFor(m *Message) *Envelope {
	a := &Attributes{
		ID:        m.MessageID,
		AccountID: m.AccountID,
		ThreadID:  m.ThreadID,
		Subject:   m.Subject,
		To:        m.To,
		Cc:        m.Cc,
		Bcc:       m.Bcc,
		Date:      Timestamp{Time: m.Date},
		Body:      m.Body,
		BodyText:  m.BodyText,
		Snippet:   m.Snippet,
		Unread:    m.Unread,
		Starred:   m.Starred,
		Files:     m.Files,
		Labels:    m.Labels,
		Folder:    m.Folder,
		Encrypted: m.Encrypted,
	}
	if m.From != (Contact{}) {
		a.From = []Contact{m.From}
	}
	return &Envelope{Object: ObjectMessage, Event: EventCreate, Attributes: a}
}

// Timestamp accepts either unix seconds or an RFC 3339 string.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}
	secs, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("parse timestamp %s: %w", data, err)
	}
	t.Time = time.Unix(int64(secs), 0).UTC()
	return nil
}

// MarshalJSON encodes the timestamp as unix seconds.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(t.Unix(), 10)), nil
}

// ProjectionEvent is published on the projection exchange after every
// message persistence.
type ProjectionEvent struct {
	ID         string   `json:"_id"`
	Event      string   `json:"event"`
	Attributes *Message `json:"attributes"`
}

// Projection events.
const (
	ProjectionInsert = "insert"
	ProjectionUpdate = "update"
	ProjectionDelete = "delete"
)
