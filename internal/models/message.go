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

// Package models defines the data structures shared across the mail pipeline.
package models

import (
	"strings"
	"time"
)

// Topic sources.
const (
	TopicSourceDeepTopic = "deeptopic"
	TopicSourceUser      = "user"
)

// Contact is a sender or recipient.
type Contact struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// File describes an attachment. Inline attachments carry a content id that
// the HTML body references as cid:<content_id>.
type File struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	ContentID   string `json:"content_id"`
}

// Folder is a provider folder or label.
type Folder struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
}

// Offset is a half-open [Start, End) span measured in code points.
type Offset struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Topic is a derived annotation on a message.
//
// TextOffsets are spans in the extractor's normalized text; HTMLOffsets are
// one span per matched word in the masked (offset-preserving) HTML text.
type Topic struct {
	Name        string   `json:"name"`
	Score       float64  `json:"score"`
	Source      string   `json:"source"`
	TextOffsets []Offset `json:"textOffsets"`
	HTMLOffsets []Offset `json:"htmlOffsets"`
}

// TopicAnnotation is a human rating of a topic.
type TopicAnnotation struct {
	Name   string `json:"name"`
	Rating string `json:"rating"`
}

// Message is the canonical stored email record, keyed by MessageID.
type Message struct {
	MessageID         string            `json:"messageId"`
	AccountID         string            `json:"accountId"`
	ThreadID          string            `json:"threadId"`
	Subject           string            `json:"subject"`
	From              Contact           `json:"from"`
	To                []Contact         `json:"to"`
	Cc                []Contact         `json:"cc"`
	Bcc               []Contact         `json:"bcc"`
	Participants      []Contact         `json:"participants"`
	Date              time.Time         `json:"date"`
	Unread            bool              `json:"unread"`
	Starred           bool              `json:"starred"`
	Deleted           bool              `json:"deleted"`
	Pinned            bool              `json:"pinned"`
	Snippet           string            `json:"snippet"`
	Body              string            `json:"body"`
	BodyText          string            `json:"bodyText"`
	Encrypted         bool              `json:"encrypted"`
	Files             []File            `json:"files"`
	Folder            *Folder           `json:"folder,omitempty"`
	Labels            []Folder          `json:"labels"`
	Topics            []Topic           `json:"topics"`
	TopicsAnnotations []TopicAnnotation `json:"topicsAnnotations"`
	TextShared        bool              `json:"textShared"`
	Replied           bool              `json:"replied"`
	Forwarded         bool              `json:"forwarded"`
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.To = append([]Contact(nil), m.To...)
	c.Cc = append([]Contact(nil), m.Cc...)
	c.Bcc = append([]Contact(nil), m.Bcc...)
	c.Participants = append([]Contact(nil), m.Participants...)
	c.Files = append([]File(nil), m.Files...)
	c.Labels = append([]Folder(nil), m.Labels...)
	c.TopicsAnnotations = append([]TopicAnnotation(nil), m.TopicsAnnotations...)
	if m.Folder != nil {
		f := *m.Folder
		c.Folder = &f
	}
	if m.Topics != nil {
		c.Topics = make([]Topic, len(m.Topics))
		for i, t := range m.Topics {
			t.TextOffsets = append([]Offset(nil), t.TextOffsets...)
			t.HTMLOffsets = append([]Offset(nil), t.HTMLOffsets...)
			c.Topics[i] = t
		}
	}
	return &c
}

// RewriteInlineAttachments replaces every cid:<content_id> reference in the
// body with a stable HTTP URL for the attachment. It must run on decrypted
// content.
func (m *Message) RewriteInlineAttachments(attachmentsHost string) {
	host := strings.TrimRight(attachmentsHost, "/")
	for _, f := range m.Files {
		if f.ContentID == "" {
			continue
		}
		m.Body = strings.ReplaceAll(m.Body, "cid:"+f.ContentID, host+"/api/mail/files/"+f.ID)
	}
}

// UnionContacts merges contact lists, dropping exact duplicates while
// keeping first-seen order.
func UnionContacts(lists ...[]Contact) []Contact {
	seen := make(map[Contact]bool)
	out := []Contact{}
	for _, list := range lists {
		for _, c := range list {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// AppendUserTopics appends the topics whose names are not yet present,
// marking them as user-sourced. It returns the merged list and the number
// of topics added.
func AppendUserTopics(existing, incoming []Topic) ([]Topic, int) {
	seen := make(map[string]bool, len(existing)+len(incoming))
	merged := make([]Topic, 0, len(existing)+len(incoming))
	for _, t := range existing {
		seen[t.Name] = true
		merged = append(merged, t)
	}

	added := 0
	for _, t := range incoming {
		if t.Name == "" || seen[t.Name] {
			continue
		}
		seen[t.Name] = true
		t.Source = TopicSourceUser
		if t.TextOffsets == nil {
			t.TextOffsets = []Offset{}
		}
		if t.HTMLOffsets == nil {
			t.HTMLOffsets = []Offset{}
		}
		merged = append(merged, t)
		added++
	}
	return merged, added
}

// UniqueAnnotations keeps the first annotation for each topic name.
func UniqueAnnotations(in []TopicAnnotation) []TopicAnnotation {
	seen := make(map[string]bool, len(in))
	out := []TopicAnnotation{}
	for _, a := range in {
		if seen[a.Name] {
			continue
		}
		seen[a.Name] = true
		out = append(out, a)
	}
	return out
}
