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
	"encoding/json"
	"testing"
	"time"
)

// TestTimestamp_Unmarshal verifies both accepted date encodings.
func TestTimestamp_Unmarshal(t *testing.T) {
	want := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"unix seconds", `1705309200`, want},
		{"rfc3339", `"2024-01-15T09:00:00Z"`, want},
		{"null", `null`, time.Time{}},
		{"empty string", `""`, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			if err := json.Unmarshal([]byte(tt.in), &ts); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !ts.Equal(tt.want) {
				t.Errorf("got %v, want %v", ts.Time, tt.want)
			}
		})
	}

	var ts Timestamp
	if err := json.Unmarshal([]byte(`"yesterday"`), &ts); err == nil {
		t.Error("expected error for unparseable date")
	}
}

// TestEnvelope_Decode verifies the provider's envelope format.
func TestEnvelope_Decode(t *testing.T) {
	raw := `{"object":"message","event":"create","attributes":{
		"id":"m1","account_id":"a1","thread_id":"t1","subject":"Hi",
		"from":[{"email":"bob@example.com","name":"Bob"}],
		"to":[{"email":"alice@example.com","name":""}],
		"date":1705309200,"unread":true,
		"files":[{"id":"f1","filename":"logo.png","content_id":"logo"}]}}`

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !env.IsMessageCreate() || !env.HasIdentity() {
		t.Fatalf("envelope = %+v", env)
	}

	m := env.Attributes.ToMessage()
	if m.MessageID != "m1" || m.From.Email != "bob@example.com" || m.Files[0].ContentID != "logo" {
		t.Errorf("message = %+v", m)
	}
	if len(m.Participants) != 2 {
		t.Errorf("participants = %+v", m.Participants)
	}
}

// TestEnvelope_HasIdentity verifies each required field.
func TestEnvelope_HasIdentity(t *testing.T) {
	full := func() *Envelope {
		return &Envelope{Attributes: &Attributes{ID: "m1", AccountID: "a1", From: []Contact{{Email: "b@x"}}}}
	}
	if !full().HasIdentity() {
		t.Fatal("complete envelope lacks identity")
	}

	for name, mutate := range map[string]func(*Envelope){
		"id":         func(e *Envelope) { e.Attributes.ID = "" },
		"account":    func(e *Envelope) { e.Attributes.AccountID = "" },
		"from":       func(e *Envelope) { e.Attributes.From = nil },
		"attributes": func(e *Envelope) { e.Attributes = nil },
	} {
		e := full()
		mutate(e)
		if e.HasIdentity() {
			t.Errorf("missing %s still has identity", name)
		}
	}
	var nilEnv *Envelope
	if nilEnv.HasIdentity() || nilEnv.IsMessageCreate() {
		t.Error("nil envelope has identity")
	}
}

// TestEnvelopeFor verifies a stored message converts back losslessly.
func TestEnvelopeFor(t *testing.T) {
	m := &Message{
		MessageID: "m1",
		AccountID: "a1",
		Subject:   "Hi",
		From:      Contact{Email: "bob@example.com"},
		To:        []Contact{{Email: "alice@example.com"}},
		Date:      time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
		Body:      "<p>Hi</p>",
		Encrypted: true,
	}

	env := EnvelopeFor(m)
	if !env.IsMessageCreate() || !env.HasIdentity() {
		t.Fatalf("envelope = %+v", env)
	}
	back := env.Attributes.ToMessage()
	if back.MessageID != m.MessageID || back.From != m.From || !back.Date.Equal(m.Date) || !back.Encrypted {
		t.Errorf("round trip = %+v", back)
	}
}

// TestRewriteInlineAttachments verifies only inline files are rewritten.
func TestRewriteInlineAttachments(t *testing.T) {
	m := &Message{
		Body: `<img src="cid:a1"><img src="cid:a1"><img src="cid:other">`,
		Files: []File{
			{ID: "f1", ContentID: "a1"},
			{ID: "f2"},
		},
	}
	m.RewriteInlineAttachments("https://mail.test/")

	want := `<img src="https://mail.test/api/mail/files/f1"><img src="https://mail.test/api/mail/files/f1"><img src="cid:other">`
	if m.Body != want {
		t.Errorf("body = %q\nwant  %q", m.Body, want)
	}
}

// TestClone_Deep verifies a clone shares no slices with its source.
func TestClone_Deep(t *testing.T) {
	m := &Message{
		To:     []Contact{{Email: "a@x"}},
		Folder: &Folder{ID: "inbox"},
		Topics: []Topic{{Name: "t", HTMLOffsets: []Offset{{1, 2}}}},
	}
	c := m.Clone()
	c.To[0].Email = "changed"
	c.Folder.ID = "changed"
	c.Topics[0].HTMLOffsets[0].Start = 99

	if m.To[0].Email != "a@x" || m.Folder.ID != "inbox" || m.Topics[0].HTMLOffsets[0].Start != 1 {
		t.Errorf("clone aliased source: %+v", m)
	}
}

// TestAppendUserTopics verifies append-by-name semantics.
func TestAppendUserTopics(t *testing.T) {
	existing := []Topic{{Name: "budget", Source: TopicSourceDeepTopic}}
	incoming := []Topic{{Name: "budget"}, {Name: "travel"}, {Name: ""}, {Name: "travel"}}

	merged, added := AppendUserTopics(existing, incoming)
	if added != 1 || len(merged) != 2 {
		t.Fatalf("added = %d merged = %+v", added, merged)
	}
	if merged[0].Source != TopicSourceDeepTopic {
		t.Error("existing topic source changed")
	}
	if merged[1].Name != "travel" || merged[1].Source != TopicSourceUser || merged[1].HTMLOffsets == nil {
		t.Errorf("appended topic = %+v", merged[1])
	}
}

// TestUniqueAnnotations verifies the first rating per name wins.
func TestUniqueAnnotations(t *testing.T) {
	got := UniqueAnnotations([]TopicAnnotation{
		{Name: "budget", Rating: "good"},
		{Name: "travel", Rating: "bad"},
		{Name: "budget", Rating: "bad"},
	})
	if len(got) != 2 || got[0].Rating != "good" {
		t.Errorf("annotations = %+v", got)
	}
	if got := UniqueAnnotations(nil); got == nil || len(got) != 0 {
		t.Errorf("nil input = %#v, want empty", got)
	}
}
