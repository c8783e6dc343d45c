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

package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/deepframe/mailflow/internal/broker"
	"github.com/deepframe/mailflow/internal/models"
	"github.com/deepframe/mailflow/internal/store"
	"github.com/deepframe/mailflow/internal/vault"
)

// mockTransit marks ciphertext with a prefix.
type mockTransit struct {
	encryptErr error
}

func (m *mockTransit) Encrypt(_ context.Context, _ string, in []string) ([]string, error) {
	if m.encryptErr != nil {
		return nil, m.encryptErr
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = "enc:" + s
	}
	return out, nil
}

func (m *mockTransit) Decrypt(_ context.Context, _ string, in []string) ([]string, error) {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimPrefix(s, "enc:")
	}
	return out, nil
}

func createEnvelope() *models.Envelope {
	return &models.Envelope{
		Object: models.ObjectMessage,
		Event:  models.EventCreate,
		Attributes: &models.Attributes{
			ID:        "m1",
			AccountID: "a1",
			ThreadID:  "t1",
			Subject:   "Logo",
			From:      []models.Contact{{Email: "bob@example.com", Name: "Bob"}},
			To:        []models.Contact{{Email: "alice@example.com"}},
			Cc:        []models.Contact{{Email: "bob@example.com", Name: "Bob"}},
			Date:      models.Timestamp{Time: time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)},
			Body:      `<p>See <img src="cid:logo123"></p><p>Thanks</p>`,
			Snippet:   "See",
			Unread:    true,
			Files:     []models.File{{ID: "file-9", Filename: "logo.png", ContentID: "logo123"}},
		},
	}
}

// TestConsumer_IngestsEncrypted verifies the full path with encryption on.
func TestConsumer_IngestsEncrypted(t *testing.T) {
	ctx := context.Background()
	boundary := vault.NewBoundary(&mockTransit{}, true)
	st := store.NewMemoryMessages(nil)
	c := NewConsumer(boundary, st, "https://mail.test")

	if res := c.Handle(ctx, createEnvelope()); res.Outcome != broker.OutcomeProcessed {
		t.Fatalf("outcome = %v (%s)", res.Outcome, res.Reason)
	}

	raw, _ := st.Get(ctx, "a1", "m1")
	if raw == nil || !raw.Encrypted || !strings.HasPrefix(raw.Body, "enc:") {
		t.Fatalf("stored message not encrypted: %+v", raw)
	}

	m := boundary.Decrypt(ctx, raw)
	if !strings.Contains(m.Body, `src="https://mail.test/api/mail/files/file-9"`) {
		t.Errorf("inline attachment not rewritten: %q", m.Body)
	}
	if m.BodyText != "See\nThanks" {
		t.Errorf("bodyText = %q", m.BodyText)
	}
	if m.From.Email != "bob@example.com" || len(m.Participants) != 2 {
		t.Errorf("from = %+v participants = %+v", m.From, m.Participants)
	}
}

// TestConsumer_Idempotent verifies a duplicate delivery leaves the stored
// record byte-identical, topics written in between included.
func TestConsumer_Idempotent(t *testing.T) {
	for _, encrypted := range []bool{false, true} {
		t.Run(fmt.Sprintf("encrypted=%v", encrypted), func(t *testing.T) {
			ctx := context.Background()
			st := store.NewMemoryMessages(nil)
			c := NewConsumer(vault.NewBoundary(&mockTransit{}, encrypted), st, "https://mail.test")

			if res := c.Handle(ctx, createEnvelope()); res.Outcome != broker.OutcomeProcessed {
				t.Fatalf("first outcome = %v (%s)", res.Outcome, res.Reason)
			}
			if err := st.UpdateTopics(ctx, "a1", "m1", []models.Topic{{Name: "logo"}}); err != nil {
				t.Fatalf("update topics: %v", err)
			}
			first, _ := st.Get(ctx, "a1", "m1")

			if res := c.Handle(ctx, createEnvelope()); res.Outcome != broker.OutcomeProcessed {
				t.Fatalf("redelivery outcome = %v", res.Outcome)
			}
			second, _ := st.Get(ctx, "a1", "m1")

			before, err := json.Marshal(first)
			if err != nil {
				t.Fatalf("encode first: %v", err)
			}
			after, err := json.Marshal(second)
			if err != nil {
				t.Fatalf("encode second: %v", err)
			}
			if !bytes.Equal(before, after) {
				t.Errorf("redelivery changed the record:\nfirst  %s\nsecond %s", before, after)
			}
			if len(second.Topics) != 1 || second.Topics[0].Name != "logo" {
				t.Errorf("topics = %+v, want preserved", second.Topics)
			}
		})
	}
}

// TestConsumer_Skips verifies non-message and identity-less envelopes.
func TestConsumer_Skips(t *testing.T) {
	st := store.NewMemoryMessages(nil)
	c := NewConsumer(vault.NewBoundary(&mockTransit{}, false), st, "")

	thread := createEnvelope()
	thread.Object = "thread"
	if res := c.Handle(context.Background(), thread); res.Outcome != broker.OutcomeSkipped {
		t.Errorf("thread outcome = %v", res.Outcome)
	}

	noFrom := createEnvelope()
	noFrom.Attributes.From = nil
	if res := c.Handle(context.Background(), noFrom); res.Outcome != broker.OutcomeSkipped {
		t.Errorf("no sender outcome = %v", res.Outcome)
	}
}

// TestConsumer_DecryptFailure verifies undecryptable messages are not
// persisted.
func TestConsumer_DecryptFailure(t *testing.T) {
	st := store.NewMemoryMessages(nil)
	c := NewConsumer(vault.NewBoundary(&mockTransit{}, false), st, "")

	env := createEnvelope()
	env.Attributes.Encrypted = true
	if res := c.Handle(context.Background(), env); res.Outcome != broker.OutcomeFailed {
		t.Errorf("outcome = %v, want failed", res.Outcome)
	}
	if m, _ := st.Get(context.Background(), "a1", "m1"); m != nil {
		t.Error("undecryptable message was stored")
	}
}

// TestConsumer_EncryptFailure verifies plaintext is never persisted when
// encryption fails.
func TestConsumer_EncryptFailure(t *testing.T) {
	st := store.NewMemoryMessages(nil)
	c := NewConsumer(vault.NewBoundary(&mockTransit{encryptErr: errors.New("sealed")}, true), st, "")

	if res := c.Handle(context.Background(), createEnvelope()); res.Outcome != broker.OutcomeFailed {
		t.Errorf("outcome = %v, want failed", res.Outcome)
	}
	if m, _ := st.Get(context.Background(), "a1", "m1"); m != nil {
		t.Error("message stored without encryption")
	}
}

// TestConsumer_Delete verifies delete events remove the record.
func TestConsumer_Delete(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryMessages(nil)
	c := NewConsumer(vault.NewBoundary(&mockTransit{}, false), st, "")
	c.Handle(ctx, createEnvelope())

	del := &models.Envelope{Object: models.ObjectMessage, Event: models.EventDelete, Attributes: &models.Attributes{ID: "m1"}}
	if res := c.Handle(ctx, del); res.Outcome != broker.OutcomeProcessed {
		t.Fatalf("outcome = %v", res.Outcome)
	}
	if m, _ := st.Get(ctx, "a1", "m1"); m != nil {
		t.Error("message still stored")
	}
}
