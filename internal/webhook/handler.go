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

// Package webhook receives the mail provider's delta notifications and
// republishes each message delta as an envelope on the raw exchange, where
// every pipeline consumer picks it up.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/deepframe/mailflow/internal/models"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Nylas-Signature"

// maxBody bounds how much of a notification is read.
const maxBody = 10 << 20

// deltaEvents maps provider delta types to envelope events.
var deltaEvents = map[string]string{
	"message.created": models.EventCreate,
	"message.updated": models.EventUpdate,
	"message.deleted": models.EventDelete,
}

// ObjectData is the object a delta describes.
type ObjectData struct {
	ID         string             `json:"id"`
	AccountID  string             `json:"account_id"`
	Object     string             `json:"object"`
	Attributes *models.Attributes `json:"attributes"`
}

// Delta is a single change notification.
type Delta struct {
	Date       int64      `json:"date"`
	Object     string     `json:"object"`
	Type       string     `json:"type"`
	ObjectData ObjectData `json:"object_data"`
}

// Payload is the wrapper the provider posts.
type Payload struct {
	Deltas []Delta `json:"deltas"`
}

// Publisher sends envelopes to the raw exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, v any) error
}

// Handler processes provider webhooks.
type Handler struct {
	secret    []byte
	publisher Publisher
}

// NewHandler creates a webhook handler. An empty secret disables signature
// verification.
func NewHandler(secret string, publisher Publisher) *Handler {
	return &Handler{
		secret:    []byte(secret),
		publisher: publisher,
	}
}

// ServeHTTP answers challenge requests on GET and processes deltas on POST.
//
// The provider retries a notification until it receives a 2xx; publish
// failures answer 500. Redelivered deltas are absorbed by the idempotent
// consumers.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		challenge := r.URL.Query().Get("challenge")
		if challenge == "" {
			w.WriteHeader(http.StatusOK)
			return
		}
		slog.Info("webhook challenge received")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		slog.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !h.verify(body, r.Header.Get(SignatureHeader)) {
		slog.Warn("webhook signature mismatch", "body_len", len(body))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Info("webhook body not valid JSON, ignoring", "body_len", len(body))
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if err := h.publishDeltas(r.Context(), payload.Deltas); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// verify checks the body signature in constant time.
func (h *Handler) verify(body []byte, signature string) bool {
	if len(h.secret) == 0 {
		return true
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func (h *Handler) publishDeltas(ctx context.Context, deltas []Delta) error {
	for _, d := range deltas {
		env, ok := ToEnvelope(d)
		if !ok {
			slog.Debug("skipping delta", "type", d.Type, "object", d.Object)
			continue
		}

		if err := h.publisher.Publish(ctx, "", env); err != nil {
			slog.Error("publish failed",
				"message_id", env.Attributes.ID,
				"event", env.Event,
				"error", err,
			)
			return err
		}
	}
	return nil
}

// ToEnvelope converts a message delta into an envelope. Identity fields
// missing from the attributes are taken from the object data.
func ToEnvelope(d Delta) (*models.Envelope, bool) {
	event, ok := deltaEvents[d.Type]
	if !ok || d.ObjectData.ID == "" {
		return nil, false
	}

	attrs := d.ObjectData.Attributes
	if attrs == nil {
		attrs = &models.Attributes{}
	}
	a := *attrs
	if a.ID == "" {
		a.ID = d.ObjectData.ID
	}
	if a.AccountID == "" {
		a.AccountID = d.ObjectData.AccountID
	}

	return &models.Envelope{
		Object:     models.ObjectMessage,
		Event:      event,
		Attributes: &a,
	}, true
}
