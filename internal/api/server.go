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

// Package api is the service's HTTP surface: message reads, topic
// annotation and per-account configuration writes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/deepframe/mailflow/internal/broker"
	"github.com/deepframe/mailflow/internal/models"
	"github.com/deepframe/mailflow/internal/rules"
	"github.com/deepframe/mailflow/internal/settings"
	"github.com/deepframe/mailflow/internal/store"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

// Messages is the message store subset the API uses.
type Messages interface {
	Get(ctx context.Context, accountID, messageID string) (*models.Message, error)
	AddUserTopics(ctx context.Context, accountID, messageID string, topics []models.Topic) (int, error)
	SetAnnotations(ctx context.Context, accountID, messageID string, annotations []models.TopicAnnotation, textShared bool) error
}

// TopicProcessor annotates a message on demand.
type TopicProcessor interface {
	ForceProcessTopics(ctx context.Context, env *models.Envelope) broker.Result
}

// Decrypter opens stored messages for display.
type Decrypter interface {
	Decrypt(ctx context.Context, m *models.Message) *models.Message
}

// Settings is the configuration write path.
type Settings interface {
	ListMailRules(ctx context.Context, accountID string) ([]models.MailRule, error)
	CreateMailRule(ctx context.Context, r models.MailRule) (models.MailRule, error)
	UpdateMailRule(ctx context.Context, r models.MailRule) error
	DeleteMailRule(ctx context.Context, accountID string, id int64) error
	GetAutoReply(ctx context.Context, accountID string) (*models.AutoReply, error)
	PutAutoReply(ctx context.Context, ar models.AutoReply) error
	DeleteAutoReply(ctx context.Context, accountID string) error
}

// Handler serves the API routes.
type Handler struct {
	messages Messages
	topics   TopicProcessor
	crypto   Decrypter
	settings Settings
}

// NewHandler creates the API handler.
func NewHandler(messages Messages, topics TopicProcessor, crypto Decrypter, settings Settings) *Handler {
	return &Handler{
		messages: messages,
		topics:   topics,
		crypto:   crypto,
		settings: settings,
	}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/messages/{id}", h.getMessage)
	mux.HandleFunc("GET /api/messages/{id}/topics", h.getTopics)
	mux.HandleFunc("POST /api/messages/{id}/topics", h.addTopics)
	mux.HandleFunc("GET /api/messages/{id}/topics/annotations", h.getAnnotations)
	mux.HandleFunc("POST /api/messages/{id}/topics/annotations", h.setAnnotations)

	mux.HandleFunc("GET /api/account/mail-rules", h.listMailRules)
	mux.HandleFunc("POST /api/account/mail-rules", h.createMailRule)
	mux.HandleFunc("PUT /api/account/mail-rules/{id}", h.updateMailRule)
	mux.HandleFunc("DELETE /api/account/mail-rules/{id}", h.deleteMailRule)
	mux.HandleFunc("GET /api/account/auto-reply", h.getAutoReply)
	mux.HandleFunc("PUT /api/account/auto-reply", h.putAutoReply)
	mux.HandleFunc("DELETE /api/account/auto-reply", h.deleteAutoReply)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// writeStoreError maps domain errors onto status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rules.ErrInvalidRule), errors.Is(err, settings.ErrInvalidAutoReply):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	default:
		slog.Error("api request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

// accountID reads the required account_id query parameter.
func accountID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("account_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "account_id is missed")
		return "", false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// HealthHandler pings every dependency and answers 503 if any fails.
func HealthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]string{}
		code := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		writeJSON(w, code, status)
	}
}
