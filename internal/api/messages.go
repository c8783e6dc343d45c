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

package api

import (
	"net/http"

	"github.com/deepframe/mailflow/internal/broker"
	"github.com/deepframe/mailflow/internal/models"
	"github.com/deepframe/mailflow/internal/vault"
)

type topicView struct {
	Name    string          `json:"name"`
	Offsets []models.Offset `json:"offsets"`
}

func topicViews(topics []models.Topic) []topicView {
	out := make([]topicView, 0, len(topics))
	for _, t := range topics {
		offsets := t.HTMLOffsets
		if offsets == nil {
			offsets = []models.Offset{}
		}
		out = append(out, topicView{Name: t.Name, Offsets: offsets})
	}
	return out
}

// getMessage returns a decrypted message. Fields that cannot be decrypted
// are replaced by a placeholder.
func (h *Handler) getMessage(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}
	m, err := h.messages.Get(r.Context(), account, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "message_not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": vault.Redact(h.crypto.Decrypt(r.Context(), m)),
	})
}

// getTopics returns the message's topics, extracting them first when the
// message has none or force_process is set.
func (h *Handler) getTopics(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	m, err := h.messages.Get(r.Context(), account, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "message_not_found")
		return
	}

	if len(m.Topics) == 0 || r.URL.Query().Get("force_process") != "" {
		res := h.topics.ForceProcessTopics(r.Context(), models.EnvelopeFor(m))
		if res.Outcome == broker.OutcomeFailed {
			writeError(w, http.StatusBadGateway, res.Reason)
			return
		}
		if m, err = h.messages.Get(r.Context(), account, id); err != nil {
			writeStoreError(w, err)
			return
		}
		if m == nil {
			writeError(w, http.StatusNotFound, "message_not_found")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "topics": topicViews(m.Topics)})
}

// addTopics appends user-supplied topics not yet present by name.
func (h *Handler) addTopics(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}
	var req struct {
		Topics []models.Topic `json:"topics"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Topics == nil {
		writeError(w, http.StatusBadRequest, "topics are missed")
		return
	}

	added, err := h.messages.AddUserTopics(r.Context(), account, r.PathValue("id"), req.Topics)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "added": added})
}

func (h *Handler) getAnnotations(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}
	m, err := h.messages.Get(r.Context(), account, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "message_not_found")
		return
	}
	annotations := m.TopicsAnnotations
	if annotations == nil {
		annotations = []models.TopicAnnotation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"annotations": annotations,
		"shareText":   m.TextShared,
	})
}

// setAnnotations replaces the ratings, keeping the first per topic name.
func (h *Handler) setAnnotations(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}
	var req struct {
		Annotations []models.TopicAnnotation `json:"annotations"`
		ShareText   bool                     `json:"shareText"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Annotations == nil {
		writeError(w, http.StatusBadRequest, "annotations are missed")
		return
	}

	if err := h.messages.SetAnnotations(r.Context(), account, r.PathValue("id"), req.Annotations, req.ShareText); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
