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
	"strconv"

	"github.com/deepframe/mailflow/internal/models"
)

func (h *Handler) listMailRules(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}
	list, err := h.settings.ListMailRules(r.Context(), account)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if list == nil {
		list = []models.MailRule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "rules": list})
}

func (h *Handler) createMailRule(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}
	var rule models.MailRule
	if !decodeBody(w, r, &rule) {
		return
	}
	rule.ID = 0
	rule.AccountID = account

	created, err := h.settings.CreateMailRule(r.Context(), rule)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "rule": created})
}

func (h *Handler) updateMailRule(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	var rule models.MailRule
	if !decodeBody(w, r, &rule) {
		return
	}
	rule.ID = id
	rule.AccountID = account

	if err := h.settings.UpdateMailRule(r.Context(), rule); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "rule": rule})
}

func (h *Handler) deleteMailRule(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	if err := h.settings.DeleteMailRule(r.Context(), account, id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func ruleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return 0, false
	}
	return id, true
}

func (h *Handler) getAutoReply(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}
	ar, err := h.settings.GetAutoReply(r.Context(), account)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if ar == nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "autoReply": ar})
}

func (h *Handler) putAutoReply(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}
	var ar models.AutoReply
	if !decodeBody(w, r, &ar) {
		return
	}
	ar.AccountID = account

	if err := h.settings.PutAutoReply(r.Context(), ar); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "autoReply": ar})
}

func (h *Handler) deleteAutoReply(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}
	if err := h.settings.DeleteAutoReply(r.Context(), account); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
