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

import "time"

// AutoReply is the per-account auto-reply configuration.
type AutoReply struct {
	AccountID string     `json:"accountId"`
	Enabled   bool       `json:"enabled"`
	DateFrom  *time.Time `json:"dateFrom,omitempty"`
	DateTo    *time.Time `json:"dateTo,omitempty"`
	Content   string     `json:"content"`
}

// MailRule is a stored mail rule exactly as written by the account owner.
// Condition and action names are validated by the rules package.
type MailRule struct {
	ID             int64  `json:"id"`
	AccountID      string `json:"accountId"`
	Title          string `json:"title"`
	ConditionName  string `json:"conditionName"`
	ConditionRule  string `json:"conditionRule"`
	ConditionValue string `json:"conditionValue"`
	ActionName     string `json:"actionName"`
	ActionValue    string `json:"actionValue"`
}
