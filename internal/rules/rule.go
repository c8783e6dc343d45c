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

// Package rules evaluates per-account mail rules against inbound messages
// and performs the resulting forward and mark-as-read actions.
package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deepframe/mailflow/internal/models"
)

// ErrInvalidRule is returned by Parse for rules outside the supported set.
var ErrInvalidRule = errors.New("invalid mail rule")

// Field is the message field a condition inspects.
type Field int

const (
	FieldCc Field = iota + 1
	FieldFrom
	FieldSubject
	FieldTo
)

var fieldNames = map[string]Field{
	"cc":      FieldCc,
	"from":    FieldFrom,
	"subject": FieldSubject,
	"to":      FieldTo,
}

func (f Field) String() string {
	for name, v := range fieldNames {
		if v == f {
			return name
		}
	}
	return fmt.Sprintf("field(%d)", int(f))
}

// Operator is how a condition compares its value.
type Operator int

const (
	Contains Operator = iota + 1
	DoesNotContain
)

var operatorNames = map[string]Operator{
	"contains":       Contains,
	"doesNotContain": DoesNotContain,
}

func (o Operator) String() string {
	for name, v := range operatorNames {
		if v == o {
			return name
		}
	}
	return fmt.Sprintf("operator(%d)", int(o))
}

// ActionKind is what a matching rule does.
type ActionKind int

const (
	ActionForward ActionKind = iota + 1
	ActionMarkAsRead
)

var actionNames = map[string]ActionKind{
	"messageForward":    ActionForward,
	"messageMarkAsRead": ActionMarkAsRead,
}

func (a ActionKind) String() string {
	for name, v := range actionNames {
		if v == a {
			return name
		}
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Rule is a validated mail rule.
type Rule struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Field       Field      `json:"field"`
	Operator    Operator   `json:"operator"`
	Value       string     `json:"value"`
	Action      ActionKind `json:"action"`
	ActionValue string     `json:"actionValue"`
}

// Parse validates a stored rule. Unknown condition or action names, and
// forwards without a target, are rejected with ErrInvalidRule.
func Parse(r models.MailRule) (Rule, error) {
	field, ok := fieldNames[r.ConditionName]
	if !ok {
		return Rule{}, fmt.Errorf("%w: unknown condition %q", ErrInvalidRule, r.ConditionName)
	}
	op, ok := operatorNames[r.ConditionRule]
	if !ok {
		return Rule{}, fmt.Errorf("%w: unknown condition rule %q", ErrInvalidRule, r.ConditionRule)
	}
	action, ok := actionNames[r.ActionName]
	if !ok {
		return Rule{}, fmt.Errorf("%w: unknown action %q", ErrInvalidRule, r.ActionName)
	}
	target := strings.TrimSpace(r.ActionValue)
	if action == ActionForward && target == "" {
		return Rule{}, fmt.Errorf("%w: forward without a target address", ErrInvalidRule)
	}

	return Rule{
		ID:          r.ID,
		Title:       r.Title,
		Field:       field,
		Operator:    op,
		Value:       r.ConditionValue,
		Action:      action,
		ActionValue: target,
	}, nil
}

// ParseAll parses stored rules, logging and dropping the invalid ones.
func ParseAll(stored []models.MailRule) []Rule {
	out := make([]Rule, 0, len(stored))
	for _, s := range stored {
		r, err := Parse(s)
		if err != nil {
			slog.Warn("ignoring invalid mail rule",
				"rule_id", s.ID,
				"account_id", s.AccountID,
				"error", err,
			)
			continue
		}
		out = append(out, r)
	}
	return out
}

// Matches reports whether the rule's condition holds for m. Subject
// conditions never match a message that is still encrypted.
func (r Rule) Matches(m *models.Message) bool {
	var found bool
	switch r.Field {
	case FieldSubject:
		if m.Encrypted {
			return false
		}
		found = strings.Contains(m.Subject, r.Value)
	case FieldFrom:
		found = anyContactContains([]models.Contact{m.From}, r.Value)
	case FieldTo:
		found = anyContactContains(m.To, r.Value)
	case FieldCc:
		found = anyContactContains(m.Cc, r.Value)
	default:
		return false
	}

	if r.Operator == DoesNotContain {
		return !found
	}
	return found
}

func anyContactContains(contacts []models.Contact, value string) bool {
	for _, c := range contacts {
		if strings.Contains(c.Email, value) || strings.Contains(c.Name, value) {
			return true
		}
	}
	return false
}

// Action is one side effect produced by a matching rule.
type Action struct {
	Kind   ActionKind
	RuleID int64
	// Target is the forward recipient.
	Target string
}

// key identifies the effect of an action on one message.
func (a Action) key() string {
	if a.Kind == ActionForward {
		return "forward:" + strings.ToLower(a.Target)
	}
	return a.Kind.String()
}

// Evaluate returns the actions the rules trigger for m. Messages sent by
// the account itself trigger nothing, and forwards back to the account's
// own address are dropped.
func Evaluate(m *models.Message, accountEmail string, rules []Rule) []Action {
	if accountEmail != "" && strings.EqualFold(m.From.Email, accountEmail) {
		return nil
	}

	var out []Action
	for _, r := range rules {
		if !r.Matches(m) {
			continue
		}
		switch r.Action {
		case ActionForward:
			if strings.EqualFold(r.ActionValue, accountEmail) {
				continue
			}
			out = append(out, Action{Kind: ActionForward, RuleID: r.ID, Target: r.ActionValue})
		case ActionMarkAsRead:
			out = append(out, Action{Kind: ActionMarkAsRead, RuleID: r.ID})
		}
	}
	return out
}
