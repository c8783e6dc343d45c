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

package notify

import (
	"context"
	"time"

	"github.com/deepframe/mailflow/internal/broker"
	"github.com/deepframe/mailflow/internal/models"
)

// DefaultRecency bounds how old a message may be and still be announced.
const DefaultRecency = 10 * time.Minute

const (
	heading = "New Message"
	content = "You have new unread message"
)

// Pusher delivers notifications.
type Pusher interface {
	Send(ctx context.Context, n Notification) error
}

// Consumer announces new unread messages to the account's devices.
type Consumer struct {
	push    Pusher
	recency time.Duration
	now     func() time.Time
}

// NewConsumer creates a notification consumer. A non-positive recency uses
// DefaultRecency.
func NewConsumer(push Pusher, recency time.Duration) *Consumer {
	if recency <= 0 {
		recency = DefaultRecency
	}
	return &Consumer{push: push, recency: recency, now: time.Now}
}

// Handle is the broker entry point.
func (c *Consumer) Handle(ctx context.Context, env *models.Envelope) broker.Result {
	if !env.IsMessageCreate() {
		return broker.Skipped("not a message create")
	}
	if env.Attributes == nil || env.Attributes.ID == "" || env.Attributes.AccountID == "" {
		return broker.Skipped("missing message identity")
	}
	a := env.Attributes
	if !a.Unread {
		return broker.Skipped("message already read")
	}
	if a.Date.Before(c.now().Add(-c.recency)) {
		return broker.Skipped("message too old")
	}

	err := c.push.Send(ctx, Notification{
		Contents: map[string]string{"en": content},
		Headings: map[string]string{"en": heading},
		Filters:  []Filter{UserFilter(a.AccountID)},
	})
	if err != nil {
		return broker.Failed(err)
	}
	return broker.Processed()
}
