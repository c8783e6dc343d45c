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

package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends JSON events to one exchange.
type Publisher struct {
	client   *Client
	exchange ExchangeConfig
}

// NewPublisher declares the exchange and returns a publisher targeting it.
func (c *Client) NewPublisher(ex ExchangeConfig) (*Publisher, error) {
	if err := c.DeclareExchange(ex); err != nil {
		return nil, err
	}
	return &Publisher{client: c, exchange: ex}, nil
}

// Publish serialises v and publishes it as a persistent message.
func (p *Publisher) Publish(ctx context.Context, routingKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:     "application/json",
		ContentEncoding: "utf-8",
		DeliveryMode:    amqp.Persistent,
		MessageId:       uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		Body:            body,
	}

	if err := p.client.ch.PublishWithContext(ctx, p.exchange.Name, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish to %s (%q): %w", p.exchange.Name, routingKey, err)
	}
	return nil
}
