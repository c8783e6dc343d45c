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

// Package broker is the AMQP consumer framework shared by every pipeline
// stage. A single Client owns the process's connection and channel; each
// consumer binds its own durable queue to a shared exchange and acknowledges
// every delivery once its handler has returned.
package broker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange kinds.
const (
	KindFanout = "fanout"
	KindDirect = "direct"
)

// ExchangeConfig names a durable exchange and its kind.
type ExchangeConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"type"`
}

// QueueConfig describes how a consumer queue is bound.
// Routes are ignored for fanout exchanges.
type QueueConfig struct {
	Exchange ExchangeConfig
	Routes   []string
}

// Client owns one AMQP connection and one channel for the whole process.
type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	// mu serialises topology setup so a Qos call is always followed by the
	// Consume it applies to.
	mu sync.Mutex
}

// Dial connects to the broker and opens the shared channel.
func Dial(url string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &Client{conn: conn, ch: ch}, nil
}

// Close closes the channel and the connection.
func (c *Client) Close() error {
	if err := c.ch.Close(); err != nil && err != amqp.ErrClosed {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}

// DeclareExchange declares a durable exchange.
func (c *Client) DeclareExchange(ex ExchangeConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.declareExchange(ex)
}

func (c *Client) declareExchange(ex ExchangeConfig) error {
	kind := ex.Kind
	if kind == "" {
		kind = KindFanout
	}
	if err := c.ch.ExchangeDeclare(ex.Name, kind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", ex.Name, err)
	}
	return nil
}

// Consume binds the durable queue name to the configured exchange and runs
// concurrency workers over its deliveries. The prefetch window equals
// concurrency. Consume blocks until ctx is cancelled or the broker closes the
// delivery stream.
func (c *Client) Consume(ctx context.Context, name string, qc QueueConfig, h Handler, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}

	deliveries, err := c.subscribe(name, qc, concurrency)
	if err != nil {
		return err
	}

	slog.Info("consumer waiting for messages",
		"consumer", name,
		"exchange", qc.Exchange.Name,
		"concurrency", concurrency,
	)

	go func() {
		<-ctx.Done()
		if err := c.ch.Cancel(name, false); err != nil && err != amqp.ErrClosed {
			slog.Warn("cancel consumer failed", "consumer", name, "error", err)
		}
	}()

	serve(ctx, name, deliveries, h, concurrency)
	return nil
}

func (c *Client) subscribe(name string, qc QueueConfig, concurrency int) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.declareExchange(qc.Exchange); err != nil {
		return nil, err
	}

	// global=false: the limit applies to the consumer created next.
	if err := c.ch.Qos(concurrency, 0, false); err != nil {
		return nil, fmt.Errorf("set prefetch for %s: %w", name, err)
	}

	q, err := c.ch.QueueDeclare(name, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", name, err)
	}

	routes := qc.Routes
	if qc.Exchange.Kind == KindFanout || qc.Exchange.Kind == "" || len(routes) == 0 {
		routes = []string{""}
	}
	for _, route := range routes {
		if err := c.ch.QueueBind(q.Name, route, qc.Exchange.Name, false, nil); err != nil {
			return nil, fmt.Errorf("bind queue %s to %s (%q): %w", q.Name, qc.Exchange.Name, route, err)
		}
	}

	deliveries, err := c.ch.Consume(q.Name, name, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", q.Name, err)
	}
	return deliveries, nil
}

// serve runs concurrency workers until deliveries closes or ctx is done.
func serve(ctx context.Context, name string, deliveries <-chan amqp.Delivery, h Handler, concurrency int) {
	progress := newProgress(name)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					res := dispatch(ctx, name, d, h)
					progress.record(res)
				}
			}
		}()
	}
	wg.Wait()
}

// dispatch runs the handler for one delivery and settles it.
func dispatch(ctx context.Context, name string, d amqp.Delivery, h Handler) Result {
	if len(bytes.TrimSpace(d.Body)) == 0 {
		res := Skipped("empty payload")
		settle(name, d, DispositionFor(res))
		return res
	}

	start := time.Now()
	res := invoke(ctx, h, d.Body)
	observe(name, res, time.Since(start))

	if res.Outcome == OutcomeFailed {
		slog.Error("error processing message",
			"consumer", name,
			"delivery_tag", d.DeliveryTag,
			"error", res.Reason,
		)
	}

	settle(name, d, DispositionFor(res))
	return res
}

func invoke(ctx context.Context, h Handler, body []byte) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failed(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return h(ctx, body)
}

func settle(name string, d amqp.Delivery, disp Disposition) {
	var err error
	switch disp {
	case Requeue:
		err = d.Nack(false, true)
	default:
		err = d.Ack(false)
	}
	if err != nil {
		slog.Error("failed to settle delivery",
			"consumer", name,
			"delivery_tag", d.DeliveryTag,
			"error", err,
		)
	}
}
