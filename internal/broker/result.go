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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Outcome classifies what a handler did with a delivery.
type Outcome int

const (
	OutcomeProcessed Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the typed return value of every consumer handler.
type Result struct {
	Outcome Outcome
	Reason  string
	Err     error
}

// Processed reports that the delivery had its intended effect.
func Processed() Result {
	return Result{Outcome: OutcomeProcessed}
}

// Skipped reports that the delivery was not applicable to this consumer.
func Skipped(reason string) Result {
	return Result{Outcome: OutcomeSkipped, Reason: reason}
}

// Failed reports that processing was attempted and did not complete.
func Failed(err error) Result {
	return Result{Outcome: OutcomeFailed, Err: err, Reason: errString(err)}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Disposition is what the adapter tells the broker after a handler returns.
type Disposition int

const (
	Ack Disposition = iota
	Requeue
)

// DispositionFor maps a handler result to a broker disposition.
//
// Every outcome is acknowledged. Handlers are idempotent and a poisoned
// message must never block its queue, so failures are logged and dropped
// rather than redelivered.
func DispositionFor(Result) Disposition {
	return Ack
}

// Handler processes one raw delivery body.
type Handler func(ctx context.Context, body []byte) Result

// JSON adapts a typed handler to raw delivery bodies. Undecodable payloads
// fail without invoking fn.
func JSON[T any](fn func(ctx context.Context, v *T) Result) Handler {
	return func(ctx context.Context, body []byte) Result {
		var v T
		dec := json.NewDecoder(bytes.NewReader(body))
		if err := dec.Decode(&v); err != nil {
			return Failed(fmt.Errorf("decode payload: %w", err))
		}
		return fn(ctx, &v)
	}
}
