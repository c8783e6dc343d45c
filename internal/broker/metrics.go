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
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// progressEvery controls how often a consumer logs its processed count.
const progressEvery = 100

var (
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailflow_consumer_deliveries_total",
		Help: "Deliveries handled per consumer and outcome",
	}, []string{"consumer", "outcome"})

	handlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mailflow_consumer_handler_duration_seconds",
		Help:    "Handler latency per consumer",
		Buckets: prometheus.DefBuckets,
	}, []string{"consumer"})
)

func observe(name string, res Result, elapsed time.Duration) {
	deliveriesTotal.WithLabelValues(name, res.Outcome.String()).Inc()
	handlerDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// progress logs a running count of processed deliveries.
type progress struct {
	name      string
	processed atomic.Int64
}

func newProgress(name string) *progress {
	return &progress{name: name}
}

func (p *progress) record(res Result) {
	if res.Outcome != OutcomeProcessed {
		return
	}
	if n := p.processed.Add(1); n%progressEvery == 0 {
		slog.Info("processed messages", "consumer", p.name, "count", n)
	}
}
