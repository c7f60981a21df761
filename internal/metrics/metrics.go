// Copyright 2025 Tom Barlow
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

// Package metrics exposes the engine's Prometheus series: gate
// occupancy, stage durations, and retry counts. internal/pipeline
// reports stage outcomes into it; gate occupancy is sampled from a
// gate.Controller by PollGateOccupancy.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Inkotake/ojo-agent/internal/gate"
)

var (
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ojo_stage_duration_seconds",
			Help:    "Wall-clock duration of one stage executor attempt, by stage and outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage", "outcome"},
	)

	stageRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ojo_stage_retries_total",
			Help: "Total stage-executor retry attempts, by stage",
		},
		[]string{"stage"},
	)

	gateOccupancy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ojo_gate_occupancy",
			Help: "Current in-flight permits held against a named concurrency gate",
		},
		[]string{"gate"},
	)

	gateCapacity = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ojo_gate_capacity",
			Help: "Configured capacity of a named concurrency gate",
		},
		[]string{"gate"},
	)

	problemsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ojo_problems_total",
			Help: "Total problems reaching a terminal status, by status",
		},
		[]string{"status"},
	)
)

// ObserveStage records one stage executor attempt's duration and outcome
// ("success", "failed", "retried").
func ObserveStage(stage, outcome string, seconds float64) {
	stageDuration.WithLabelValues(stage, outcome).Observe(seconds)
}

// RecordStageRetry increments the retry counter for stage.
func RecordStageRetry(stage string) {
	stageRetries.WithLabelValues(stage).Inc()
}

// SetGateOccupancy publishes a gate's current in-flight/capacity pair, as
// read from gate.Controller.Occupancy.
func SetGateOccupancy(name string, inFlight, capacity int) {
	gateOccupancy.WithLabelValues(name).Set(float64(inFlight))
	gateCapacity.WithLabelValues(name).Set(float64(capacity))
}

// RecordProblemTerminal increments the completion counter for a
// Problem reaching a terminal status.
func RecordProblemTerminal(status string) {
	problemsCompleted.WithLabelValues(status).Inc()
}

// gatesToPoll are the fixed gates always present in a Controller; per-user
// and per-provider gates are created lazily and are not polled here since
// their names are unbounded.
var gatesToPoll = []string{
	gate.GlobalTasks, gate.Queue, gate.StageFetch, gate.StageUpload, gate.StageSolve, gate.LLMTotal,
}

// PollGateOccupancy samples gates's fixed gates into the occupancy gauges
// on every tick until ctx is done, the way a sidecar would scrape a
// /metrics endpoint except pushed in-process since Occupancy has no
// external transport of its own.
func PollGateOccupancy(ctx context.Context, gates *gate.Controller, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, name := range gatesToPoll {
			inFlight, capacity := gates.Occupancy(name)
			SetGateOccupancy(name, inFlight, capacity)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
