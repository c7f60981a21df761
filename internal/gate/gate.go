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

// Package gate implements the Concurrency Controller: a set of named
// counting gates (semaphores) that bound parallelism across the engine.
// Gates are hot-reconfigurable and acquired in a fixed outer-to-inner
// order to preclude hold-and-wait deadlock.
package gate

import (
	"context"
	"fmt"
	"sync"
)

// Names of the required gates, in fixed acquisition order.
const (
	GlobalTasks = "global_tasks"
	PerUser     = "per_user"
	StageFetch  = "stage.fetch"
	StageUpload = "stage.upload"
	StageSolve  = "stage.solve"
	LLMTotal    = "llm.total"
	Queue       = "queue"
)

// LLMProviderGate returns the gate name for a specific provider, e.g.
// "llm.anthropic".
func LLMProviderGate(provider string) string {
	return "llm." + provider
}

// PerUserGate returns the gate name scoped to one user id, e.g.
// "per_user.alice".
func PerUserGate(userID string) string {
	return PerUser + "." + userID
}

// semaphore is a counting gate backed by a buffered channel, the same
// shape the Pipeline Runner's predecessor used for its single global
// concurrency limit.
type semaphore struct {
	mu   sync.Mutex
	ch   chan struct{}
	max  int
}

func newSemaphore(max int) *semaphore {
	if max <= 0 {
		max = 1
	}
	return &semaphore{ch: make(chan struct{}, max), max: max}
}

func (s *semaphore) acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *semaphore) release() {
	select {
	case <-s.ch:
	default:
	}
}

// reconfigure rebases the gate's capacity. Already-held permits remain
// valid; new callers see the new limit. Implemented by swapping in a
// fresh channel sized to the new limit and pre-filled with one token per
// in-flight permit (at most newMax), since Go channels cannot be resized
// in place.
func (s *semaphore) reconfigure(newMax int) {
	if newMax <= 0 {
		newMax = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inFlight := len(s.ch)
	next := make(chan struct{}, newMax)
	for i := 0; i < inFlight && i < newMax; i++ {
		next <- struct{}{}
	}
	s.ch = next
	s.max = newMax
}

// Controller owns every named gate and is the single source of truth for
// concurrency limits across the engine.
type Controller struct {
	mu    sync.RWMutex
	gates map[string]*semaphore
}

// New builds a Controller from a name->limit table. Gates referenced
// later that were not seeded here (e.g. a per-user or per-provider gate
// first seen at runtime) are created lazily with a default of 1 and must
// be reconfigured explicitly if a different limit is wanted.
func New(limits map[string]int) *Controller {
	c := &Controller{gates: make(map[string]*semaphore, len(limits))}
	for name, max := range limits {
		c.gates[name] = newSemaphore(max)
	}
	return c
}

func (c *Controller) gate(name string) *semaphore {
	c.mu.RLock()
	g, ok := c.gates[name]
	c.mu.RUnlock()
	if ok {
		return g
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.gates[name]; ok {
		return g
	}
	g = newSemaphore(1)
	c.gates[name] = g
	return g
}

// Acquire suspends until a permit for the named gate is available or ctx
// is cancelled.
func (c *Controller) Acquire(ctx context.Context, name string) error {
	return c.gate(name).acquire(ctx)
}

// Release returns a permit to the named gate unconditionally.
func (c *Controller) Release(name string) {
	c.gate(name).release()
}

// Reconfigure rebases a gate's capacity. Safe to call concurrently with
// Acquire/Release on the same or other gates.
func (c *Controller) Reconfigure(name string, newMax int) {
	c.gate(name).reconfigure(newMax)
}

// Occupancy reports the current in-flight permit count and capacity for
// a gate, used by internal/metrics to export gate occupancy gauges.
func (c *Controller) Occupancy(name string) (inFlight, capacity int) {
	g := c.gate(name)
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ch), g.max
}

// AcquireOrdered acquires every gate in names, in the given order,
// releasing any already-acquired gates if a later acquisition fails or
// ctx is cancelled. Callers must pass names outer-to-inner per the fixed
// acquisition order (global -> per_user -> stage.X -> llm.total ->
// llm.<provider>) to preclude deadlock.
func (c *Controller) AcquireOrdered(ctx context.Context, names ...string) (release func(), err error) {
	acquired := make([]string, 0, len(names))
	for _, name := range names {
		if err := c.Acquire(ctx, name); err != nil {
			for i := len(acquired) - 1; i >= 0; i-- {
				c.Release(acquired[i])
			}
			return nil, fmt.Errorf("gate: acquiring %q: %w", name, err)
		}
		acquired = append(acquired, name)
	}
	return func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			c.Release(acquired[i])
		}
	}, nil
}
