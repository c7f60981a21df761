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

// Package eventbus implements the Event Bus: one internal progress topic
// the Pipeline Runner and Stage Executors publish to, and the transport
// layer's push sink (SSE/WebSocket) subscribes to. Delivery is
// best-effort in-order per Problem; a subscriber that falls behind is
// dropped rather than allowed to block publishers.
package eventbus

import (
	"sync"

	"github.com/Inkotake/ojo-agent/internal/problem"
)

// DefaultBacklog is the default per-subscriber channel capacity before a
// slow subscriber is dropped, per spec.md §4.8.
const DefaultBacklog = 100

// Topic is the single progress topic. The zero value is not usable; use
// New.
type Topic struct {
	backlog int

	mu          sync.Mutex
	subscribers map[int]chan problem.ProgressEvent
	nextID      int
}

// New builds a Topic with the given per-subscriber backlog. A backlog
// <= 0 uses DefaultBacklog.
func New(backlog int) *Topic {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Topic{backlog: backlog, subscribers: make(map[int]chan problem.ProgressEvent)}
}

// Publish fans an event out to every current subscriber. A subscriber
// whose channel is full is dropped on this call rather than blocking the
// publisher; the transport layer signals reconnect when its own
// subscription channel closes.
func (t *Topic) Publish(evt problem.ProgressEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, ch := range t.subscribers {
		select {
		case ch <- evt:
		default:
			delete(t.subscribers, id)
			close(ch)
		}
	}
}

// Subscribe returns a channel receiving every event published from this
// point on, and an unsubscribe function. The channel is closed on
// unsubscribe or if the subscriber falls behind and is dropped.
func (t *Topic) Subscribe() (<-chan problem.ProgressEvent, func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	ch := make(chan problem.ProgressEvent, t.backlog)
	t.subscribers[id] = ch
	t.mu.Unlock()

	unsub := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if existing, ok := t.subscribers[id]; ok {
			delete(t.subscribers, id)
			close(existing)
		}
	}
	return ch, unsub
}

// SubscriberCount reports the number of currently attached subscribers.
func (t *Topic) SubscriberCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}
