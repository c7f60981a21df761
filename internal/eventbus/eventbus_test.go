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

package eventbus

import (
	"testing"

	"github.com/Inkotake/ojo-agent/internal/problem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	topic := New(0)
	ch, unsub := topic.Subscribe()
	defer unsub()

	topic.Publish(problem.ProgressEvent{Kind: problem.EventStageStarted, ProblemID: "p1"})
	evt := <-ch
	assert.Equal(t, "p1", evt.ProblemID)
}

func TestSlowSubscriberDropped(t *testing.T) {
	topic := New(2)
	ch, _ := topic.Subscribe()
	require.Equal(t, 1, topic.SubscriberCount())

	for i := 0; i < 5; i++ {
		topic.Publish(problem.ProgressEvent{Kind: problem.EventStageCompleted})
	}

	assert.Equal(t, 0, topic.SubscriberCount())
	_, ok := <-ch
	for ok {
		_, ok = <-ch
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	topic := New(0)
	ch, unsub := topic.Subscribe()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
}
