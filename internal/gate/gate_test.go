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

package gate_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Inkotake/ojo-agent/internal/gate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_RespectsLimit(t *testing.T) {
	c := gate.New(map[string]int{gate.StageFetch: 2})

	var inFlight int32
	var maxSeen int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			require.NoError(t, c.Acquire(ctx, gate.StageFetch))
			defer c.Release(gate.StageFetch)

			n := atomic.AddInt32(&inFlight, 1)
			for {
				max := atomic.LoadInt32(&maxSeen)
				if n <= max || atomic.CompareAndSwapInt32(&maxSeen, max, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(maxSeen), 2)
}

func TestController_CancelUnblocks(t *testing.T) {
	c := gate.New(map[string]int{gate.StageSolve: 1})
	ctx := context.Background()
	require.NoError(t, c.Acquire(ctx, gate.StageSolve))

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := c.Acquire(cctx, gate.StageSolve)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Less(t, elapsed, 200*time.Millisecond)
}

func TestController_Reconfigure(t *testing.T) {
	c := gate.New(map[string]int{gate.StageUpload: 1})
	ctx := context.Background()

	require.NoError(t, c.Acquire(ctx, gate.StageUpload))

	c.Reconfigure(gate.StageUpload, 2)

	cctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Acquire(cctx, gate.StageUpload))

	_, capacity := c.Occupancy(gate.StageUpload)
	assert.Equal(t, 2, capacity)
}

func TestController_AcquireOrdered_ReleasesOnFailure(t *testing.T) {
	c := gate.New(map[string]int{
		gate.GlobalTasks: 5,
		gate.PerUser:      0,
	})
	c.Reconfigure(gate.PerUser, 1)

	ctx := context.Background()
	release, err := c.AcquireOrdered(ctx, gate.GlobalTasks, gate.PerUser)
	require.NoError(t, err)

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.AcquireOrdered(cctx, gate.GlobalTasks, gate.PerUser)
	require.Error(t, err)

	inFlight, _ := c.Occupancy(gate.GlobalTasks)
	assert.Equal(t, 1, inFlight, "failed ordered acquire must release the global_tasks permit it took")

	release()
	inFlight, _ = c.Occupancy(gate.GlobalTasks)
	assert.Equal(t, 0, inFlight)
}

func TestLLMProviderGate(t *testing.T) {
	assert.Equal(t, "llm.anthropic", gate.LLMProviderGate("anthropic"))
}
