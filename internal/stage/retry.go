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

package stage

import (
	"context"
	"math/rand"
	"time"

	"github.com/Inkotake/ojo-agent/pkg/ojoerrors"
)

// fetchBackoffs is the fixed 1s/2s/4s schedule spec.md §4.5.1 requires
// for Fetch's transient-network retry, ± jitter.
var fetchBackoffs = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

func withJitter(d time.Duration) time.Duration {
	jitter := float64(d) * 0.2
	delta := (rand.Float64() * 2 * jitter) - jitter
	return d + time.Duration(delta)
}

// sleepOrCancel waits d, returning ojoerrors.ErrCancelled if ctx ends first.
func sleepOrCancel(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ojoerrors.ErrCancelled
	case <-time.After(d):
		return nil
	}
}
