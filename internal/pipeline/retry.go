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

package pipeline

import (
	"context"
	"math/rand"
	"time"

	"github.com/Inkotake/ojo-agent/pkg/ojoerrors"
)

// backoffFor returns the exponential-with-cap delay for the given
// zero-based attempt, ± jitter, following the same shape
// pkg/llm/retry.go's calculateBackoff uses.
func backoffFor(base, maxDelay time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			d = maxDelay
			break
		}
	}
	jitter := float64(d) * 0.2
	delta := (rand.Float64() * 2 * jitter) - jitter
	return d + time.Duration(delta)
}

func sleepOrCancel(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ojoerrors.ErrCancelled
	case <-time.After(d):
		return nil
	}
}
