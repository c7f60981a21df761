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

package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/itchyny/gojq"
)

// DefaultProjectTimeout bounds one jq projection.
const DefaultProjectTimeout = 1 * time.Second

// JQProjector projects a RawFetcher's JSON payload onto Statement via a
// jq expression, compiling and caching each distinct expression once.
// Safe for concurrent use.
type JQProjector struct {
	timeout time.Duration

	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewJQProjector builds a projector with the given per-call timeout; zero
// selects DefaultProjectTimeout.
func NewJQProjector(timeout time.Duration) *JQProjector {
	if timeout <= 0 {
		timeout = DefaultProjectTimeout
	}
	return &JQProjector{timeout: timeout, cache: make(map[string]*gojq.Code)}
}

// Project runs expr against raw and unmarshals the single resulting value
// onto a Statement. An empty expr is the identity projection: raw is
// unmarshaled onto Statement directly.
func (p *JQProjector) Project(ctx context.Context, expr string, raw json.RawMessage) (Statement, error) {
	if expr == "" {
		var stmt Statement
		if err := json.Unmarshal(raw, &stmt); err != nil {
			return Statement{}, fmt.Errorf("capability: unmarshaling raw statement: %w", err)
		}
		return stmt, nil
	}

	code, err := p.compile(expr)
	if err != nil {
		return Statement{}, fmt.Errorf("capability: compiling statement projection %q: %w", expr, err)
	}

	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return Statement{}, fmt.Errorf("capability: unmarshaling raw payload: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	iter := code.RunWithContext(execCtx, input)
	v, ok := iter.Next()
	if !ok {
		return Statement{}, fmt.Errorf("capability: projection %q produced no result", expr)
	}
	if err, isErr := v.(error); isErr {
		return Statement{}, fmt.Errorf("capability: evaluating projection %q: %w", expr, err)
	}

	projected, err := json.Marshal(v)
	if err != nil {
		return Statement{}, fmt.Errorf("capability: marshaling projected value: %w", err)
	}
	var stmt Statement
	if err := json.Unmarshal(projected, &stmt); err != nil {
		return Statement{}, fmt.Errorf("capability: mapping projected value onto statement: %w", err)
	}
	return stmt, nil
}

func (p *JQProjector) compile(expr string) (*gojq.Code, error) {
	p.mu.RLock()
	code, ok := p.cache[expr]
	p.mu.RUnlock()
	if ok {
		return code, nil
	}

	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	code, err = gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compile error: %w", err)
	}

	p.mu.Lock()
	p.cache[expr] = code
	p.mu.Unlock()
	return code, nil
}
