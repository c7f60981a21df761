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
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// floorEvaluator evaluates Generate's partial-success-floor predicate,
// caching compiled programs by expression text.
type floorEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

var partialSuccessEval = &floorEvaluator{cache: make(map[string]*vm.Program)}

// meetsFloor reports whether k successes out of n requested cases satisfy
// the configured predicate. A compile or evaluation failure is treated as
// not meeting the floor; Generate still proceeds to fail with
// gen_insufficient rather than panicking on a malformed config value.
func (e *floorEvaluator) meetsFloor(predicate string, k, n int) (bool, error) {
	prog, err := e.compile(predicate)
	if err != nil {
		return false, fmt.Errorf("stage: compiling partial_success_floor %q: %w", predicate, err)
	}
	result, err := expr.Run(prog, map[string]any{"k": k, "n": n})
	if err != nil {
		return false, fmt.Errorf("stage: evaluating partial_success_floor %q: %w", predicate, err)
	}
	ok, isBool := result.(bool)
	if !isBool {
		return false, fmt.Errorf("stage: partial_success_floor %q must evaluate to bool, got %T", predicate, result)
	}
	return ok, nil
}

func (e *floorEvaluator) compile(predicate string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[predicate]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	prog, err := expr.Compile(predicate, expr.Env(map[string]any{"k": 0, "n": 0}), expr.AsBool())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[predicate] = prog
	e.mu.Unlock()
	return prog, nil
}
