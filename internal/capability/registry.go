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
	"fmt"
	"sort"
	"sync"

	ojoerrors "github.com/Inkotake/ojo-agent/pkg/ojoerrors"
)

// Factory builds an Adapter instance. Factories receive no per-user
// credentials: adapters hold only protocol state (an HTTP client, a base
// URL); user credentials are re-read from the Persistence Adapter on
// every call so that concurrent calls for different users never share
// cached tenant state.
type Factory func() (Adapter, error)

// Registry resolves adapters by name or by capability. Two-phase like
// pkg/llm's provider registry: factories register at import time,
// adapters are activated once at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	adapters  map[string]Adapter
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		adapters:  make(map[string]Adapter),
	}
}

// RegisterFactory registers a named adapter factory. Registering the
// same name twice overwrites the previous factory.
func (r *Registry) RegisterFactory(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Activate instantiates the named adapter from its factory, if not
// already active. A no-op if already activated.
func (r *Registry) Activate(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adapters[name]; ok {
		return nil
	}
	factory, ok := r.factories[name]
	if !ok {
		return fmt.Errorf("capability: no factory registered for adapter %q", name)
	}
	a, err := factory()
	if err != nil {
		return fmt.Errorf("capability: activating adapter %q: %w", name, err)
	}
	return r.register(a)
}

// Register adds an already-constructed adapter directly, bypassing the
// factory phase. Used by tests and by adapters with no activation-time
// configuration.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.register(a)
}

func (r *Registry) register(a Adapter) error {
	if a == nil || a.Name() == "" {
		return fmt.Errorf("capability: adapter must have a non-empty name")
	}
	if err := verifyCapabilities(a); err != nil {
		return err
	}
	r.adapters[a.Name()] = a
	return nil
}

// verifyCapabilities fails fast if an adapter declares a capability it
// does not actually implement.
func verifyCapabilities(a Adapter) error {
	for _, cap := range a.Capabilities() {
		ok := false
		switch cap {
		case CapFetch:
			_, ok = a.(Fetcher)
		case CapUpload:
			_, ok = a.(Uploader)
		case CapSubmit:
			_, ok = a.(Submitter)
		case CapJudgeStatus:
			_, ok = a.(JudgeStatusChecker)
		case CapListTraining:
			_, ok = a.(TrainingLister)
		case CapProvideSolution:
			_, ok = a.(SolutionProvider)
		case CapBatchFetch:
			// batch-fetch has no distinct interface; it is an optimization
			// over repeated FetchProblem calls, so it still requires Fetcher.
			_, ok = a.(Fetcher)
		default:
			return fmt.Errorf("capability: adapter %q declares unknown capability %q", a.Name(), cap)
		}
		if !ok {
			return fmt.Errorf("capability: adapter %q declares %q but does not implement it", a.Name(), cap)
		}
	}
	return nil
}

// Get resolves an adapter by exact name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, &ojoerrors.NotFoundError{Resource: "adapter", ID: name}
	}
	return a, nil
}

// ByCapability returns every activated adapter declaring cap, in
// deterministic (name-sorted) order.
func (r *Registry) ByCapability(cap Capability) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Adapter, 0, len(names))
	for _, name := range names {
		a := r.adapters[name]
		if HasCapability(a, cap) {
			out = append(out, a)
		}
	}
	return out
}

// FirstWithCapability returns the first adapter (by sorted name) that
// declares cap. The registry resolves by capability using this
// deterministic order, per spec.
func (r *Registry) FirstWithCapability(cap Capability) (Adapter, bool) {
	matches := r.ByCapability(cap)
	if len(matches) == 0 {
		return nil, false
	}
	return matches[0], true
}

// Names returns every activated adapter name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
