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

// Package llmpool implements the LLM Client Pool: typed endpoints
// (generation, solution, ocr, summary) backed by named providers, with
// provider-bounded parallelism and per-request timeouts shared across
// endpoints that resolve to the same provider.
package llmpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Inkotake/ojo-agent/internal/config"
	"github.com/Inkotake/ojo-agent/internal/gate"
	ojolog "github.com/Inkotake/ojo-agent/internal/log"
	"github.com/Inkotake/ojo-agent/internal/secrets"
	"github.com/Inkotake/ojo-agent/pkg/llm"
	"github.com/Inkotake/ojo-agent/pkg/llm/cost"
	"github.com/Inkotake/ojo-agent/pkg/llm/pricing"
	pkgsecrets "github.com/Inkotake/ojo-agent/pkg/secrets"

	"github.com/google/uuid"
)

// Endpoint is one of the four typed LLM call sites the engine makes.
type Endpoint string

const (
	EndpointGeneration Endpoint = "generation"
	EndpointSolution   Endpoint = "solution"
	EndpointOCR        Endpoint = "ocr"
	EndpointSummary    Endpoint = "summary"
)

// CallOptions customizes one Call.
type CallOptions struct {
	Model       string
	Temperature *float64
	MaxTokens   *int
	Timeout     time.Duration // zero uses the pool's default

	// TaskID, ProblemID and Stage attribute the resulting cost record to
	// the task/problem/stage that issued the call. Empty values are
	// recorded as-is; cost tracking degrades gracefully for callers (e.g.
	// Pool.Test) that don't have this context.
	TaskID    string
	ProblemID string
	Stage     string
}

// CallResult is what Call returns on success.
type CallResult struct {
	Text    string
	Tokens  int
	Latency time.Duration
}

// TestResult is what Test returns.
type TestResult struct {
	OK      bool
	Message string
}

// Pool resolves typed endpoints to providers and bounds their
// concurrency via internal/gate. Providers are activated lazily: a
// provider backing only the ocr endpoint is never constructed, and so
// never needs credentials, until the first actual OCR call — fixing the
// eager-OCR-construction defect spec.md §9 documents.
type Pool struct {
	registry *llm.Registry
	gates    *gate.Controller
	secrets  secrets.SecretProviderRegistry
	specs    map[string]config.ProviderSpec // provider name -> spec
	byEndpoint map[Endpoint]string          // endpoint -> provider name
	defaultTimeout time.Duration
	retryCfg llm.RetryConfig

	// Logger receives trace-level prompt/response bodies when enabled via
	// internal/log.LevelTrace; nil uses slog.Default().
	Logger *slog.Logger
	masker *pkgsecrets.Masker

	// pricingMgr resolves a provider/model to published per-token rates;
	// costTracker and costStore record what each completed Call actually
	// cost against those rates. costStore is nil-safe: a Pool constructed
	// via New keeps one in-memory store per process, but a nil costStore
	// just skips persistence (cost is still folded into costTracker).
	pricingMgr  *pricing.PricingManager
	costTracker *llm.CostTracker
	costStore   cost.CostStore

	mu        sync.Mutex
	activated map[string]bool
}

// CostTracker exposes the pool's in-memory cost tracker, for callers
// (ojoctl commands, tests) that want per-run aggregates without going
// through the cost store.
func (p *Pool) CostTracker() *llm.CostTracker {
	return p.costTracker
}

// CostStore exposes the pool's cost store, nil if none was configured.
func (p *Pool) CostStore() cost.CostStore {
	return p.costStore
}

// SetCostStore replaces the pool's cost store. Passing nil disables
// persistence; in-memory tracking via CostTracker is unaffected.
func (p *Pool) SetCostStore(store cost.CostStore) {
	p.costStore = store
}

func (p *Pool) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// New builds a Pool. specs is the configured provider table; the first
// spec declaring a given endpoint's capability wins that endpoint,
// mirroring the Capability Registry's deterministic first-match
// resolution.
func New(specs []config.ProviderSpec, secretRegistry secrets.SecretProviderRegistry, gates *gate.Controller, defaultTimeout time.Duration) *Pool {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}

	byName := make(map[string]config.ProviderSpec, len(specs))
	byEndpoint := make(map[Endpoint]string)
	for _, spec := range specs {
		byName[spec.Name] = spec
		for _, ep := range []Endpoint{EndpointGeneration, EndpointSolution, EndpointOCR, EndpointSummary} {
			if _, taken := byEndpoint[ep]; taken {
				continue
			}
			if spec.HasCapability(string(ep)) {
				byEndpoint[ep] = spec.Name
			}
		}
	}

	return &Pool{
		registry:       llm.NewRegistry(),
		gates:          gates,
		secrets:        secretRegistry,
		specs:          byName,
		byEndpoint:     byEndpoint,
		defaultTimeout: defaultTimeout,
		retryCfg:       llm.DefaultRetryConfig(),
		masker:         pkgsecrets.NewMasker(),
		activated:      make(map[string]bool),
		pricingMgr:     pricing.NewPricingManager(),
		costTracker:    llm.NewCostTracker(),
		costStore:      cost.NewMemoryStore(),
	}
}

// RegisterFactory exposes factory registration against this pool's own
// registry, so callers don't have to reach through to the package-level
// global registry (tests in particular want an isolated registry).
func (p *Pool) RegisterFactory(name string, f llm.ProviderFactory) {
	p.registry.RegisterFactory(name, f)
}

// providerFor resolves which provider name backs an endpoint.
func (p *Pool) providerFor(endpoint Endpoint) (string, error) {
	name, ok := p.byEndpoint[endpoint]
	if !ok {
		return "", fmt.Errorf("llmpool: no provider configured for endpoint %q", endpoint)
	}
	return name, nil
}

// ensureActivated lazily resolves credentials and activates a provider's
// factory, if not already active. This is the only place credentials are
// read, and only for a provider some endpoint actually needs.
func (p *Pool) ensureActivated(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.activated[name] {
		return nil
	}

	spec, ok := p.specs[name]
	if !ok {
		return fmt.Errorf("llmpool: no provider spec named %q", name)
	}

	var apiKey string
	if spec.CredentialRef != "" {
		key, err := p.secrets.Resolve(ctx, spec.CredentialRef)
		if err != nil {
			return fmt.Errorf("llmpool: resolving credentials for %q: %w", name, err)
		}
		apiKey = key
		p.masker.AddSecret(key)
	}

	creds := llm.APIKeyCredentials{APIKey: apiKey, BaseURL: spec.APIURL}
	if err := p.registry.Activate(name, creds); err != nil {
		return fmt.Errorf("llmpool: activating %q: %w", name, err)
	}
	p.activated[name] = true
	return nil
}

// Call invokes an endpoint with prompt, bounding concurrency via the
// llm.total and llm.<provider> gates and applying a per-request timeout.
func (p *Pool) Call(ctx context.Context, endpoint Endpoint, prompt string, opts CallOptions) (CallResult, error) {
	providerName, err := p.providerFor(endpoint)
	if err != nil {
		return CallResult{}, err
	}

	if err := p.ensureActivated(ctx, providerName); err != nil {
		return CallResult{}, err
	}

	release, err := p.gates.AcquireOrdered(ctx, gate.LLMTotal, gate.LLMProviderGate(providerName))
	if err != nil {
		return CallResult{}, fmt.Errorf("llmpool: acquiring gate: %w", err)
	}
	defer release()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	provider, err := p.registry.Get(providerName)
	if err != nil {
		return CallResult{}, fmt.Errorf("llmpool: provider %q not active: %w", providerName, err)
	}
	retrying := llm.NewRetryableProvider(provider, p.retryCfg)

	spec := p.specs[providerName]
	model := opts.Model
	if model == "" {
		model = spec.DefaultModel
	}

	p.logger().Log(ctx, ojolog.LevelTrace, "llm request", "endpoint", endpoint, "provider", providerName, "prompt", p.masker.Mask(prompt))

	start := time.Now()
	resp, err := retrying.Complete(cctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.MessageRoleUser, Content: prompt}},
		Model:       model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	latency := time.Since(start)
	if err != nil {
		return CallResult{}, fmt.Errorf("llmpool: calling %s via %q: %w", endpoint, providerName, err)
	}

	p.logger().Log(ctx, ojolog.LevelTrace, "llm response", "endpoint", endpoint, "provider", providerName, "response", p.masker.Mask(resp.Content), "latency_ms", latency.Milliseconds())

	p.recordCost(ctx, endpoint, providerName, model, opts, resp.Usage, latency)

	return CallResult{Text: resp.Content, Tokens: resp.Usage.TotalTokens, Latency: latency}, nil
}

// recordCost prices a completed Call against the pool's pricing table and
// folds the result into the in-memory tracker and, if configured, the
// durable cost store. Pricing/store failures never fail the Call itself:
// cost accounting is observability, not a correctness dependency of the
// Fetch/Generate/Upload/Solve pipeline.
func (p *Pool) recordCost(ctx context.Context, endpoint Endpoint, providerName, model string, opts CallOptions, usage llm.TokenUsage, latency time.Duration) {
	priced := pricing.CalculateCost(p.pricingMgr.GetPricing(providerName, model), pricing.TokenUsage{
		PromptTokens:        usage.PromptTokens,
		CompletionTokens:    usage.CompletionTokens,
		TotalTokens:         usage.TotalTokens,
		CacheCreationTokens: usage.CacheCreationTokens,
		CacheReadTokens:     usage.CacheReadTokens,
	})

	record := llm.CostRecord{
		RequestID: uuid.New().String(),
		TaskID:    opts.TaskID,
		ProblemID: opts.ProblemID,
		Stage:     opts.Stage,
		Endpoint:  string(endpoint),
		Provider:  providerName,
		Model:     model,
		Timestamp: time.Now(),
		Duration:  latency,
		Usage:     usage,
		Cost: &llm.CostInfo{
			Amount:   priced.Amount,
			Currency: priced.Currency,
			Accuracy: llm.CostAccuracy(priced.Accuracy),
			Source:   priced.Source,
		},
	}

	p.costTracker.Track(record)

	if p.costStore == nil {
		return
	}
	if err := p.costStore.Store(ctx, record); err != nil {
		p.logger().Log(ctx, slog.LevelWarn, "llmpool: storing cost record", "endpoint", endpoint, "provider", providerName, "error", err)
	}
}

// Test checks a provider's reachability. full=false only checks that the
// provider's credential reference resolves (skipped when it has none);
// the resolved key's format is not examined. full=true additionally
// sends a minimal real prompt.
func (p *Pool) Test(ctx context.Context, providerName string, full bool) (TestResult, error) {
	spec, ok := p.specs[providerName]
	if !ok {
		return TestResult{}, fmt.Errorf("llmpool: no provider spec named %q", providerName)
	}

	if spec.CredentialRef != "" {
		if _, err := p.secrets.Resolve(ctx, spec.CredentialRef); err != nil {
			return TestResult{OK: false, Message: err.Error()}, nil
		}
	}
	if !full {
		return TestResult{OK: true, Message: "credentials resolve"}, nil
	}

	if err := p.ensureActivated(ctx, providerName); err != nil {
		return TestResult{OK: false, Message: err.Error()}, nil
	}
	provider, err := p.registry.Get(providerName)
	if err != nil {
		return TestResult{OK: false, Message: err.Error()}, nil
	}
	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "ping"}},
		Model:    spec.DefaultModel,
	})
	if err != nil {
		return TestResult{OK: false, Message: err.Error()}, nil
	}
	return TestResult{OK: true, Message: fmt.Sprintf("received %d tokens", resp.Usage.TotalTokens)}, nil
}
