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

package llmpool_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Inkotake/ojo-agent/internal/config"
	"github.com/Inkotake/ojo-agent/internal/gate"
	"github.com/Inkotake/ojo-agent/internal/llmpool"
	"github.com/Inkotake/ojo-agent/internal/secrets"
	"github.com/Inkotake/ojo-agent/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecrets struct {
	values map[string]string
}

func (f *fakeSecrets) Register(p secrets.SecretProvider) error { return nil }
func (f *fakeSecrets) GetProvider(scheme string) secrets.SecretProvider { return nil }
func (f *fakeSecrets) Resolve(ctx context.Context, reference string) (string, error) {
	v, ok := f.values[reference]
	if !ok {
		return "", fmt.Errorf("no value for %q", reference)
	}
	return v, nil
}

type fakeProvider struct {
	name        string
	activations int
	calls       int
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Capabilities() llm.Capabilities { return llm.Capabilities{} }
func (f *fakeProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls++
	return &llm.CompletionResponse{Content: "ok: " + req.Messages[0].Content, Usage: llm.TokenUsage{TotalTokens: 7}}, nil
}
func (f *fakeProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, fmt.Errorf("not supported")
}

func newTestPool(t *testing.T) (*llmpool.Pool, *fakeProvider) {
	t.Helper()
	specs := []config.ProviderSpec{{
		Name:            "anthropic",
		Capabilities:    []string{"generation", "solution"},
		DefaultModel:    "claude-test",
		CredentialField: "api_key",
		CredentialRef:   "env:TEST_ANTHROPIC_KEY",
	}}
	fs := &fakeSecrets{values: map[string]string{"env:TEST_ANTHROPIC_KEY": "secret-value"}}
	gates := gate.New(map[string]int{gate.LLMTotal: 2})
	pool := llmpool.New(specs, fs, gates, time.Second)

	fp := &fakeProvider{name: "anthropic"}
	pool.RegisterFactory("anthropic", func(creds llm.Credentials) (llm.Provider, error) {
		return fp, nil
	})
	return pool, fp
}

func TestPool_CallResolvesEndpointAndActivatesLazily(t *testing.T) {
	pool, fp := newTestPool(t)
	ctx := context.Background()

	result, err := pool.Call(ctx, llmpool.EndpointGeneration, "write a generator", llmpool.CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok: write a generator", result.Text)
	assert.Equal(t, 7, result.Tokens)
	assert.Equal(t, 1, fp.calls)

	_, err = pool.Call(ctx, llmpool.EndpointSolution, "solve it", llmpool.CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, fp.calls, "the same provider backs both endpoints and is activated once")
}

func TestPool_Call_UnconfiguredEndpoint(t *testing.T) {
	pool, _ := newTestPool(t)
	_, err := pool.Call(context.Background(), llmpool.EndpointOCR, "ocr this", llmpool.CallOptions{})
	require.Error(t, err, "no spec declares the ocr capability in this test, so nothing activates for it")
}

func TestPool_Test_CredentialShapeOnly(t *testing.T) {
	pool, fp := newTestPool(t)
	res, err := pool.Test(context.Background(), "anthropic", false)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 0, fp.calls, "full=false must not invoke the provider")
}

func TestPool_Test_Full(t *testing.T) {
	pool, fp := newTestPool(t)
	res, err := pool.Test(context.Background(), "anthropic", true)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 1, fp.calls)
}

func TestPool_Call_RecordsCost(t *testing.T) {
	pool, _ := newTestPool(t)
	ctx := context.Background()

	_, err := pool.Call(ctx, llmpool.EndpointGeneration, "write a generator", llmpool.CallOptions{
		TaskID: "task-1", ProblemID: "problem-1", Stage: "generate",
	})
	require.NoError(t, err)

	records := pool.CostTracker().GetRecordsByTask("task-1")
	require.Len(t, records, 1)
	assert.Equal(t, "problem-1", records[0].ProblemID)
	assert.Equal(t, "generate", records[0].Stage)
	assert.Equal(t, "generation", records[0].Endpoint)
	assert.Equal(t, "anthropic", records[0].Provider)
	require.NotNil(t, records[0].Cost)

	stored, err := pool.CostStore().GetByTaskID(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, records[0].RequestID, stored[0].RequestID)
}
