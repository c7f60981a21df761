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

package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestNewSampler_Disabled(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: false})
	assert.IsType(t, sdktrace.AlwaysSample(), s)
}

func TestNewSampler_ZeroRateWithoutErrors(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, Rate: 0})
	assert.IsType(t, sdktrace.NeverSample(), s)
}

func TestNewSampler_ZeroRateAlwaysSampleErrors(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, Rate: 0, AlwaysSampleErrors: true})
	_, ok := s.(*errorAwareSampler)
	assert.True(t, ok)
}

func TestErrorAwareSampler_SamplesOnErrorStatus(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, Rate: 0, AlwaysSampleErrors: true})

	params := sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{1, 2, 3},
		Attributes:    []attribute.KeyValue{toAttribute("ojo.status", "error")},
	}
	result := s.ShouldSample(params)
	assert.Equal(t, sdktrace.RecordAndSample, result.Decision)
}

func TestErrorAwareSampler_DefersOtherwise(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, Rate: 0, AlwaysSampleErrors: true})

	params := sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{1, 2, 3},
	}
	result := s.ShouldSample(params)
	assert.Equal(t, sdktrace.Drop, result.Decision)
}

func TestNewDeterministicSampler_Boundaries(t *testing.T) {
	assert.IsType(t, sdktrace.AlwaysSample(), NewDeterministicSampler(1.0))
	assert.IsType(t, sdktrace.NeverSample(), NewDeterministicSampler(0.0))
}

func TestDeterministicSampler_Consistent(t *testing.T) {
	s := NewDeterministicSampler(0.5)
	params := sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
	}
	first := s.ShouldSample(params)
	second := s.ShouldSample(params)
	assert.Equal(t, first.Decision, second.Decision)
}

func TestNewRandomSampler_Boundaries(t *testing.T) {
	assert.IsType(t, sdktrace.AlwaysSample(), NewRandomSampler(1.0))
	assert.IsType(t, sdktrace.NeverSample(), NewRandomSampler(0.0))
}
