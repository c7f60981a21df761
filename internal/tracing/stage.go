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

	"github.com/Inkotake/ojo-agent/pkg/observability"
)

// noopProvider is the TracerProvider used when tracing is disabled in
// config; every call is a no-op so pipeline.Runner never has to check
// whether a Tracer is present.
type noopProvider struct{}

// NewNoopProvider returns a TracerProvider that records nothing.
func NewNoopProvider() observability.TracerProvider { return noopProvider{} }

func (noopProvider) Tracer(string) observability.Tracer   { return noopTracer{} }
func (noopProvider) Shutdown(context.Context) error       { return nil }
func (noopProvider) ForceFlush(context.Context) error     { return nil }

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string, _ ...observability.SpanOption) (context.Context, observability.SpanHandle) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(...observability.SpanEndOption)              {}
func (noopSpan) SetStatus(observability.StatusCode, string)      {}
func (noopSpan) SetAttributes(map[string]any)                    {}
func (noopSpan) AddEvent(string, map[string]any)                 {}
func (noopSpan) SpanContext() observability.TraceContext         { return observability.TraceContext{} }
func (noopSpan) RecordError(error)                                {}

// NewProvider builds the configured TracerProvider, or a no-op one when
// cfg.Enabled is false. ojoctl and a daemon entry point both call this
// the same way: one provider per process, shut down on exit.
func NewProvider(ctx context.Context, cfg Config) (observability.TracerProvider, error) {
	if !cfg.Enabled {
		return NewNoopProvider(), nil
	}
	return NewOTelProviderWithConfig(ctx, cfg)
}

// StageSpanAttributes builds the standard attribute set every stage
// executor span carries: enough to find a Problem's full run in a trace
// backend from its Task Service record.
func StageSpanAttributes(taskID, problemID, stage string, attempt int) map[string]any {
	return map[string]any{
		"ojo.task_id":    taskID,
		"ojo.problem_id": problemID,
		"ojo.stage":      stage,
		"ojo.attempt":    attempt,
	}
}
