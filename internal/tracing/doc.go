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

/*
Package tracing provides distributed tracing for the batch engine's stage
executors.

This package implements OpenTelemetry-based tracing for the Fetch/Generate/
Upload/Solve stage executors, plus correlation ID propagation so a single
Problem's run can be followed across log lines and spans. Stage-level
counters and histograms (duration, outcome, retries) are Prometheus
metrics recorded directly by internal/metrics; this package does not
duplicate them.

# Quick Start

Create an OTel provider:

	cfg := tracing.Config{
	    Enabled:        true,
	    ServiceName:    "ojo-agent",
	    ServiceVersion: "1.0.0",
	    Sampling: tracing.SamplingConfig{
	        Enabled: true,
	        Rate:    0.1, // 10% sampling
	    },
	}

	provider, err := tracing.NewOTelProviderWithConfig(ctx, cfg)

Get a tracer and create one span per stage attempt:

	tracer := provider.Tracer("pipeline")

	ctx, span := tracer.Start(ctx, "stage.fetch",
	    observability.WithAttributes(map[string]any{
	        "ojo.problem_id": p.ID,
	        "ojo.attempt":    attempt,
	    }),
	)
	defer span.End()

# Correlation IDs

Correlation IDs link a Problem's stage span tree and log lines:

	id := tracing.NewCorrelationID()
	ctx = tracing.ToContext(ctx, id)
	logger.With("correlation_id", tracing.FromContext(ctx).String())

# Configuration

	engine:
	  tracing:
	    enabled: true
	    service_name: ojo-agent
	    sampling:
	      type: head
	      rate: 0.1
	      always_sample_errors: true
	    exporters:
	      - type: otlp
	        endpoint: localhost:4317
	    redaction:
	      level: standard

# Key Components

  - OTelProvider: OpenTelemetry SDK wrapper (tracing only)
  - CorrelationID: per-Problem correlation across spans and logs
  - Sampler: configurable trace sampling, errors always sampled when always_sample_errors is set
  - Exporter: trace export to backends (OTLP, OTLP/HTTP, console)

# Subpackages

  - export: concrete span exporters (console, OTLP gRPC/HTTP, TLS config)
  - redact: pattern-based redaction of sensitive span attribute values
*/
package tracing
