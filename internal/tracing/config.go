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
	"time"
)

// Config holds observability configuration.
type Config struct {
	// Enabled controls whether tracing is active.
	Enabled bool `yaml:"enabled"`

	// ServiceName identifies this service in traces.
	ServiceName string `yaml:"service_name,omitempty"`

	// ServiceVersion is the application version.
	ServiceVersion string `yaml:"service_version,omitempty"`

	// Sampling configures trace sampling.
	Sampling SamplingConfig `yaml:"sampling"`

	// Exporters configures OTLP export destinations.
	Exporters []ExporterConfig `yaml:"exporters,omitempty"`

	// BatchSize is the maximum number of spans per export batch (default: 512).
	BatchSize int `yaml:"batch_size,omitempty"`

	// BatchInterval is how often to flush spans (default: 5s).
	BatchInterval time.Duration `yaml:"batch_interval,omitempty"`

	// Redaction configures sensitive data handling.
	Redaction RedactionConfig `yaml:"redaction"`
}

// SamplingConfig controls which traces are recorded.
type SamplingConfig struct {
	// Enabled activates sampling (default: false - sample all).
	Enabled bool `yaml:"enabled"`

	// Type is the sampling strategy: "head" or "tail".
	Type string `yaml:"type,omitempty"`

	// Rate is the fraction of traces to sample (0.0 - 1.0).
	// Rate of 1.0 means sample all traces.
	Rate float64 `yaml:"rate,omitempty"`

	// AlwaysSampleErrors samples all traces with errors.
	AlwaysSampleErrors bool `yaml:"always_sample_errors"`
}

// ExporterConfig defines an OTLP export destination.
type ExporterConfig struct {
	// Type is the exporter type: "otlp", "otlp-http", or "console".
	Type string `yaml:"type"`

	// Endpoint is the OTLP receiver URL.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Headers are additional HTTP headers for authentication.
	Headers map[string]string `yaml:"headers,omitempty"`

	// TLS configures secure connections.
	TLS TLSConfig `yaml:"tls"`

	// Timeout is the export timeout.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// TLSConfig configures TLS for exporters.
type TLSConfig struct {
	// Enabled activates TLS.
	Enabled bool `yaml:"enabled"`

	// VerifyCertificate controls certificate validation.
	VerifyCertificate bool `yaml:"verify_certificate"`

	// CACertPath is the path to the CA certificate.
	CACertPath string `yaml:"ca_cert_path,omitempty"`
}

// RedactionConfig controls sensitive data redaction.
type RedactionConfig struct {
	// Level is the redaction mode: "none", "standard", or "strict".
	Level string `yaml:"level,omitempty"`

	// Patterns are custom redaction patterns.
	Patterns []RedactionPattern `yaml:"patterns,omitempty"`
}

// RedactionPattern defines a sensitive data pattern.
type RedactionPattern struct {
	// Name identifies this pattern.
	Name string `yaml:"name"`

	// Regex is the pattern to match.
	Regex string `yaml:"regex"`

	// Replacement is the string to substitute.
	Replacement string `yaml:"replacement,omitempty"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:        false, // Opt-in
		ServiceName:    "ojo-agent",
		ServiceVersion: "unknown",
		Sampling: SamplingConfig{
			Enabled:            false,
			Type:               "head",
			Rate:               1.0, // Sample all by default
			AlwaysSampleErrors: true,
		},
		Exporters:     nil,             // No exporters by default
		BatchSize:     512,             // OTLP default batch size
		BatchInterval: 5 * time.Second, // OTLP default batch interval
		Redaction: RedactionConfig{
			Level:    "strict", // Strict by default for safety
			Patterns: nil,      // No custom patterns
		},
	}
}
