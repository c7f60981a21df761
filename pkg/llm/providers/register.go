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

// Package providers registers the built-in LLM provider factories.
//
// Import this package to register all provider factories with a
// registry:
//
//	import _ "github.com/Inkotake/ojo-agent/pkg/llm/providers"
//
// Registering a factory does not instantiate a provider; call
// Registry.Activate to do that once configuration names which providers
// are actually in use.
package providers

import (
	"github.com/Inkotake/ojo-agent/pkg/llm"
)

func init() {
	llm.RegisterFactory("anthropic", NewAnthropicWithCredentials)
}

// NewAnthropicWithCredentials adapts NewAnthropicProvider to the
// llm.ProviderFactory signature the registry's activation phase expects.
func NewAnthropicWithCredentials(creds llm.Credentials) (llm.Provider, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	apiKey, ok := creds.(llm.APIKeyCredentials)
	if !ok {
		return nil, &llm.CredentialTypeError{Provider: "anthropic", Want: "APIKeyCredentials"}
	}
	return NewAnthropicProvider(apiKey.APIKey)
}
