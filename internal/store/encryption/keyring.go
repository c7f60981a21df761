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

package encryption

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// keyringAccount is the single keychain entry this backend reads and
// writes, mirroring internal/secrets.KeychainProvider's one-service
// convention.
const keyringAccount = "store-encryption-key"

// NewKeyring builds an Encryptor whose 32-byte key lives in the local
// system keychain under service, generating and storing one on first
// use. This is the local-dev backend: a developer running the engine on
// a laptop gets at-rest encryption without provisioning AWS, grounded on
// internal/secrets/keychain_provider.go's use of the same library.
func NewKeyring(service string) (Encryptor, error) {
	encoded, err := keyring.Get(service, keyringAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		key := make([]byte, 32)
		if _, randErr := rand.Read(key); randErr != nil {
			return nil, fmt.Errorf("encryption: generating keychain key: %w", randErr)
		}
		encoded = base64.StdEncoding.EncodeToString(key)
		if setErr := keyring.Set(service, keyringAccount, encoded); setErr != nil {
			return nil, fmt.Errorf("encryption: storing key in keychain: %w", setErr)
		}
	} else if err != nil {
		return nil, fmt.Errorf("encryption: reading key from keychain: %w", err)
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("encryption: decoding keychain key: %w", err)
	}
	return newAESGCM(key)
}
