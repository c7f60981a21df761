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

// Package encryption implements the Encryptor used to protect
// AdapterConfig secrets (upload/judge credentials) at rest in the
// Persistence Adapter. Three backends share one AES-256-GCM cipher and
// differ only in where the 32-byte key comes from: a key given directly
// (local/test default), the system keychain, or an AWS-authenticated
// key derivation. Ciphertext is self-describing (nonce prefix), so a
// store can be reopened with a different Encryptor instance of the same
// backend without a separate nonce store.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// Encryptor seals and opens AdapterConfig secret values.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// aesGCM is the shared cipher every backend in this package returns,
// keyed differently per backend.
type aesGCM struct {
	gcm cipher.AEAD
}

func newAESGCM(key []byte) (*aesGCM, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("encryption: building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("encryption: building GCM: %w", err)
	}
	return &aesGCM{gcm: gcm}, nil
}

// Encrypt seals plaintext, prefixing the result with a fresh random
// nonce so Decrypt needs no separate nonce storage.
func (a *aesGCM) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, a.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("encryption: generating nonce: %w", err)
	}
	return a.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a value produced by Encrypt.
func (a *aesGCM) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := a.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("encryption: ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := a.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("encryption: opening ciphertext: %w", err)
	}
	return plaintext, nil
}

// NewLocal builds the default Encryptor from a caller-supplied 32-byte
// key, the path used in tests.
func NewLocal(key []byte) (Encryptor, error) {
	return newAESGCM(key)
}
