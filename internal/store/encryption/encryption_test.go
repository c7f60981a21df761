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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestLocal_EncryptDecryptRoundTrips(t *testing.T) {
	enc, err := NewLocal(testKey(t))
	require.NoError(t, err)

	plaintext := []byte("upload-adapter-api-key")
	ciphertext, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	got, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestLocal_EncryptionIsNonDeterministic(t *testing.T) {
	enc, err := NewLocal(testKey(t))
	require.NoError(t, err)

	a, err := enc.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)
	b, err := enc.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "distinct nonces must produce distinct ciphertexts")
}

func TestLocal_RejectsWrongKeySize(t *testing.T) {
	_, err := NewLocal([]byte("too-short"))
	assert.Error(t, err)
}

func TestLocal_DecryptRejectsTruncatedCiphertext(t *testing.T) {
	enc, err := NewLocal(testKey(t))
	require.NoError(t, err)

	_, err = enc.Decrypt([]byte("short"))
	assert.Error(t, err)
}

func TestLocal_DecryptRejectsWrongKey(t *testing.T) {
	enc, err := NewLocal(testKey(t))
	require.NoError(t, err)
	ciphertext, err := enc.Encrypt([]byte("secret"))
	require.NoError(t, err)

	other, err := NewLocal(bytes.Repeat([]byte{0x99}, 32))
	require.NoError(t, err)
	_, err = other.Decrypt(ciphertext)
	assert.Error(t, err)
}
