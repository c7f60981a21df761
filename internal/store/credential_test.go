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

package store_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Inkotake/ojo-agent/internal/store"
	"github.com/Inkotake/ojo-agent/internal/store/encryption"
)

func TestMemoryStore_CredentialRoundTrips(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, s.PutCredential(ctx, "codeforces", "alice", []byte("session-cookie")))

	got, err := s.GetCredential(ctx, "codeforces", "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("session-cookie"), got)
}

func TestMemoryStore_CredentialNotFound(t *testing.T) {
	s := store.NewMemory()
	_, err := s.GetCredential(context.Background(), "codeforces", "bob")
	assert.ErrorIs(t, err, store.ErrCredentialNotFound)
}

func TestSQLiteStore_CredentialIsEncryptedAtRest(t *testing.T) {
	enc, err := encryption.NewLocal(bytes.Repeat([]byte{0x11}, 32))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ojo-agent-creds.db")
	s, err := store.NewSQLite(store.SQLiteConfig{Path: path, Encryptor: enc})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.PutCredential(ctx, "codeforces", "alice", []byte("session-cookie")))

	got, err := s.GetCredential(ctx, "codeforces", "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("session-cookie"), got)
}

func TestSQLiteStore_CredentialWithoutEncryptorFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ojo-agent-no-enc.db")
	s, err := store.NewSQLite(store.SQLiteConfig{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	err = s.PutCredential(context.Background(), "codeforces", "alice", []byte("x"))
	assert.Error(t, err)
}

func TestSQLiteStore_CredentialNotFound(t *testing.T) {
	enc, err := encryption.NewLocal(bytes.Repeat([]byte{0x22}, 32))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "ojo-agent-creds-missing.db")
	s, err := store.NewSQLite(store.SQLiteConfig{Path: path, Encryptor: enc})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.GetCredential(context.Background(), "codeforces", "nobody")
	assert.ErrorIs(t, err, store.ErrCredentialNotFound)
}
