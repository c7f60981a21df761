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

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Inkotake/ojo-agent/pkg/security/audit"
)

// ErrCredentialNotFound is returned when no credential is stored for an
// adapter/user pair.
var ErrCredentialNotFound = fmt.Errorf("store: credential not found")

// CredentialStore holds per-user AdapterConfig secrets (upload/judge
// session credentials), encrypted at rest. It is separate from the main
// Store interface since MemoryStore and SQLiteStore back it differently:
// SQLiteStore seals every value through an encryption.Encryptor;
// MemoryStore, used only in tests, does not.
type CredentialStore interface {
	PutCredential(ctx context.Context, adapterName, userID string, value []byte) error
	GetCredential(ctx context.Context, adapterName, userID string) ([]byte, error)
}

func (s *SQLiteStore) PutCredential(ctx context.Context, adapterName, userID string, value []byte) error {
	if s.encryptor == nil {
		return fmt.Errorf("store: no encryptor configured for adapter credentials")
	}
	blob, err := s.encryptor.Encrypt(value)
	if err != nil {
		return fmt.Errorf("store: encrypting credential: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO adapter_credentials (adapter_name, owning_user_id, encrypted_blob, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (adapter_name, owning_user_id) DO UPDATE SET
			encrypted_blob = excluded.encrypted_blob, updated_at = excluded.updated_at
	`, adapterName, userID, blob, time.Now().Format(time.RFC3339Nano))
	s.logCredentialAccess("credential_put", adapterName, userID, err)
	if err != nil {
		return fmt.Errorf("store: storing credential: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCredential(ctx context.Context, adapterName, userID string) ([]byte, error) {
	if s.encryptor == nil {
		return nil, fmt.Errorf("store: no encryptor configured for adapter credentials")
	}
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT encrypted_blob FROM adapter_credentials WHERE adapter_name = ? AND owning_user_id = ?
	`, adapterName, userID).Scan(&blob)
	if err != nil {
		s.logCredentialAccess("credential_get", adapterName, userID, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("store: reading credential: %w", err)
	}
	plaintext, err := s.encryptor.Decrypt(blob)
	s.logCredentialAccess("credential_get", adapterName, userID, err)
	return plaintext, err
}

// logCredentialAccess emits one audit event per credential read/write, the
// decision reflecting whether the operation succeeded. A nil s.audit (the
// common case: audit logging is opt-in) makes this a no-op.
func (s *SQLiteStore) logCredentialAccess(eventType, adapterName, userID string, opErr error) {
	if s.audit == nil {
		return
	}
	decision := "allow"
	reason := ""
	if opErr != nil {
		decision = "deny"
		reason = opErr.Error()
	}
	s.audit.Log(audit.Event{
		Timestamp:    time.Now(),
		EventType:    eventType,
		Resource:     adapterName,
		ResourceType: "adapter_credential",
		Action:       eventType,
		Decision:     decision,
		Reason:       reason,
		UserID:       userID,
	})
}

// memoryCredentialKey identifies one adapter/user pair.
type memoryCredentialKey struct{ adapterName, userID string }

// credentialTable is MemoryStore's in-process table for CredentialStore,
// unencrypted since MemoryStore never leaves the process.
type credentialTable struct {
	mu   sync.RWMutex
	data map[memoryCredentialKey][]byte
}

func (s *MemoryStore) PutCredential(ctx context.Context, adapterName, userID string, value []byte) error {
	s.credOnce()
	s.creds.mu.Lock()
	defer s.creds.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.creds.data[memoryCredentialKey{adapterName, userID}] = cp
	return nil
}

func (s *MemoryStore) GetCredential(ctx context.Context, adapterName, userID string) ([]byte, error) {
	s.credOnce()
	s.creds.mu.RLock()
	defer s.creds.mu.RUnlock()
	value, ok := s.creds.data[memoryCredentialKey{adapterName, userID}]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, nil
}

func (s *MemoryStore) credOnce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		s.creds = &credentialTable{data: make(map[memoryCredentialKey][]byte)}
	}
}
