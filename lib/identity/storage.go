/*
 * Attestra
 * Copyright (C) 2025  Attestra, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package identity

import (
	"context"
	"sync"

	"github.com/gravitational/trace"

	"github.com/attestra/attestra/api/types"
)

// AttestationStore persists attestations keyed by (providerID,
// subjectID). The identity service is the only writer of core fields;
// the issuance service updates credential references through Update.
type AttestationStore interface {
	// Upsert inserts or merges an attestation. Merge semantics: the
	// verification fields (Verified, VerifiedAt, AssuranceLevel,
	// ExpiresAt) are replaced; AccountRef is preserved unless the new
	// record carries one; credential references are preserved.
	Upsert(ctx context.Context, a *types.Attestation) (*types.Attestation, error)
	// Get fetches by primary key.
	Get(ctx context.Context, providerID, subjectID string) (*types.Attestation, error)
	// GetByAccountRef fetches the attestation correlated to an account.
	GetByAccountRef(ctx context.Context, accountRef string) (*types.Attestation, error)
	// Update replaces an existing row.
	Update(ctx context.Context, a *types.Attestation) error
	// Delete removes an attestation. This is the subject erasure path.
	Delete(ctx context.Context, providerID, subjectID string) error
}

// MemoryStore is the in-process store used by tests and the standalone
// deployment mode.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]*types.Attestation
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*types.Attestation)}
}

func storeKey(providerID, subjectID string) string {
	return providerID + "/" + subjectID
}

// Upsert implements AttestationStore.
func (s *MemoryStore) Upsert(ctx context.Context, a *types.Attestation) (*types.Attestation, error) {
	if a.ProviderID == "" || a.SubjectID == "" {
		return nil, trace.BadParameter("attestation requires providerId and subjectId")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(a.ProviderID, a.SubjectID)
	existing, ok := s.rows[key]
	if !ok {
		clone := *a
		s.rows[key] = &clone
		out := clone
		return &out, nil
	}
	existing.Verified = a.Verified
	existing.VerifiedAt = a.VerifiedAt
	existing.AssuranceLevel = a.AssuranceLevel
	existing.ExpiresAt = a.ExpiresAt
	if a.AccountRef != "" {
		existing.AccountRef = a.AccountRef
	}
	out := *existing
	return &out, nil
}

// Get implements AttestationStore.
func (s *MemoryStore) Get(ctx context.Context, providerID, subjectID string) (*types.Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[storeKey(providerID, subjectID)]
	if !ok {
		return nil, trace.NotFound("attestation for %v/%v not found", providerID, subjectID)
	}
	out := *row
	return &out, nil
}

// GetByAccountRef implements AttestationStore.
func (s *MemoryStore) GetByAccountRef(ctx context.Context, accountRef string) (*types.Attestation, error) {
	if accountRef == "" {
		return nil, trace.BadParameter("missing account reference")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.rows {
		if row.AccountRef == accountRef {
			out := *row
			return &out, nil
		}
	}
	return nil, trace.NotFound("attestation for account %v not found", accountRef)
}

// Update implements AttestationStore.
func (s *MemoryStore) Update(ctx context.Context, a *types.Attestation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(a.ProviderID, a.SubjectID)
	if _, ok := s.rows[key]; !ok {
		return trace.NotFound("attestation for %v/%v not found", a.ProviderID, a.SubjectID)
	}
	clone := *a
	s.rows[key] = &clone
	return nil
}

// Delete implements AttestationStore.
func (s *MemoryStore) Delete(ctx context.Context, providerID, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(providerID, subjectID)
	if _, ok := s.rows[key]; !ok {
		return trace.NotFound("attestation for %v/%v not found", providerID, subjectID)
	}
	delete(s.rows, key)
	return nil
}
