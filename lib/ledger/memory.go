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

package ledger

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/attestra/attestra/api/types"
)

// ModeMemory is the in-memory ledger mode. Anchors do not survive a
// restart, which is acceptable for development and test deployments
// only.
const ModeMemory = "memory"

// MemoryStore is the in-memory ledger. Same contract as Store, no
// persistence.
type MemoryStore struct {
	clock clockwork.Clock

	mu        sync.RWMutex
	records   map[string]*types.LedgerRecord
	nextBlock uint64
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock:     clock,
		records:   make(map[string]*types.LedgerRecord),
		nextBlock: 1,
	}
}

// CreateAnchor records commitment. Idempotent on duplicates.
func (s *MemoryStore) CreateAnchor(commitment string, metadata map[string]string) (string, uint64, error) {
	if commitment == "" {
		return "", 0, trace.BadParameter("missing commitment")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[commitment]; ok {
		return existing.TxID, existing.BlockNumber, nil
	}
	rec := &types.LedgerRecord{
		Commitment:  commitment,
		DocType:     types.LedgerDocTypeAnchor,
		TxID:        uuid.NewString(),
		BlockNumber: s.nextBlock,
		Timestamp:   s.clock.Now().UTC(),
	}
	if len(metadata) > 0 {
		rec.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			rec.Metadata[k] = v
		}
	}
	s.records[commitment] = rec
	s.nextBlock++
	return rec.TxID, rec.BlockNumber, nil
}

// GetAnchor returns a copy of the anchor record for commitment.
func (s *MemoryStore) GetAnchor(commitment string) (*types.LedgerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[commitment]
	if !ok || rec.DocType != types.LedgerDocTypeAnchor {
		return nil, trace.NotFound("anchor %q not found", commitment)
	}
	return rec.Clone(), nil
}

// VerifyAnchor reports whether commitment is anchored.
func (s *MemoryStore) VerifyAnchor(commitment string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[commitment]
	return ok && rec.DocType == types.LedgerDocTypeAnchor
}

// Stats returns a point-in-time summary.
func (s *MemoryStore) Stats() types.LedgerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := types.LedgerStats{
		NextBlock: s.nextBlock,
		Mode:      ModeMemory,
	}
	for _, rec := range s.records {
		if rec.DocType == types.LedgerDocTypeAnchor {
			stats.Anchors++
		}
	}
	return stats
}
