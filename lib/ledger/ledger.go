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

// Package ledger implements the append-only anchor ledger: a durable,
// idempotent map of commitment to record with strictly monotonic block
// numbers. The file mode persists a full snapshot atomically on every
// write; an external mode can be plugged in behind the same interface.
package ledger

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/attestra/attestra/api/types"
)

// ModeFile is the file-backed ledger mode.
const ModeFile = "file"

// Config holds the ledger store configuration.
type Config struct {
	// Path is the canonical snapshot file location. Writes go to a
	// sibling temp file first and are renamed over Path.
	Path string
	// Clock is used for record timestamps.
	Clock clockwork.Clock
	// Logger is the ledger logger.
	Logger *slog.Logger
}

func (c *Config) checkAndSetDefaults() error {
	if c.Path == "" {
		return trace.BadParameter("missing ledger file path")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// snapshot is the on-disk document: a single JSON object holding every
// record plus the next block number.
type snapshot struct {
	Records   map[string]*types.LedgerRecord `json:"records"`
	NextBlock uint64                         `json:"nextBlock"`
}

// Store is the file-backed ledger. The write lock covers block
// assignment, state mutation and persistence as one critical section;
// reads take the shared lock and return copies.
type Store struct {
	cfg Config

	mu    sync.RWMutex
	state snapshot
}

// NewStore opens (or initializes) a ledger at cfg.Path. A missing or
// empty file starts an empty ledger; a present but unparseable file is
// an error, never a silent reset.
func NewStore(cfg Config) (*Store, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	s := &Store{
		cfg: cfg,
		state: snapshot{
			Records:   make(map[string]*types.LedgerRecord),
			NextBlock: 1,
		},
	}
	if err := s.load(); err != nil {
		return nil, trace.Wrap(err)
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.cfg.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	if len(data) == 0 {
		return nil
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return trace.WrapWithMessage(err, "ledger file %v is corrupt, refusing to reset it", s.cfg.Path)
	}
	if snap.Records == nil {
		snap.Records = make(map[string]*types.LedgerRecord)
	}
	if snap.NextBlock == 0 {
		snap.NextBlock = 1
	}
	s.state = snap
	s.cfg.Logger.Info("Loaded ledger snapshot.",
		"records", len(snap.Records), "next_block", snap.NextBlock)
	return nil
}

// persist serializes the full state and atomically replaces the snapshot
// file. Callers must hold the write lock.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return trace.Wrap(err)
	}
	if err := renameio.WriteFile(s.cfg.Path, data, 0o600); err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}

// CreateAnchor records commitment in the ledger. Creating an existing
// commitment is idempotent: the original txId and blockNumber are
// returned and nothing is mutated, including metadata.
func (s *Store) CreateAnchor(commitment string, metadata map[string]string) (txID string, blockNumber uint64, err error) {
	if commitment == "" {
		return "", 0, trace.BadParameter("missing commitment")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.state.Records[commitment]; ok {
		return existing.TxID, existing.BlockNumber, nil
	}

	rec := &types.LedgerRecord{
		Commitment:  commitment,
		DocType:     types.LedgerDocTypeAnchor,
		TxID:        uuid.NewString(),
		BlockNumber: s.state.NextBlock,
		Timestamp:   s.cfg.Clock.Now().UTC(),
	}
	if len(metadata) > 0 {
		rec.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			rec.Metadata[k] = v
		}
	}
	s.state.Records[commitment] = rec
	s.state.NextBlock++

	if err := s.persist(); err != nil {
		// Roll back so a failed write leaves no unanchored state behind.
		delete(s.state.Records, commitment)
		s.state.NextBlock--
		return "", 0, trace.Wrap(err)
	}
	return rec.TxID, rec.BlockNumber, nil
}

// GetAnchor returns a copy of the anchor record for commitment.
func (s *Store) GetAnchor(commitment string) (*types.LedgerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.state.Records[commitment]
	if !ok || rec.DocType != types.LedgerDocTypeAnchor {
		return nil, trace.NotFound("anchor %q not found", commitment)
	}
	return rec.Clone(), nil
}

// VerifyAnchor reports whether commitment is anchored.
func (s *Store) VerifyAnchor(commitment string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.state.Records[commitment]
	return ok && rec.DocType == types.LedgerDocTypeAnchor
}

// CreateDid stores a DID document. Unlike anchors, duplicate DIDs are an
// error rather than an idempotent success.
func (s *Store) CreateDid(did string, doc map[string]any) (*types.LedgerRecord, error) {
	if did == "" {
		return nil, trace.BadParameter("missing did")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.Records[did]; ok {
		return nil, trace.AlreadyExists("did %q already registered", did)
	}
	rec := &types.LedgerRecord{
		Commitment:  did,
		DocType:     types.LedgerDocTypeDID,
		TxID:        uuid.NewString(),
		BlockNumber: s.state.NextBlock,
		Timestamp:   s.cfg.Clock.Now().UTC(),
		DIDDocument: doc,
	}
	s.state.Records[did] = rec
	s.state.NextBlock++

	if err := s.persist(); err != nil {
		delete(s.state.Records, did)
		s.state.NextBlock--
		return nil, trace.Wrap(err)
	}
	return rec.Clone(), nil
}

// GetDid returns a copy of the DID record.
func (s *Store) GetDid(did string) (*types.LedgerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.state.Records[did]
	if !ok || rec.DocType != types.LedgerDocTypeDID {
		return nil, trace.NotFound("did %q not found", did)
	}
	return rec.Clone(), nil
}

// Stats returns a point-in-time summary.
func (s *Store) Stats() types.LedgerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := types.LedgerStats{
		NextBlock: s.state.NextBlock,
		Mode:      ModeFile,
	}
	for _, rec := range s.state.Records {
		switch rec.DocType {
		case types.LedgerDocTypeAnchor:
			stats.Anchors++
		case types.LedgerDocTypeDID:
			stats.DIDs++
		}
	}
	return stats
}
