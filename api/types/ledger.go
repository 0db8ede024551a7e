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

package types

import "time"

// Ledger record document types.
const (
	LedgerDocTypeAnchor = "anchor"
	LedgerDocTypeDID    = "did"
)

// LedgerRecord is one entry in the append-only anchor ledger, keyed by
// commitment. Records are immutable once written.
type LedgerRecord struct {
	// Commitment is the unique record key (credential hash or DID).
	Commitment string `json:"commitment"`
	// DocType is "anchor" or "did".
	DocType string `json:"docType"`
	// TxID is the transaction identifier assigned at creation.
	TxID string `json:"txId"`
	// BlockNumber is the strictly monotonic block assigned under the
	// ledger write lock.
	BlockNumber uint64 `json:"blockNumber"`
	// Timestamp is the creation time, UTC.
	Timestamp time.Time `json:"timestamp"`
	// Metadata carries optional annotations, no PII.
	Metadata map[string]string `json:"metadata,omitempty"`
	// DIDDocument is set for docType "did" only.
	DIDDocument map[string]any `json:"didDocument,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *LedgerRecord) Clone() *LedgerRecord {
	out := *r
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	if r.DIDDocument != nil {
		out.DIDDocument = make(map[string]any, len(r.DIDDocument))
		for k, v := range r.DIDDocument {
			out.DIDDocument[k] = v
		}
	}
	return &out
}

// LedgerStats is a point-in-time summary of the ledger.
type LedgerStats struct {
	Anchors   int    `json:"anchors"`
	DIDs      int    `json:"dids"`
	NextBlock uint64 `json:"nextBlock"`
	Mode      string `json:"mode"`
}
