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
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/attestra/attestra/api/types"
)

func newTestStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := NewStore(Config{Path: path})
	require.NoError(t, err)
	return store
}

func TestCreateAnchorIdempotent(t *testing.T) {
	store := newTestStore(t, filepath.Join(t.TempDir(), "ledger.json"))

	txID, block, err := store.CreateAnchor("h-1", map[string]string{"policy": "age_over_18"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), block)
	require.NotEmpty(t, txID)

	// Re-creating the same commitment returns the original values and
	// must not touch stored metadata.
	txID2, block2, err := store.CreateAnchor("h-1", map[string]string{"policy": "other"})
	require.NoError(t, err)
	require.Equal(t, txID, txID2)
	require.Equal(t, block, block2)

	rec, err := store.GetAnchor("h-1")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"policy": "age_over_18"}, rec.Metadata)
}

func TestBlockNumbersAreMonotonic(t *testing.T) {
	store := newTestStore(t, filepath.Join(t.TempDir(), "ledger.json"))

	for i, commitment := range []string{"a", "b", "c"} {
		_, block, err := store.CreateAnchor(commitment, nil)
		require.NoError(t, err)
		require.Equal(t, uint64(i+1), block)
	}
	stats := store.Stats()
	require.Equal(t, 3, stats.Anchors)
	require.Equal(t, uint64(4), stats.NextBlock)
}

func TestPersistenceAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")

	store := newTestStore(t, path)
	txID, block, err := store.CreateAnchor("h-42", nil)
	require.NoError(t, err)

	reopened := newTestStore(t, path)
	rec, err := reopened.GetAnchor("h-42")
	require.NoError(t, err)
	require.Equal(t, txID, rec.TxID)
	require.Equal(t, block, rec.BlockNumber)

	// Block assignment continues where it left off.
	_, next, err := reopened.CreateAnchor("h-43", nil)
	require.NoError(t, err)
	require.Equal(t, block+1, next)
}

func TestCorruptFileFailsFast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewStore(Config{Path: path})
	require.Error(t, err)
}

func TestEmptyFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	store := newTestStore(t, path)
	require.Equal(t, uint64(1), store.Stats().NextBlock)
}

func TestDidNamespace(t *testing.T) {
	store := newTestStore(t, filepath.Join(t.TempDir(), "ledger.json"))

	doc := map[string]any{"id": "did:web:issuer.example.com"}
	rec, err := store.CreateDid("did:web:issuer.example.com", doc)
	require.NoError(t, err)
	require.Equal(t, types.LedgerDocTypeDID, rec.DocType)

	_, err = store.CreateDid("did:web:issuer.example.com", doc)
	require.True(t, trace.IsAlreadyExists(err))

	// DIDs are not visible through the anchor accessors.
	_, err = store.GetAnchor("did:web:issuer.example.com")
	require.True(t, trace.IsNotFound(err))
	require.False(t, store.VerifyAnchor("did:web:issuer.example.com"))
}

func TestConcurrentWritersSerialize(t *testing.T) {
	store := newTestStore(t, filepath.Join(t.TempDir(), "ledger.json"))

	const writers = 16
	var wg sync.WaitGroup
	blocks := make([]uint64, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, block, err := store.CreateAnchor("same", nil)
			require.NoError(t, err)
			blocks[i] = block
		}(i)
	}
	wg.Wait()

	// Every writer observed the same assignment.
	for _, b := range blocks {
		require.Equal(t, blocks[0], b)
	}
	require.Equal(t, 1, store.Stats().Anchors)
}
