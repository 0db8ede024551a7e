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

package sessioncache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/attestra/attestra/api/types"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache, err := NewFromAddr(mr.Addr())
	require.NoError(t, err)
	return cache, mr
}

func TestSetGetRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	session := types.Session{
		SessionID:         "hub-token-1",
		ProviderID:        "eid-hub",
		ExternalReference: "11111111-2222-3333-4444-555555555555",
		AccountRef:        "acct-9",
	}
	require.NoError(t, cache.Set(ctx, session, time.Minute))

	got, err := cache.Get(ctx, "hub-token-1")
	require.NoError(t, err)
	require.Equal(t, &session, got)
}

func TestOneShotConsumption(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, types.Session{SessionID: "s1", ProviderID: "p"}, time.Minute))

	ok, err := cache.Exists(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, cache.Remove(ctx, "s1"))

	ok, err = cache.Exists(ctx, "s1")
	require.NoError(t, err)
	require.False(t, ok)

	// A duplicate callback's Remove succeeds without effect.
	require.NoError(t, cache.Remove(ctx, "s1"))

	_, err = cache.Get(ctx, "s1")
	require.True(t, trace.IsNotFound(err))
}

func TestTTLExpiry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, types.Session{SessionID: "s1", ProviderID: "p"}, time.Minute))
	mr.FastForward(2 * time.Minute)

	ok, err := cache.Exists(ctx, "s1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRejectsZeroTTL(t *testing.T) {
	cache, _ := newTestCache(t)
	err := cache.Set(context.Background(), types.Session{SessionID: "s1"}, 0)
	require.True(t, trace.IsBadParameter(err))
}
