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
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/attestra/attestra/api/types"
	"github.com/attestra/attestra/lib/events"
	"github.com/attestra/attestra/lib/sessioncache"
)

// fakeHub scripts the provider hub for one session at a time.
type fakeHub struct {
	created  *StartedSession
	response *SessionResponse
	err      error
	calls    int
}

func (f *fakeHub) CreateSession(ctx context.Context, accountRef string) (*StartedSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.created, nil
}

func (f *fakeHub) GetSession(ctx context.Context, sessionID string) (*SessionResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

type fixture struct {
	service *Service
	hub     *fakeHub
	cache   *sessioncache.Cache
	store   *MemoryStore
	bus     *events.MemoryBus
	clock   *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	cache, err := sessioncache.NewFromAddr(mr.Addr())
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	hub := &fakeHub{
		created: &StartedSession{
			SessionID: "hub-session-1",
			AuthURL:   "https://hub.example/auth/hub-session-1",
			ExpiresAt: clock.Now().Add(30 * time.Minute),
		},
	}
	store := NewMemoryStore()
	bus := events.NewMemoryBus()

	service, err := NewService(ServiceConfig{
		Providers: map[string]Provider{
			"eid-hub": {Client: hub, Mapper: AgeMapper{}},
		},
		Cache:      cache,
		Store:      store,
		Publisher:  bus,
		SessionTTL: 10 * time.Minute,
		Clock:      clock,
	})
	require.NoError(t, err)

	return &fixture{service: service, hub: hub, cache: cache, store: store, bus: bus, clock: clock}
}

func succeededHub(f *fixture, claims *Claims) {
	f.hub.response = &SessionResponse{Status: types.SessionStatusSucceeded, Claims: claims}
}

func TestStartCachesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started, err := f.service.Start(ctx, "eid-hub", "acct-1")
	require.NoError(t, err)
	require.Equal(t, "hub-session-1", started.SessionID)

	cached, err := f.cache.Get(ctx, "hub-session-1")
	require.NoError(t, err)
	require.Equal(t, "eid-hub", cached.ProviderID)
	require.Equal(t, "acct-1", cached.AccountRef)
	require.NotEmpty(t, cached.ExternalReference)
}

func TestStartUnknownProvider(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Start(context.Background(), "nope", "")
	require.True(t, trace.IsNotFound(err))
}

func TestCallbackHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Start(ctx, "eid-hub", "acct-1")
	require.NoError(t, err)
	succeededHub(f, &Claims{
		Subject:        Subject{ID: "pseudonym-1"},
		DateOfBirth:    "2000-01-01",
		AssuranceLevel: types.AssuranceHigh,
	})

	result, err := f.service.HandleCallback(ctx, "hub-session-1")
	require.NoError(t, err)
	require.Equal(t, types.SessionStatusSucceeded, result.Status)
	require.NotNil(t, result.Attestation)
	require.True(t, result.Attestation.Verified)
	require.Equal(t, "pseudonym-1", result.Attestation.SubjectID)
	require.Equal(t, "acct-1", result.Attestation.AccountRef)
	require.Equal(t, types.PolicyAgeOver18, result.Attestation.PolicyID)

	stored, err := f.store.Get(ctx, "eid-hub", "pseudonym-1")
	require.NoError(t, err)
	require.True(t, stored.Verified)

	// The event is keyed by account and carries the predicate only.
	msgs := f.bus.Messages(types.TopicIdentityVerified)
	require.Len(t, msgs, 1)
	require.Equal(t, "acct-1", msgs[0].Key)
	var event types.IdentityVerified
	require.NoError(t, json.Unmarshal(msgs[0].Value, &event))
	require.True(t, event.IsAdult)
	require.NotContains(t, string(msgs[0].Value), "2000-01-01")
}

func TestCallbackUnknownSessionRejected(t *testing.T) {
	f := newFixture(t)

	result, err := f.service.HandleCallback(context.Background(), "never-started")
	require.NoError(t, err)
	require.Equal(t, CallbackStatusRejected, result.Status)
	require.Equal(t, types.ReasonCSRFRejected, result.ReasonCode)
	// The hub was never consulted.
	require.Zero(t, f.hub.calls)
}

func TestCallbackOneShot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Start(ctx, "eid-hub", "")
	require.NoError(t, err)
	succeededHub(f, &Claims{Subject: Subject{ID: "pseudonym-1"}, DateOfBirth: "2000-01-01"})

	first, err := f.service.HandleCallback(ctx, "hub-session-1")
	require.NoError(t, err)
	require.Equal(t, types.SessionStatusSucceeded, first.Status)

	// A replayed callback is rejected: the session was consumed.
	second, err := f.service.HandleCallback(ctx, "hub-session-1")
	require.NoError(t, err)
	require.Equal(t, CallbackStatusRejected, second.Status)
	require.Equal(t, types.ReasonCSRFRejected, second.ReasonCode)
}

func TestCallbackAborted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Start(ctx, "eid-hub", "")
	require.NoError(t, err)
	f.hub.response = &SessionResponse{Status: types.SessionStatusAborted}

	result, err := f.service.HandleCallback(ctx, "hub-session-1")
	require.NoError(t, err)
	require.Equal(t, types.SessionStatusAborted, result.Status)
	require.Nil(t, result.Attestation)

	// Terminal status consumed the session.
	ok, err := f.cache.Exists(ctx, "hub-session-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCallbackPendingKeepsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Start(ctx, "eid-hub", "")
	require.NoError(t, err)
	f.hub.response = &SessionResponse{Status: types.SessionStatusPending}

	result, err := f.service.HandleCallback(ctx, "hub-session-1")
	require.NoError(t, err)
	require.Equal(t, types.SessionStatusPending, result.Status)

	ok, err := f.cache.Exists(ctx, "hub-session-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCallbackMappingFailureConsumesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Start(ctx, "eid-hub", "")
	require.NoError(t, err)
	succeededHub(f, &Claims{Subject: Subject{ID: "pseudonym-1"}, DateOfBirth: "bogus"})

	result, err := f.service.HandleCallback(ctx, "hub-session-1")
	require.NoError(t, err)
	require.Equal(t, CallbackStatusRejected, result.Status)
	require.Equal(t, types.ReasonInvalidDateFormat, result.ReasonCode)

	ok, err := f.cache.Exists(ctx, "hub-session-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCallbackHubFailureKeepsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Start(ctx, "eid-hub", "")
	require.NoError(t, err)
	f.hub.err = trace.ConnectionProblem(nil, "hub down")

	_, err = f.service.HandleCallback(ctx, "hub-session-1")
	require.Error(t, err)

	ok, err := f.cache.Exists(ctx, "hub-session-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUpsertMergePreservesAccountRef(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// First verification correlated to an account.
	_, err := f.service.Start(ctx, "eid-hub", "acct-1")
	require.NoError(t, err)
	succeededHub(f, &Claims{Subject: Subject{ID: "pseudonym-1"}, DateOfBirth: "2000-01-01"})
	_, err = f.service.HandleCallback(ctx, "hub-session-1")
	require.NoError(t, err)

	// Re-verification without an account reference.
	f.clock.Advance(time.Hour)
	_, err = f.service.Start(ctx, "eid-hub", "")
	require.NoError(t, err)
	_, err = f.service.HandleCallback(ctx, "hub-session-1")
	require.NoError(t, err)

	stored, err := f.store.Get(ctx, "eid-hub", "pseudonym-1")
	require.NoError(t, err)
	require.Equal(t, "acct-1", stored.AccountRef)
	require.Equal(t, f.clock.Now().UTC(), stored.VerifiedAt)
}

func TestErase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Start(ctx, "eid-hub", "")
	require.NoError(t, err)
	succeededHub(f, &Claims{Subject: Subject{ID: "pseudonym-1"}, DateOfBirth: "2000-01-01"})
	_, err = f.service.HandleCallback(ctx, "hub-session-1")
	require.NoError(t, err)

	require.NoError(t, f.service.Erase(ctx, "eid-hub", "pseudonym-1"))
	_, err = f.store.Get(ctx, "eid-hub", "pseudonym-1")
	require.True(t, trace.IsNotFound(err))

	require.True(t, trace.IsNotFound(f.service.Erase(ctx, "eid-hub", "pseudonym-1")))
}
