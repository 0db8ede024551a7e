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

package issuance

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/attestra/attestra/api/types"
	"github.com/attestra/attestra/lib/events"
	"github.com/attestra/attestra/lib/identity"
	"github.com/attestra/attestra/lib/keystore"
	"github.com/attestra/attestra/lib/ledger"
	"github.com/attestra/attestra/lib/policy"
)

const testCommitment = "12345678901234567890123456789012345678901234567890"

type fixture struct {
	service *Service
	keys    *keystore.Manager
	store   *identity.MemoryStore
	ledger  *ledger.Store
	bus     *events.MemoryBus
	clock   *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))

	keys, err := keystore.NewManager(keystore.Config{
		IssuerDID: "did:web:issuer.example.com",
		Clock:     clock,
	})
	require.NoError(t, err)

	registry, err := policy.NewRegistry(policy.Config{Clock: clock})
	require.NoError(t, err)
	require.NoError(t, registry.Create(&types.PolicyDefinition{
		PolicyID:      types.PolicyAgeOver18,
		Version:       "1.2.0",
		CircuitID:     "age18-mimc-v1",
		DefaultExpiry: 24 * time.Hour,
		Status:        types.PolicyStatusActive,
	}))

	store, err := ledger.NewStore(ledger.Config{
		Path:  filepath.Join(t.TempDir(), "ledger.json"),
		Clock: clock,
	})
	require.NoError(t, err)

	attestations := identity.NewMemoryStore()
	bus := events.NewMemoryBus()

	service, err := NewService(Config{
		Keys:      keys,
		Policies:  registry,
		Ledger:    store,
		Store:     attestations,
		Publisher: bus,
		Clock:     clock,
	})
	require.NoError(t, err)

	return &fixture{service: service, keys: keys, store: attestations, ledger: store, bus: bus, clock: clock}
}

func (f *fixture) seedAttestation(t *testing.T, verified bool) {
	t.Helper()
	_, err := f.store.Upsert(context.Background(), &types.Attestation{
		ID:             "att-1",
		PolicyID:       types.PolicyAgeOver18,
		SubjectID:      "pseudonym-1",
		ProviderID:     "eid-hub",
		AccountRef:     "acct-1",
		Verified:       verified,
		VerifiedAt:     f.clock.Now(),
		AssuranceLevel: types.AssuranceHigh,
	})
	require.NoError(t, err)
}

func TestIssueHappyPath(t *testing.T) {
	f := newFixture(t)
	f.seedAttestation(t, true)
	ctx := context.Background()

	issued, err := f.service.IssueCredential(ctx, "acct-1", types.PolicyAgeOver18, testCommitment)
	require.NoError(t, err)
	require.NotEmpty(t, issued.VC)
	require.NotEmpty(t, issued.TxID)
	require.Equal(t, uint64(1), issued.BlockNumber)

	// The hash is SHA-256 of the serialized JWS and it is anchored.
	sum := sha256.Sum256([]byte(issued.VC))
	require.Equal(t, hex.EncodeToString(sum[:]), issued.CredentialHash)
	require.True(t, f.ledger.VerifyAnchor(issued.CredentialHash))

	// Claims are bound to the commitment and signed by the current key.
	current, err := f.keys.GetCurrent()
	require.NoError(t, err)
	jws, err := jose.ParseSigned(issued.VC, []jose.SignatureAlgorithm{jose.ES256})
	require.NoError(t, err)
	require.Equal(t, current.ID, jws.Signatures[0].Header.KeyID)
	payload, err := jws.Verify(current.Public())
	require.NoError(t, err)
	var claims types.CredentialClaims
	require.NoError(t, json.Unmarshal(payload, &claims))
	require.Equal(t, testCommitment, claims.SubjectCommitment)
	require.Equal(t, current.IssuerDID, claims.Issuer)
	require.True(t, claims.AgeOver18)
	require.Equal(t, issued.IssuedAt+int64(24*time.Hour/time.Second), claims.ExpiresAt)

	// Attestation carries the credential references afterwards.
	stored, err := f.store.Get(ctx, "eid-hub", "pseudonym-1")
	require.NoError(t, err)
	require.Equal(t, issued.CredentialHash, stored.CredentialHash)
	require.Equal(t, testCommitment, stored.SubjectCommitment)
	require.Equal(t, issued.VC, stored.VC)

	// The event went out after anchoring.
	msgs := f.bus.Messages(types.TopicCredentialIssued)
	require.Len(t, msgs, 1)
	var event types.CredentialIssued
	require.NoError(t, json.Unmarshal(msgs[0].Value, &event))
	require.Equal(t, issued.CredentialHash, event.CredentialHash)
}

func TestIssueExpiryCap(t *testing.T) {
	f := newFixture(t)
	f.seedAttestation(t, true)

	// Re-register the policy with a lifetime over the cap.
	registry, err := policy.NewRegistry(policy.Config{Clock: f.clock})
	require.NoError(t, err)
	require.NoError(t, registry.Create(&types.PolicyDefinition{
		PolicyID:      types.PolicyAgeOver18,
		Version:       "1.3.0",
		CircuitID:     "age18-mimc-v1",
		DefaultExpiry: 30 * 24 * time.Hour,
		Status:        types.PolicyStatusActive,
	}))
	f.service.cfg.Policies = registry

	issued, err := f.service.IssueCredential(context.Background(), "acct-1", types.PolicyAgeOver18, testCommitment)
	require.NoError(t, err)
	require.Equal(t, issued.IssuedAt+int64(72*time.Hour/time.Second), issued.ExpiresAt)
}

func TestIssueRequiresVerifiedAttestation(t *testing.T) {
	f := newFixture(t)
	f.seedAttestation(t, false)

	_, err := f.service.IssueCredential(context.Background(), "acct-1", types.PolicyAgeOver18, testCommitment)
	require.True(t, trace.IsAccessDenied(err))
}

func TestIssueRejectsExpiredAttestation(t *testing.T) {
	f := newFixture(t)
	expiry := f.clock.Now().Add(time.Hour)
	_, err := f.store.Upsert(context.Background(), &types.Attestation{
		ID:         "att-1",
		PolicyID:   types.PolicyAgeOver18,
		SubjectID:  "pseudonym-1",
		ProviderID: "eid-hub",
		AccountRef: "acct-1",
		Verified:   true,
		VerifiedAt: f.clock.Now(),
		ExpiresAt:  expiry,
	})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	_, err = f.service.IssueCredential(context.Background(), "acct-1", types.PolicyAgeOver18, testCommitment)
	require.True(t, trace.IsAccessDenied(err))
}

func TestIssueUnknownAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.IssueCredential(context.Background(), "nobody", types.PolicyAgeOver18, testCommitment)
	require.True(t, trace.IsNotFound(err))
}

func TestIssueRejectsBadCommitment(t *testing.T) {
	f := newFixture(t)
	f.seedAttestation(t, true)

	for _, commitment := range []string{"", "not-a-number", "12.5"} {
		_, err := f.service.IssueCredential(context.Background(), "acct-1", types.PolicyAgeOver18, commitment)
		require.True(t, trace.IsBadParameter(err), "commitment %q", commitment)
	}
}

func TestIssueDuplicateAnchorReused(t *testing.T) {
	f := newFixture(t)
	f.seedAttestation(t, true)
	ctx := context.Background()

	first, err := f.service.IssueCredential(ctx, "acct-1", types.PolicyAgeOver18, testCommitment)
	require.NoError(t, err)

	// Identical claims in the same second produce the same JWS payload;
	// the anchor for its hash is reused, not duplicated.
	record, err := f.ledger.GetAnchor(first.CredentialHash)
	require.NoError(t, err)
	txID, block, err := f.ledger.CreateAnchor(first.CredentialHash, nil)
	require.NoError(t, err)
	require.Equal(t, record.TxID, txID)
	require.Equal(t, record.BlockNumber, block)
}

func TestVerifyRoundTripKeyRotation(t *testing.T) {
	f := newFixture(t)
	f.seedAttestation(t, true)
	ctx := context.Background()

	issued, err := f.service.IssueCredential(ctx, "acct-1", types.PolicyAgeOver18, testCommitment)
	require.NoError(t, err)

	// After rotation the deprecated key still verifies inside its grace
	// window.
	oldKey, err := f.keys.GetCurrent()
	require.NoError(t, err)
	_, err = f.keys.Rotate(ctx, keystore.AlgorithmES256)
	require.NoError(t, err)

	jws, err := jose.ParseSigned(issued.VC, []jose.SignatureAlgorithm{jose.ES256})
	require.NoError(t, err)

	var verified *ecdsa.PublicKey
	for _, key := range f.keys.GetVerificationKeys() {
		if key.ID == jws.Signatures[0].Header.KeyID {
			verified = key.Public()
		}
	}
	require.NotNil(t, verified)
	require.Equal(t, oldKey.ID, jws.Signatures[0].Header.KeyID)
	_, err = jws.Verify(verified)
	require.NoError(t, err)
}
