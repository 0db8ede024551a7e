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

// Package issuance mints commitment-bound credentials from stored
// attestations and anchors their hashes in the ledger. The wallet
// secret never reaches this package; the subject binding is the
// commitment the wallet derived from it.
package issuance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/cryptosigner"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/attestra/attestra"
	"github.com/attestra/attestra/api/types"
	"github.com/attestra/attestra/lib/defaults"
	"github.com/attestra/attestra/lib/events"
	"github.com/attestra/attestra/lib/identity"
	"github.com/attestra/attestra/lib/keystore"
	logutils "github.com/attestra/attestra/lib/utils/log"
)

// Anchor is the ledger surface the issuer needs.
type Anchor interface {
	// CreateAnchor durably stores a hash and returns its transaction ID
	// and block number. Anchoring the same hash twice returns the
	// original transaction.
	CreateAnchor(commitment string, metadata map[string]string) (string, uint64, error)
}

// PolicyResolver resolves policy definitions for issuance.
type PolicyResolver interface {
	// GetPolicy returns the definition for policyID. An empty version
	// selects the latest Active definition.
	GetPolicy(policyID, version string) (*types.PolicyDefinition, error)
}

// Config holds issuance service configuration.
type Config struct {
	// Keys signs credentials.
	Keys *keystore.Manager
	// Policies resolves the policy a credential attests to.
	Policies PolicyResolver
	// Ledger anchors credential hashes.
	Ledger Anchor
	// Store reads and updates attestations.
	Store identity.AttestationStore
	// Publisher emits credential.issued events after anchoring. Optional.
	Publisher events.Publisher
	// MaxTTL caps the credential lifetime regardless of policy.
	MaxTTL time.Duration
	// Clock supplies issuance time.
	Clock clockwork.Clock
	// Logger overrides the package logger.
	Logger *slog.Logger
}

func (c *Config) checkAndSetDefaults() error {
	if c.Keys == nil {
		return trace.BadParameter("missing key manager")
	}
	if c.Policies == nil {
		return trace.BadParameter("missing policy resolver")
	}
	if c.Ledger == nil {
		return trace.BadParameter("missing ledger")
	}
	if c.Store == nil {
		return trace.BadParameter("missing attestation store")
	}
	if c.MaxTTL <= 0 {
		c.MaxTTL = defaults.CredentialMaxTTL
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = logutils.NewPackageLogger(attestra.ComponentKey, attestra.ComponentIssuance)
	}
	return nil
}

// Service issues credentials.
type Service struct {
	cfg Config
}

// NewService creates the issuance service.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{cfg: cfg}, nil
}

// IssueCredential mints a credential for the attestation correlated to
// accountRef, binds it to subjectCommitment, anchors its hash and only
// then reports success. The commitment must be a field element; the
// issuer never sees the secret behind it.
func (s *Service) IssueCredential(ctx context.Context, accountRef, policyID, subjectCommitment string) (*types.IssuedCredential, error) {
	if err := checkCommitment(subjectCommitment); err != nil {
		return nil, trace.Wrap(err)
	}

	attestation, err := s.cfg.Store.GetByAccountRef(ctx, accountRef)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	now := s.cfg.Clock.Now()
	if !attestation.Verified {
		return nil, trace.AccessDenied("attestation for account does not satisfy policy %v", policyID)
	}
	if attestation.Expired(now) {
		return nil, trace.AccessDenied("attestation has expired")
	}
	if attestation.PolicyID != policyID {
		return nil, trace.AccessDenied("attestation covers policy %v, not %v", attestation.PolicyID, policyID)
	}

	policy, err := s.cfg.Policies.GetPolicy(policyID, "")
	if err != nil {
		return nil, trace.Wrap(err)
	}

	ttl := policy.DefaultExpiry
	if ttl <= 0 || ttl > s.cfg.MaxTTL {
		ttl = s.cfg.MaxTTL
	}
	issuedAt := now.UTC()
	expiresAt := issuedAt.Add(ttl)

	key, err := s.cfg.Keys.GetCurrent()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	claims := types.CredentialClaims{
		PolicyID:          policyID,
		CredentialType:    types.CredentialTypeAgeOver18,
		SubjectCommitment: subjectCommitment,
		AgeOver18:         attestation.Verified,
		Issuer:            key.IssuerDID,
		IssuedAt:          issuedAt.Unix(),
		ExpiresAt:         expiresAt.Unix(),
	}
	vcJwt, err := signCompact(key, claims)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	sum := sha256.Sum256([]byte(vcJwt))
	credentialHash := hex.EncodeToString(sum[:])

	// The anchor must be durable before anyone learns the credential
	// exists. Publish and store updates come after.
	txID, blockNumber, err := s.cfg.Ledger.CreateAnchor(credentialHash, map[string]string{
		"policyId":          policyID,
		"subjectCommitment": subjectCommitment,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	attestation.PolicyHash = policy.PolicyHash()
	attestation.CredentialHash = credentialHash
	attestation.SubjectCommitment = subjectCommitment
	attestation.VC = vcJwt
	if err := s.cfg.Store.Update(ctx, attestation); err != nil {
		return nil, trace.Wrap(err)
	}

	if s.cfg.Publisher != nil {
		event := types.CredentialIssued{
			AccountRef:     accountRef,
			CredentialHash: credentialHash,
			IssuedAt:       issuedAt,
			ExpiresAt:      expiresAt,
		}
		if err := s.cfg.Publisher.Publish(ctx, types.TopicCredentialIssued, accountRef, event); err != nil {
			s.cfg.Logger.WarnContext(ctx, "Failed to publish issuance event.", "error", err)
		}
	}

	s.cfg.Logger.InfoContext(ctx, "Issued credential.",
		"policy_id", policyID, "key_id", key.ID, "tx_id", txID, "block", blockNumber)
	return &types.IssuedCredential{
		VC:             vcJwt,
		CredentialHash: credentialHash,
		TxID:           txID,
		BlockNumber:    blockNumber,
		IssuedAt:       issuedAt.Unix(),
		ExpiresAt:      expiresAt.Unix(),
	}, nil
}

// checkCommitment rejects commitments that are not canonical field
// elements of the proving curve.
func checkCommitment(commitment string) error {
	if commitment == "" {
		return trace.BadParameter("missing subject commitment")
	}
	var e fr.Element
	if _, err := e.SetString(commitment); err != nil {
		return trace.BadParameter("subject commitment is not a field element")
	}
	return nil
}

// signCompact produces the compact JWS for claims, signed by key with
// its ID in the protected header.
func signCompact(key *keystore.Key, claims types.CredentialClaims) (string, error) {
	if !key.CanSign() {
		return "", trace.BadParameter("key %v cannot sign", key.ID)
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", trace.Wrap(err)
	}
	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.ES256,
		Key: &jose.JSONWebKey{
			Key:       cryptosigner.Opaque(key.Signer()),
			KeyID:     key.ID,
			Algorithm: key.Algorithm,
		},
	}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", trace.Wrap(err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", trace.Wrap(err)
	}
	compact, err := jws.CompactSerialize()
	if err != nil {
		return "", trace.Wrap(err)
	}
	return compact, nil
}
