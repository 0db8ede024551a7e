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

package verify

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/attestra/attestra/api/types"
	"github.com/attestra/attestra/lib/defaults"
	"github.com/attestra/attestra/lib/keystore"
	"github.com/attestra/attestra/lib/policy"
	"github.com/attestra/attestra/lib/zkp"
)

// ZKAgeConfig configures the zero-knowledge age verifier.
type ZKAgeConfig struct {
	// Policies resolves and gates policy versions.
	Policies *policy.Registry
	// Keys holds the trusted issuer keys.
	Keys *keystore.Manager
	// ZKP verifies proofs and computes circuit hashes.
	ZKP zkp.Client
	// Origin is the relying-party origin presentations must target.
	Origin string
	// MaxSkew bounds |now - issuedAt|.
	MaxSkew time.Duration
	// Clock is the verification clock.
	Clock clockwork.Clock
}

func (c *ZKAgeConfig) checkAndSetDefaults() error {
	if c.Policies == nil {
		return trace.BadParameter("missing policy registry")
	}
	if c.Keys == nil {
		return trace.BadParameter("missing key manager")
	}
	if c.ZKP == nil {
		return trace.BadParameter("missing zkp client")
	}
	if c.Origin == "" {
		return trace.BadParameter("missing relying-party origin")
	}
	if c.MaxSkew <= 0 {
		c.MaxSkew = defaults.MaxClockSkew
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// ZKAgeVerifier verifies zk-age-v1 presentations: a Groth16 proof over
// the age circuit, bound to the credential commitment, the relying-party
// challenge and the policy.
type ZKAgeVerifier struct {
	cfg ZKAgeConfig
}

// NewZKAgeVerifier creates the zk age verifier.
func NewZKAgeVerifier(cfg ZKAgeConfig) (*ZKAgeVerifier, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &ZKAgeVerifier{cfg: cfg}, nil
}

// Type implements Verifier.
func (v *ZKAgeVerifier) Type() string {
	return types.PresentationTypeZKAge
}

// Verify implements Verifier. Checks run in a fixed order and the first
// violation rejects; a deprecated policy adds a warning code without
// failing the result.
func (v *ZKAgeVerifier) Verify(ctx context.Context, req *types.VerificationRequest) (*types.VerificationResult, error) {
	p := req.Presentation
	now := v.cfg.Clock.Now()

	if code := checkEnvelope(p, v.cfg.Origin, now, v.cfg.MaxSkew); code != "" {
		return reject(code), nil
	}
	if p.Proof == nil || len(p.PublicSignals) < defaults.MinPublicSignals {
		return reject(types.ReasonMalformedPresentation), nil
	}
	if req.Challenge == "" {
		return reject(types.ReasonMissingField), nil
	}

	def, warning, code := checkPolicy(v.cfg.Policies, p.PolicyID, p.PolicyVersion)
	if code != "" {
		return reject(code), nil
	}
	var warnings []string
	if warning != "" {
		warnings = append(warnings, warning)
	}
	if p.PolicyHash != def.PolicyHash() {
		return reject(types.ReasonPolicyMismatch), nil
	}

	claims, rejectCode := verifyVC(v.cfg.Keys, p.VC, p.CredentialHash, now)
	if rejectCode != "" {
		return reject(rejectCode), nil
	}

	// Commitment binding: the proof must speak about the credential's
	// subject commitment.
	if p.PublicSignals[types.SignalCommitment] != claims.SubjectCommitment {
		return reject(types.ReasonBindingMismatch), nil
	}

	// Replay binding: the challenge hash signal must match the
	// relying-party challenge for this very exchange.
	challengeHash, err := v.cfg.ZKP.Hash(ctx, req.Challenge)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if p.PublicSignals[types.SignalChallengeHash] != challengeHash {
		return reject(types.ReasonReplayDetected), nil
	}

	// Policy binding: the proof was generated for this policy.
	policyHash, err := v.cfg.ZKP.HashPolicy(ctx, p.PolicyID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if p.PublicSignals[types.SignalPolicyHash] != policyHash {
		return reject(types.ReasonPolicyMismatch), nil
	}

	valid, err := v.cfg.ZKP.VerifyProof(ctx, p.Proof, p.PublicSignals)
	if err != nil {
		if trace.IsBadParameter(err) {
			return reject(types.ReasonProofInvalid), nil
		}
		return nil, trace.Wrap(err)
	}
	if !valid {
		return reject(types.ReasonProofInvalid), nil
	}

	return &types.VerificationResult{
		Valid:        true,
		ReasonCodes:  warnings,
		EvidenceType: types.PresentationTypeZKAge,
		Issuer:       claims.Issuer,
	}, nil
}
