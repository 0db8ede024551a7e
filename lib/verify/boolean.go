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
)

// BooleanConfig configures the boolean credential verifier.
type BooleanConfig struct {
	Policies *policy.Registry
	Keys     *keystore.Manager
	// Origin is the relying-party origin presentations must target.
	Origin string
	// MaxSkew bounds |now - issuedAt|.
	MaxSkew time.Duration
	Clock   clockwork.Clock
}

func (c *BooleanConfig) checkAndSetDefaults() error {
	if c.Policies == nil {
		return trace.BadParameter("missing policy registry")
	}
	if c.Keys == nil {
		return trace.BadParameter("missing key manager")
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

// BooleanVerifier accepts age-boolean-v1 presentations: the signed
// credential itself discloses the ageOver18 claim, without a proof.
// Weaker privacy than the zk path, so operators must opt in before it is
// registered at all.
type BooleanVerifier struct {
	cfg BooleanConfig
}

// NewBooleanVerifier creates the boolean verifier.
func NewBooleanVerifier(cfg BooleanConfig) (*BooleanVerifier, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &BooleanVerifier{cfg: cfg}, nil
}

// Type implements Verifier.
func (v *BooleanVerifier) Type() string {
	return types.PresentationTypeBoolean
}

// Verify implements Verifier.
func (v *BooleanVerifier) Verify(ctx context.Context, req *types.VerificationRequest) (*types.VerificationResult, error) {
	p := req.Presentation
	now := v.cfg.Clock.Now()

	if code := checkEnvelope(p, v.cfg.Origin, now, v.cfg.MaxSkew); code != "" {
		return reject(code), nil
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
	if claims.PolicyID != p.PolicyID {
		return reject(types.ReasonPolicyMismatch), nil
	}
	if !claims.AgeOver18 {
		return reject(types.ReasonProofInvalid), nil
	}

	return &types.VerificationResult{
		Valid:        true,
		ReasonCodes:  warnings,
		EvidenceType: types.PresentationTypeBoolean,
		Issuer:       claims.Issuer,
	}, nil
}
