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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/attestra/attestra/api/types"
	"github.com/attestra/attestra/lib/defaults"
	"github.com/attestra/attestra/lib/keystore"
	"github.com/attestra/attestra/lib/policy"
	"github.com/attestra/attestra/lib/utils"
)

// checkEnvelope runs the structural and protocol checks shared by every
// verifier: required fields, protocol version, origin, clock skew and
// nonce freshness shape. Returns the first violated reason code, or "".
func checkEnvelope(p *types.PresentationEnvelope, origin string, now time.Time, maxSkew time.Duration) string {
	if p.PolicyID == "" || p.Origin == "" || p.Nonce == "" || p.IssuedAt == 0 || p.VC == "" || p.CredentialHash == "" {
		return types.ReasonMissingField
	}
	if !supportedProtocol(p.ProtocolVersion) {
		return types.ReasonUnsupportedProtocolVersion
	}
	if p.Origin != origin {
		return types.ReasonOriginMismatch
	}
	// Skew exactly at the bound is accepted.
	skew := now.Sub(time.Unix(p.IssuedAt, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return types.ReasonClockSkew
	}
	if err := utils.CheckHexNonce(p.Nonce, defaults.NonceMinBytes); err != nil {
		return types.ReasonMalformedPresentation
	}
	return ""
}

func supportedProtocol(version string) bool {
	for _, v := range defaults.SupportedProtocolVersions {
		if v == version {
			return true
		}
	}
	return false
}

// checkPolicy resolves the policy, enforces the anti-downgrade floor and
// the lifecycle status. Returns the policy, a soft warning code for
// deprecated policies, and a rejection code.
func checkPolicy(policies *policy.Registry, policyID, version string) (*types.PolicyDefinition, string, string) {
	if err := policies.CheckMinimum(policyID, version); err != nil {
		return nil, "", types.ReasonDowngradeRejected
	}
	def, err := policies.GetPolicy(policyID, version)
	if err != nil {
		return nil, "", types.ReasonPolicyMismatch
	}
	switch def.Status {
	case types.PolicyStatusActive:
		return def, "", ""
	case types.PolicyStatusDeprecated:
		return def, types.ReasonPolicyDeprecated, ""
	default:
		return nil, "", types.ReasonPolicyBlocked
	}
}

// verifyVC checks the credential JWS against every currently trusted key
// and its own expiry. Returns the claims and issuer, or a reason code.
func verifyVC(keys *keystore.Manager, vcJwt, credentialHash string, now time.Time) (*types.CredentialClaims, string) {
	sum := sha256.Sum256([]byte(vcJwt))
	if hex.EncodeToString(sum[:]) != credentialHash {
		return nil, types.ReasonBindingMismatch
	}

	jws, err := jose.ParseSigned(vcJwt, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		return nil, types.ReasonMalformedPresentation
	}
	if len(jws.Signatures) != 1 {
		return nil, types.ReasonMalformedPresentation
	}
	kid := jws.Signatures[0].Header.KeyID

	var payload []byte
	var trusted bool
	for _, key := range keys.GetVerificationKeys() {
		if key.ID != kid {
			continue
		}
		trusted = true
		payload, err = jws.Verify(key.Public())
		break
	}
	if !trusted {
		return nil, types.ReasonIssuerUntrusted
	}
	if err != nil {
		return nil, types.ReasonVCSignatureInvalid
	}

	var claims types.CredentialClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, types.ReasonMalformedPresentation
	}
	if claims.ExpiresAt != 0 && now.Unix() >= claims.ExpiresAt {
		return nil, types.ReasonVCExpired
	}
	return &claims, ""
}
