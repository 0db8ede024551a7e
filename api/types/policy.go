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

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Policy lifecycle statuses. Transitions are monotonic:
// Active -> Deprecated -> Blocked.
const (
	PolicyStatusActive     = "Active"
	PolicyStatusDeprecated = "Deprecated"
	PolicyStatusBlocked    = "Blocked"
)

// PolicyAgeOver18 is the canonical age policy identifier.
const PolicyAgeOver18 = "age_over_18"

// PolicyDefinition describes one version of a verification policy.
// A policy ties a circuit, its verification key, and presentation
// constraints together under a semver-versioned identifier.
type PolicyDefinition struct {
	// PolicyID identifies the policy family, e.g. "age_over_18".
	PolicyID string `json:"policyId"`
	// Version is the semver version of this definition.
	Version string `json:"version"`
	// CircuitID names the zk circuit this policy verifies against.
	CircuitID string `json:"circuitId"`
	// VerificationKeyID references the Groth16 verification key.
	VerificationKeyID string `json:"verificationKeyId"`
	// VerificationKeyFingerprint is the hex SHA-256 of the verification key.
	VerificationKeyFingerprint string `json:"verificationKeyFingerprint"`
	// CompatibleVersions is a semver range of prover versions this
	// definition accepts ("^1.2.0", "1.x", "1.2.x" or a literal version).
	CompatibleVersions string `json:"compatibleVersions"`
	// DefaultExpiry is the credential lifetime granted at issuance.
	DefaultExpiry time.Duration `json:"defaultExpiry"`
	// PublicSignalsSchema documents the canonical public signal layout.
	PublicSignalsSchema []string `json:"publicSignalsSchema,omitempty"`
	// Status is the lifecycle status.
	Status string `json:"status"`
	// DeprecatedAt is set when the definition leaves Active.
	DeprecatedAt *time.Time `json:"deprecatedAt,omitempty"`
	// Signature is the base64 ECDSA signature over the canonical JSON of
	// this definition with the signature field omitted.
	Signature string `json:"signature,omitempty"`
}

// PolicyHash derives the stable hash binding a policy definition:
// SHA256(policyId ":" version ":" circuitId), hex encoded.
func (p *PolicyDefinition) PolicyHash() string {
	sum := sha256.Sum256([]byte(p.PolicyID + ":" + p.Version + ":" + p.CircuitID))
	return hex.EncodeToString(sum[:])
}

// Clone returns a deep copy.
func (p *PolicyDefinition) Clone() *PolicyDefinition {
	out := *p
	if p.DeprecatedAt != nil {
		t := *p.DeprecatedAt
		out.DeprecatedAt = &t
	}
	if p.PublicSignalsSchema != nil {
		out.PublicSignalsSchema = append([]string(nil), p.PublicSignalsSchema...)
	}
	return &out
}
