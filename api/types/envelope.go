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

// Presentation types dispatched by the verifier registry.
const (
	PresentationTypeZKAge   = "zk-age-v1"
	PresentationTypeBoolean = "age-boolean-v1"
)

// Canonical public signal indexes. Provers and verifiers agree on this
// layout; the circuit may append further internal signals after these.
const (
	SignalChallengeHash = 0
	SignalPolicyHash    = 1
	SignalCommitment    = 2
	SignalSessionTag    = 3
)

// Groth16Proof is the proof triple in the wire layout produced by
// snarkjs-compatible provers.
type Groth16Proof struct {
	PiA [3]string    `json:"piA"`
	PiB [3][2]string `json:"piB"`
	PiC [3]string    `json:"piC"`
}

// PresentationEnvelope is the wallet-produced presentation submitted by a
// relying party. Field names are part of the wire contract.
type PresentationEnvelope struct {
	// ProtocolVersion is the envelope protocol version, e.g. "1.0".
	ProtocolVersion string `json:"protocolVersion"`
	// PolicyID is the policy the presentation claims.
	PolicyID string `json:"policyId"`
	// PolicyVersion is the policy version the proof was generated against.
	PolicyVersion string `json:"policyVersion"`
	// Origin is the relying-party origin URL the wallet presented to.
	Origin string `json:"origin"`
	// Nonce is the relying-party nonce, hex, at least 32 bytes (64 chars).
	Nonce string `json:"nonce"`
	// IssuedAt is the envelope creation time, unix seconds.
	IssuedAt int64 `json:"issuedAt"`
	// Proof is the Groth16 proof triple.
	Proof *Groth16Proof `json:"proof,omitempty"`
	// PublicSignals are the circuit public signals as field-element
	// strings, at least seven, in canonical order (see Signal indexes).
	PublicSignals []string `json:"publicSignals,omitempty"`
	// VC is the compact credential JWS being presented.
	VC string `json:"vcJwt"`
	// CredentialHash is the hex SHA-256 of VC.
	CredentialHash string `json:"credentialHash"`
	// PolicyHash is the envelope's claimed policy hash.
	PolicyHash string `json:"policyHash"`
	// Signature is the wallet signature over the envelope, base64.
	Signature string `json:"signature,omitempty"`
}

// VerificationRequest is the relying-party verification call.
type VerificationRequest struct {
	// ContractVersion is the request contract version.
	ContractVersion string `json:"contractVersion"`
	// PolicyID is the policy being checked.
	PolicyID string `json:"policyId"`
	// PresentationType selects the verifier plugin.
	PresentationType string `json:"presentationType"`
	// Presentation is the envelope.
	Presentation *PresentationEnvelope `json:"presentation"`
	// Challenge is the relying-party challenge the proof must bind.
	Challenge string `json:"challenge"`
	// Context carries optional request annotations.
	Context map[string]string `json:"context,omitempty"`
}

// VerificationResult is the outcome of a presentation verification.
// Business-rule rejections are reported through Valid plus ReasonCodes,
// never as transport errors.
type VerificationResult struct {
	Valid        bool      `json:"valid"`
	ReasonCodes  []string  `json:"reasonCodes"`
	EvidenceType string    `json:"evidenceType,omitempty"`
	Issuer       string    `json:"issuer,omitempty"`
	TimestampUTC time.Time `json:"timestampUtc"`
}
