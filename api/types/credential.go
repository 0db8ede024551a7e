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

// CredentialTypeAgeOver18 is the credential type minted for the age policy.
const CredentialTypeAgeOver18 = "AgeOver18Credential"

// CredentialClaims is the claims set serialized into the credential JWS.
// The subject binding is the commitment only; the wallet secret preimage
// never reaches the issuer.
type CredentialClaims struct {
	// PolicyID is the policy the credential attests to.
	PolicyID string `json:"policyId"`
	// CredentialType is the credential type, e.g. AgeOver18Credential.
	CredentialType string `json:"credentialType"`
	// SubjectCommitment is the field element H(walletSecret).
	SubjectCommitment string `json:"subjectCommitment"`
	// AgeOver18 is the boolean claim carried for boolean-VC presentations.
	AgeOver18 bool `json:"ageOver18"`
	// Issuer is the DID of the signing key holder.
	Issuer string `json:"iss"`
	// IssuedAt is the issuance time, unix seconds.
	IssuedAt int64 `json:"iat"`
	// ExpiresAt is the expiry time, unix seconds.
	ExpiresAt int64 `json:"exp"`
}

// IssuedCredential is the issuance result returned to the wallet.
type IssuedCredential struct {
	// VC is the compact-serialized credential JWS.
	VC string `json:"vcJwt"`
	// CredentialHash is the hex SHA-256 of VC, as anchored in the ledger.
	CredentialHash string `json:"credentialHash"`
	// TxID is the anchor transaction identifier.
	TxID string `json:"txId"`
	// BlockNumber is the anchor block number.
	BlockNumber uint64 `json:"blockNumber"`
	// IssuedAt is the issuance time, unix seconds.
	IssuedAt int64 `json:"issuedAt"`
	// ExpiresAt is the expiry time, unix seconds.
	ExpiresAt int64 `json:"expiresAt"`
}

// Signing key lifecycle statuses.
const (
	KeyStatusCurrent    = "Current"
	KeyStatusDeprecated = "Deprecated"
	KeyStatusRetired    = "Retired"
)
