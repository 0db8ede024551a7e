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

// Event bus topics.
const (
	TopicIdentityVerified   = "identity.verified"
	TopicCredentialIssued   = "credential.issued"
	TopicCredentialVerified = "credential.verified"

	// DLQSuffix is appended to a topic to form its dead-letter topic.
	DLQSuffix = ".DLQ"
)

// IdentityVerified is published when an eID session completes and an
// attestation has been stored.
type IdentityVerified struct {
	ProviderID     string     `json:"providerId"`
	SubjectID      string     `json:"subjectId"`
	AccountRef     string     `json:"accountRef,omitempty"`
	IsAdult        bool       `json:"isAdult"`
	VerifiedAt     time.Time  `json:"verifiedAt"`
	AssuranceLevel string     `json:"assuranceLevel"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
}

// CredentialIssued is published after the credential hash has been
// durably anchored.
type CredentialIssued struct {
	AccountRef     string    `json:"accountRef"`
	CredentialHash string    `json:"credentialHash"`
	IssuedAt       time.Time `json:"issuedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// CredentialVerified is published on each successful verification.
type CredentialVerified struct {
	AccountRef    string    `json:"accountRef,omitempty"`
	Valid         bool      `json:"valid"`
	Issuer        string    `json:"issuer,omitempty"`
	FailureReason string    `json:"failureReason,omitempty"`
	VerifiedAt    time.Time `json:"verifiedAt"`
}
