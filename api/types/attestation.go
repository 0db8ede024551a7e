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

// Package types holds the wire and storage records shared across the
// platform. Records here are plain data: no behavior beyond derived
// values, no references back into the services that produce them.
package types

import (
	"time"
)

// Assurance levels reported by eID providers.
const (
	AssuranceSubstantial = "substantial"
	AssuranceHigh        = "high"
	AssuranceUnknown     = "unknown"
)

// MaxSubjectIDLength bounds the provider pseudonym length.
const MaxSubjectIDLength = 256

// Attestation is the privacy-minimized result of a completed eID session.
// It never carries the claims it was derived from: the mapper computes
// isAdult and discards the date of birth before this record is built.
type Attestation struct {
	// ID is the attestation identifier (UUID).
	ID string `json:"id"`
	// PolicyID is the policy this attestation supports.
	PolicyID string `json:"policyId"`
	// SubjectID is the opaque provider-scoped pseudonym. URL-safe,
	// at most MaxSubjectIDLength characters.
	SubjectID string `json:"subjectId"`
	// ProviderID identifies the eID provider that verified the subject.
	ProviderID string `json:"providerId"`
	// AccountRef is the caller-supplied correlation reference, if any.
	AccountRef string `json:"accountRef,omitempty"`
	// Verified reports whether the policy predicate held.
	Verified bool `json:"verified"`
	// VerifiedAt is when the eID session completed.
	VerifiedAt time.Time `json:"verifiedAt"`
	// ExpiresAt is when the attestation stops being usable for issuance.
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	// AssuranceLevel is the provider-reported assurance level.
	AssuranceLevel string `json:"assuranceLevel"`
	// PolicyHash is the derived hash of the policy this attestation binds.
	PolicyHash string `json:"policyHash,omitempty"`
	// CredentialHash references the anchored credential minted from this
	// attestation, set by the issuance service.
	CredentialHash string `json:"credentialHash,omitempty"`
	// SubjectCommitment is the commitment the minted credential is bound
	// to, set by the issuance service.
	SubjectCommitment string `json:"subjectCommitment,omitempty"`
	// VC is the serialized credential JWS, set by the issuance service.
	VC string `json:"vc,omitempty"`
	// Metadata carries optional non-PII annotations.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Expired reports whether the attestation is past its expiry at now.
// Attestations without an expiry never expire.
func (a *Attestation) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt)
}

// Session is a pending eID hub session. It lives only in the session
// cache and is removed on first successful consumption.
type Session struct {
	// SessionID is the opaque hub-issued session token.
	SessionID string `json:"sessionId"`
	// ProviderID identifies the provider the session was opened with.
	ProviderID string `json:"providerId"`
	// ExternalReference is the internal correlation UUID.
	ExternalReference string `json:"externalReference"`
	// AccountRef optionally correlates the session to a caller account.
	AccountRef string `json:"accountRef,omitempty"`
}

// Session statuses reported by the eID hub.
const (
	SessionStatusInitiated = "Initiated"
	SessionStatusPending   = "Pending"
	SessionStatusSucceeded = "Succeeded"
	SessionStatusAborted   = "Aborted"
	SessionStatusErrored   = "Errored"
	SessionStatusExpired   = "Expired"
)

// TerminalSessionStatus reports whether the status is absorbing.
func TerminalSessionStatus(status string) bool {
	switch status {
	case SessionStatusSucceeded, SessionStatusAborted, SessionStatusErrored, SessionStatusExpired:
		return true
	}
	return false
}
