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

// Reason codes surfaced to callers. These are part of the public API
// contract and must stay stable across releases.
const (
	// Input.
	ReasonUnsupportedPresentation = "UNSUPPORTED_PRESENTATION"
	ReasonMalformedPresentation   = "MALFORMED_PRESENTATION"
	ReasonMissingField            = "MISSING_FIELD"
	ReasonMissingClaims           = "MISSING_CLAIMS"
	ReasonInvalidDateFormat       = "INVALID_DATE_FORMAT"
	ReasonMissingAttribute        = "MISSING_ATTRIBUTE"
	ReasonMissingSubjectID        = "MISSING_SUBJECT_ID"
	ReasonInvalidSubjectID        = "INVALID_SUBJECT_ID"

	// Protocol.
	ReasonUnsupportedProtocolVersion = "UNSUPPORTED_PROTOCOL_VERSION"
	ReasonOriginMismatch             = "ORIGIN_MISMATCH"
	ReasonClockSkew                  = "CLOCK_SKEW"
	ReasonDowngradeRejected          = "DOWNGRADE_REJECTED"

	// Binding.
	ReasonBindingMismatch = "BINDING_MISMATCH"
	ReasonReplayDetected  = "REPLAY_DETECTED"
	ReasonPolicyMismatch  = "POLICY_MISMATCH"

	// Trust.
	ReasonIssuerUntrusted    = "ISSUER_UNTRUSTED"
	ReasonVCSignatureInvalid = "VC_SIGNATURE_INVALID"
	ReasonVCExpired          = "VC_EXPIRED"
	ReasonCredentialExpired  = "CREDENTIAL_EXPIRED"
	ReasonProofInvalid       = "PROOF_INVALID"

	// Policy status (soft warning, see verification step 3).
	ReasonPolicyDeprecated = "POLICY_DEPRECATED"
	ReasonPolicyBlocked    = "POLICY_BLOCKED"

	// Dependency.
	ReasonZKPServiceUnavailable = "ZKP_SERVICE_UNAVAILABLE"
	ReasonLedgerUnavailable     = "LEDGER_UNAVAILABLE"

	// Session.
	ReasonCSRFRejected    = "CSRF_REJECTED"
	ReasonSessionExpired  = "SESSION_EXPIRED"
	ReasonSessionNotFound = "SESSION_NOT_FOUND"

	// System.
	ReasonSystemError = "SYSTEM_ERROR"
)
