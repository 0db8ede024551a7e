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

// Package attestra holds constants shared across the platform.
package attestra

import "strings"

const (
	// Version is the semantic version of the platform.
	Version = "0.3.0"

	// ComponentKey is the slog attribute key used to identify the
	// component a log line originated from.
	ComponentKey = "component"
)

const (
	// ComponentIdentity is the identity service (eID session intake).
	ComponentIdentity = "identity"

	// ComponentIssuance is the credential issuance service.
	ComponentIssuance = "issuance"

	// ComponentVerify is the presentation verification service.
	ComponentVerify = "verify"

	// ComponentLedger is the anchor ledger.
	ComponentLedger = "ledger"

	// ComponentKeystore is the signing key manager.
	ComponentKeystore = "keystore"

	// ComponentPipeline is the message pipeline.
	ComponentPipeline = "pipeline"

	// ComponentAudit is the audit log.
	ComponentAudit = "audit"

	// ComponentWeb is the HTTP API layer.
	ComponentWeb = "web"

	// ComponentZKP is the proof verifier client.
	ComponentZKP = "zkp"
)

// Component joins subcomponent names, e.g. Component("pipeline", "consumer").
func Component(parts ...string) string {
	return strings.Join(parts, ".")
}
