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

// Package defaults holds the platform-wide tunables. Values here are the
// fallbacks applied by checkAndSetDefaults methods when the operator does
// not configure them explicitly.
package defaults

import "time"

const (
	// SessionTTL is the default lifetime of a pending eID session cache
	// entry. The effective TTL is capped by the hub session expiry.
	SessionTTL = 10 * time.Minute

	// MaxClockSkew is the maximum tolerated |now - issuedAt| for a
	// presentation envelope. Exactly MaxClockSkew is still accepted.
	MaxClockSkew = 5 * time.Minute

	// NonceMinBytes is the minimum relying-party nonce size.
	NonceMinBytes = 32

	// MinPublicSignals is the minimum public signal count a zk
	// presentation must carry.
	MinPublicSignals = 7

	// CredentialMaxTTL is the hard cap on credential lifetime regardless
	// of what the policy's default expiry asks for.
	CredentialMaxTTL = 72 * time.Hour

	// KeyGracePeriod is how long a deprecated signing key keeps verifying
	// previously issued credentials.
	KeyGracePeriod = 14 * 24 * time.Hour

	// AdultAge is the age threshold for the canonical age policy.
	AdultAge = 18
)

const (
	// PipelineMaxAttempts is the default delivery attempt budget before a
	// message is quarantined.
	PipelineMaxAttempts = 5

	// PipelineBackoffBase is the first retry backoff.
	PipelineBackoffBase = 200 * time.Millisecond

	// PipelineBackoffMax caps the exponential backoff.
	PipelineBackoffMax = 30 * time.Second

	// PipelineJitterPct is the +/- jitter fraction applied to backoffs.
	PipelineJitterPct = 0.2
)

const (
	// ZKPTimeout bounds a single call to the proof verifier backend.
	ZKPTimeout = 10 * time.Second

	// HubTimeout bounds a single call to the eID hub.
	HubTimeout = 15 * time.Second

	// HTTPListenAddr is the default API listen address.
	HTTPListenAddr = "127.0.0.1:3080"
)

// SupportedProtocolVersions lists the presentation protocol versions the
// verifier accepts.
var SupportedProtocolVersions = []string{"1.0", "1.1"}
