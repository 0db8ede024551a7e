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

// Package identity implements the eID session intake: starting hub
// sessions, consuming their callbacks exactly once, and mapping
// authenticated claims into privacy-minimized attestations. Claim
// bodies never leave this package and are never logged.
package identity

import (
	"context"
	"time"
)

// StartedSession is the result of opening a session with the eID hub.
type StartedSession struct {
	// SessionID is the hub-issued opaque session token.
	SessionID string `json:"sessionId"`
	// AuthURL is where the user agent must be redirected.
	AuthURL string `json:"authUrl"`
	// ExpiresAt is the hub-side session deadline.
	ExpiresAt time.Time `json:"expiresAt"`
}

// Subject identifies the authenticated user at the provider.
type Subject struct {
	// ID is the provider-scoped opaque pseudonym.
	ID string `json:"id"`
}

// Claims is the attribute set released by the hub for a succeeded
// session. It exists only in memory during callback handling; the
// mapper extracts what the attestation needs and the rest is dropped.
type Claims struct {
	Subject Subject `json:"subject"`
	// DateOfBirth is the ISO date YYYY-MM-DD. Read once to compute the
	// age predicate, then discarded.
	DateOfBirth    string     `json:"dateOfBirth"`
	AssuranceLevel string     `json:"assuranceLevel,omitempty"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
}

// SessionResponse is the hub's view of a session.
type SessionResponse struct {
	Status string  `json:"status"`
	Claims *Claims `json:"claims,omitempty"`
}

// ProviderClient talks to one eID provider through the hub.
type ProviderClient interface {
	// CreateSession opens a new authentication session.
	CreateSession(ctx context.Context, accountRef string) (*StartedSession, error)
	// GetSession fetches the current session state and, once the
	// session succeeded, its claims.
	GetSession(ctx context.Context, sessionID string) (*SessionResponse, error)
}

// Provider couples a hub client with the claims mapper for one
// registered provider.
type Provider struct {
	Client ProviderClient
	Mapper ClaimsMapper
}
