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

package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"

	"github.com/attestra/attestra/lib/defaults"
)

// HubClient is the HTTP client for an eID hub. The account reference is
// deliberately never sent to the hub: the hub learns nothing about the
// caller's account, and the platform learns only the provider-scoped
// pseudonym back.
type HubClient struct {
	clt     *roundtrip.Client
	timeout time.Duration
}

// NewHubClient creates a client for the hub at addr.
func NewHubClient(addr string, timeout time.Duration) (*HubClient, error) {
	if addr == "" {
		return nil, trace.BadParameter("missing hub address")
	}
	if timeout <= 0 {
		timeout = defaults.HubTimeout
	}
	clt, err := roundtrip.NewClient(addr, "v1")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &HubClient{clt: clt, timeout: timeout}, nil
}

// CreateSession implements ProviderClient.
func (h *HubClient) CreateSession(ctx context.Context, _ string) (*StartedSession, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	re, err := h.clt.PostJSON(ctx, h.clt.Endpoint("sessions"), struct{}{})
	if err != nil {
		return nil, trace.ConnectionProblem(err, "eID hub is unavailable")
	}
	if re.Code() != http.StatusOK && re.Code() != http.StatusCreated {
		return nil, trace.ConnectionProblem(nil, "eID hub returned status %v", re.Code())
	}
	var started StartedSession
	if err := json.Unmarshal(re.Bytes(), &started); err != nil {
		return nil, trace.ConnectionProblem(err, "eID hub returned an unparseable session")
	}
	if started.SessionID == "" {
		return nil, trace.ConnectionProblem(nil, "eID hub returned a session without an id")
	}
	return &started, nil
}

// GetSession implements ProviderClient.
func (h *HubClient) GetSession(ctx context.Context, sessionID string) (*SessionResponse, error) {
	if sessionID == "" {
		return nil, trace.BadParameter("missing session id")
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	re, err := h.clt.Get(ctx, h.clt.Endpoint("sessions", sessionID), nil)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "eID hub is unavailable")
	}
	switch re.Code() {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, trace.NotFound("hub session %q not found", sessionID)
	default:
		return nil, trace.ConnectionProblem(nil, "eID hub returned status %v", re.Code())
	}
	var resp SessionResponse
	if err := json.Unmarshal(re.Bytes(), &resp); err != nil {
		return nil, trace.ConnectionProblem(err, "eID hub returned an unparseable session")
	}
	return &resp, nil
}
