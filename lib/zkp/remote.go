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

package zkp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"

	"github.com/attestra/attestra/api/types"
	"github.com/attestra/attestra/lib/defaults"
)

// RemoteVerifier calls a separately deployed verifier service. Every
// call carries a bounded deadline; transport failures and timeouts
// surface as ConnectionProblem so the caller can report the dependency
// as unavailable instead of rejecting the proof.
type RemoteVerifier struct {
	clt     *roundtrip.Client
	timeout time.Duration
}

// NewRemoteVerifier creates a client for the verifier at addr.
func NewRemoteVerifier(addr string, timeout time.Duration) (*RemoteVerifier, error) {
	if addr == "" {
		return nil, trace.BadParameter("missing verifier address")
	}
	if timeout <= 0 {
		timeout = defaults.ZKPTimeout
	}
	clt, err := roundtrip.NewClient(addr, "v1")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &RemoteVerifier{clt: clt, timeout: timeout}, nil
}

type verifyProofRequest struct {
	Proof         *types.Groth16Proof `json:"proof"`
	PublicSignals []string            `json:"publicSignals"`
}

type verifyProofResponse struct {
	Valid bool `json:"valid"`
}

type hashRequest struct {
	Value string `json:"value"`
}

type hashResponse struct {
	Hash string `json:"hash"`
}

// VerifyProof implements Client.
func (r *RemoteVerifier) VerifyProof(ctx context.Context, proof *types.Groth16Proof, publicSignals []string) (bool, error) {
	if proof == nil {
		return false, trace.BadParameter("missing proof")
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	re, err := r.clt.PostJSON(ctx, r.clt.Endpoint("proofs", "verify"), verifyProofRequest{
		Proof:         proof,
		PublicSignals: publicSignals,
	})
	if err != nil {
		return false, trace.ConnectionProblem(err, "verifier service is unavailable")
	}
	switch re.Code() {
	case http.StatusOK:
	case http.StatusBadRequest:
		return false, trace.BadParameter("verifier rejected the proof payload")
	default:
		return false, trace.ConnectionProblem(nil, "verifier service returned status %v", re.Code())
	}
	var resp verifyProofResponse
	if err := json.Unmarshal(re.Bytes(), &resp); err != nil {
		return false, trace.ConnectionProblem(err, "verifier service returned an unparseable response")
	}
	return resp.Valid, nil
}

// Hash implements Client.
func (r *RemoteVerifier) Hash(ctx context.Context, value string) (string, error) {
	return r.hash(ctx, "hash", value)
}

// HashPolicy implements Client.
func (r *RemoteVerifier) HashPolicy(ctx context.Context, policyID string) (string, error) {
	return r.hash(ctx, "hash-policy", policyID)
}

func (r *RemoteVerifier) hash(ctx context.Context, endpoint, value string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	re, err := r.clt.PostJSON(ctx, r.clt.Endpoint(endpoint), hashRequest{Value: value})
	if err != nil {
		return "", trace.ConnectionProblem(err, "verifier service is unavailable")
	}
	if re.Code() != http.StatusOK {
		return "", trace.ConnectionProblem(nil, "verifier service returned status %v", re.Code())
	}
	var resp hashResponse
	if err := json.Unmarshal(re.Bytes(), &resp); err != nil {
		return "", trace.ConnectionProblem(err, "verifier service returned an unparseable response")
	}
	return resp.Hash, nil
}
