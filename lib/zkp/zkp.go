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

// Package zkp verifies zero-knowledge presentations. Two backends share
// one Client interface: an in-process Groth16/BN254 verifier and an HTTP
// client for a separately deployed verifier service. Hashing matches the
// circuit (MiMC over the BN254 scalar field) so challenge and policy
// bindings compare equal on both sides.
package zkp

import (
	"context"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/gravitational/trace"

	"github.com/attestra/attestra/api/types"
)

// Client is the proof verification surface used by the verify service.
//
// VerifyProof reports proof validity as a value: (false, nil) means the
// proof does not verify. Errors are reserved for malformed inputs
// (BadParameter) and backend unavailability (ConnectionProblem).
type Client interface {
	VerifyProof(ctx context.Context, proof *types.Groth16Proof, publicSignals []string) (bool, error)
	// Hash maps an arbitrary string into the field and MiMC-hashes it,
	// returning the decimal field element.
	Hash(ctx context.Context, value string) (string, error)
	// HashPolicy hashes a policy identifier the same way.
	HashPolicy(ctx context.Context, policyID string) (string, error)
}

// HashToField computes the circuit hash of value: the value's bytes are
// reduced into the scalar field and run through MiMC. Deterministic and
// identical to the in-circuit computation.
func HashToField(value string) (string, error) {
	var e fr.Element
	e.SetBigInt(new(big.Int).Mod(
		new(big.Int).SetBytes([]byte(value)),
		fr.Modulus(),
	))
	h := mimc.NewMiMC()
	b := e.Bytes()
	if _, err := h.Write(b[:]); err != nil {
		return "", trace.Wrap(err)
	}
	return new(big.Int).SetBytes(h.Sum(nil)).String(), nil
}

// parseSignal converts a decimal or 0x-prefixed field-element string.
func parseSignal(s string) (fr.Element, error) {
	var e fr.Element
	if _, err := e.SetString(s); err != nil {
		return e, trace.BadParameter("public signal %q is not a field element", s)
	}
	return e, nil
}
