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
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/backend/witness"
	"github.com/gravitational/trace"

	"github.com/attestra/attestra/api/types"
)

// LocalVerifier verifies Groth16 proofs in process against a fixed
// verification key.
type LocalVerifier struct {
	vk groth16.VerifyingKey
}

// NewLocalVerifier loads the gnark-serialized verification key at path.
func NewLocalVerifier(path string) (*LocalVerifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(f); err != nil {
		return nil, trace.BadParameter("verification key at %v is not parseable: %v", path, err)
	}
	return &LocalVerifier{vk: vk}, nil
}

// NewLocalVerifierFromKey wraps an already loaded verification key.
func NewLocalVerifierFromKey(vk groth16.VerifyingKey) *LocalVerifier {
	return &LocalVerifier{vk: vk}
}

// VerifyProof implements Client. The proof triple arrives as affine
// coordinates in decimal strings; an invalid pairing is a value result,
// not an error.
func (v *LocalVerifier) VerifyProof(ctx context.Context, proof *types.Groth16Proof, publicSignals []string) (bool, error) {
	if proof == nil {
		return false, trace.BadParameter("missing proof")
	}
	parsed, err := parseProof(proof)
	if err != nil {
		return false, trace.Wrap(err)
	}
	public, err := publicWitness(publicSignals)
	if err != nil {
		return false, trace.Wrap(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- groth16.Verify(parsed, v.vk, public)
	}()
	select {
	case <-ctx.Done():
		return false, trace.Wrap(ctx.Err())
	case err := <-done:
		return err == nil, nil
	}
}

// Hash implements Client.
func (v *LocalVerifier) Hash(ctx context.Context, value string) (string, error) {
	return HashToField(value)
}

// HashPolicy implements Client.
func (v *LocalVerifier) HashPolicy(ctx context.Context, policyID string) (string, error) {
	return HashToField(policyID)
}

// parseProof converts the wire triple into a curve proof. Coordinates
// are affine; the trailing projective coordinate must be one.
func parseProof(p *types.Groth16Proof) (*groth16bn254.Proof, error) {
	if p.PiA[2] != "1" || p.PiC[2] != "1" {
		return nil, trace.BadParameter("proof points must be affine")
	}
	if p.PiB[2][0] != "1" || p.PiB[2][1] != "0" {
		return nil, trace.BadParameter("proof points must be affine")
	}

	var out groth16bn254.Proof
	var err error
	if out.Ar, err = g1Point(p.PiA[0], p.PiA[1]); err != nil {
		return nil, trace.Wrap(err)
	}
	if out.Bs, err = g2Point(p.PiB[0], p.PiB[1]); err != nil {
		return nil, trace.Wrap(err)
	}
	if out.Krs, err = g1Point(p.PiC[0], p.PiC[1]); err != nil {
		return nil, trace.Wrap(err)
	}
	return &out, nil
}

func g1Point(x, y string) (bn254.G1Affine, error) {
	var p bn254.G1Affine
	if _, err := p.X.SetString(x); err != nil {
		return p, trace.BadParameter("proof coordinate is not a field element")
	}
	if _, err := p.Y.SetString(y); err != nil {
		return p, trace.BadParameter("proof coordinate is not a field element")
	}
	if !p.IsOnCurve() || !p.IsInSubGroup() {
		return p, trace.BadParameter("proof point is not on the curve")
	}
	return p, nil
}

func g2Point(x, y [2]string) (bn254.G2Affine, error) {
	var p bn254.G2Affine
	var err error
	if p.X.A0, err = fpElement(x[0]); err != nil {
		return p, trace.Wrap(err)
	}
	if p.X.A1, err = fpElement(x[1]); err != nil {
		return p, trace.Wrap(err)
	}
	if p.Y.A0, err = fpElement(y[0]); err != nil {
		return p, trace.Wrap(err)
	}
	if p.Y.A1, err = fpElement(y[1]); err != nil {
		return p, trace.Wrap(err)
	}
	if !p.IsOnCurve() || !p.IsInSubGroup() {
		return p, trace.BadParameter("proof point is not on the curve")
	}
	return p, nil
}

func fpElement(s string) (fp.Element, error) {
	var e fp.Element
	if _, err := e.SetString(s); err != nil {
		return e, trace.BadParameter("proof coordinate is not a field element")
	}
	return e, nil
}

// publicWitness builds the gnark public witness from signal strings in
// their canonical order.
func publicWitness(signals []string) (witness.Witness, error) {
	w, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	values := make(chan any, len(signals))
	for _, s := range signals {
		e, err := parseSignal(s)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		values <- e
	}
	close(values)
	if err := w.Fill(len(signals), 0, values); err != nil {
		return nil, trace.Wrap(err)
	}
	return w, nil
}
