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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/attestra/attestra/api/types"
)

// sumCircuit mirrors the shape of a presentation circuit: a block of
// public signals constrained against a private witness.
type sumCircuit struct {
	Signals [7]frontend.Variable `gnark:",public"`
	Secret  frontend.Variable
}

func (c *sumCircuit) Define(api frontend.API) error {
	sum := frontend.Variable(0)
	for _, s := range c.Signals {
		sum = api.Add(sum, s)
	}
	api.AssertIsEqual(sum, c.Secret)
	return nil
}

// proveFixture compiles the circuit once and returns a wire-format proof
// plus a verifier loaded from a serialized verification key.
func proveFixture(t *testing.T) (*LocalVerifier, *types.Groth16Proof, []string) {
	t.Helper()

	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &sumCircuit{})
	require.NoError(t, err)
	pk, vk, err := groth16.Setup(ccs)
	require.NoError(t, err)

	assignment := &sumCircuit{
		Signals: [7]frontend.Variable{1, 2, 3, 4, 5, 6, 7},
		Secret:  28,
	}
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	require.NoError(t, err)
	proof, err := groth16.Prove(ccs, pk, witness)
	require.NoError(t, err)

	// Round-trip the verification key through its file form.
	path := filepath.Join(t.TempDir(), "vk.bin")
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = vk.WriteTo(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	verifier, err := NewLocalVerifier(path)
	require.NoError(t, err)

	p := proof.(*groth16bn254.Proof)
	wire := &types.Groth16Proof{
		PiA: [3]string{p.Ar.X.String(), p.Ar.Y.String(), "1"},
		PiB: [3][2]string{
			{p.Bs.X.A0.String(), p.Bs.X.A1.String()},
			{p.Bs.Y.A0.String(), p.Bs.Y.A1.String()},
			{"1", "0"},
		},
		PiC: [3]string{p.Krs.X.String(), p.Krs.Y.String(), "1"},
	}
	signals := []string{"1", "2", "3", "4", "5", "6", "7"}
	return verifier, wire, signals
}

func TestLocalVerifyRoundTrip(t *testing.T) {
	verifier, proof, signals := proveFixture(t)
	ctx := context.Background()

	valid, err := verifier.VerifyProof(ctx, proof, signals)
	require.NoError(t, err)
	require.True(t, valid)

	// A tampered public signal fails verification as a value, not an
	// error.
	tampered := append([]string(nil), signals...)
	tampered[0] = "9"
	valid, err = verifier.VerifyProof(ctx, proof, tampered)
	require.NoError(t, err)
	require.False(t, valid)
}

func TestLocalVerifyMalformedProof(t *testing.T) {
	verifier, proof, signals := proveFixture(t)
	ctx := context.Background()

	t.Run("nil proof", func(t *testing.T) {
		_, err := verifier.VerifyProof(ctx, nil, signals)
		require.True(t, trace.IsBadParameter(err))
	})

	t.Run("non-affine point", func(t *testing.T) {
		bad := *proof
		bad.PiA[2] = "2"
		_, err := verifier.VerifyProof(ctx, &bad, signals)
		require.True(t, trace.IsBadParameter(err))
	})

	t.Run("coordinate not a number", func(t *testing.T) {
		bad := *proof
		bad.PiC[0] = "bogus"
		_, err := verifier.VerifyProof(ctx, &bad, signals)
		require.True(t, trace.IsBadParameter(err))
	})

	t.Run("point off curve", func(t *testing.T) {
		bad := *proof
		bad.PiA[0] = "12345"
		bad.PiA[1] = "67890"
		_, err := verifier.VerifyProof(ctx, &bad, signals)
		require.True(t, trace.IsBadParameter(err))
	})

	t.Run("signal not a field element", func(t *testing.T) {
		bad := append([]string(nil), signals...)
		bad[3] = "not-a-number"
		_, err := verifier.VerifyProof(ctx, proof, bad)
		require.True(t, trace.IsBadParameter(err))
	})
}

func TestHashDeterminism(t *testing.T) {
	a, err := HashToField("challenge-1")
	require.NoError(t, err)
	b, err := HashToField("challenge-1")
	require.NoError(t, err)
	c, err := HashToField("challenge-2")
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.NotEmpty(t, a)

	// Long inputs reduce into the field instead of failing.
	long, err := HashToField("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	require.NoError(t, err)
	require.NotEmpty(t, long)
}

func TestRemoteVerifier(t *testing.T) {
	_, proof, signals := proveFixture(t)
	ctx := context.Background()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/proofs/verify":
			w.Write([]byte(`{"valid": true}`))
		case "/v1/hash", "/v1/hash-policy":
			w.Write([]byte(`{"hash": "42"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	remote, err := NewRemoteVerifier(srv.URL, time.Second)
	require.NoError(t, err)

	valid, err := remote.VerifyProof(ctx, proof, signals)
	require.NoError(t, err)
	require.True(t, valid)
	require.Equal(t, "/v1/proofs/verify", gotPath)

	hash, err := remote.Hash(ctx, "challenge")
	require.NoError(t, err)
	require.Equal(t, "42", hash)
}

func TestRemoteVerifierUnavailable(t *testing.T) {
	_, proof, signals := proveFixture(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	remote, err := NewRemoteVerifier(srv.URL, 100*time.Millisecond)
	require.NoError(t, err)

	_, err = remote.VerifyProof(context.Background(), proof, signals)
	require.True(t, trace.IsConnectionProblem(err))
}
