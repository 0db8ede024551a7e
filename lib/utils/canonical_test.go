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

package utils

import (
	"strings"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONSortsKeys(t *testing.T) {
	out, err := CanonicalJSON(map[string]any{
		"zeta":  1,
		"alpha": "x",
		"mid":   map[string]any{"b": 2, "a": 1},
	})
	require.NoError(t, err)
	require.Equal(t, `{"alpha":"x","mid":{"a":1,"b":2},"zeta":1}`, string(out))
}

func TestCanonicalJSONIgnoresFieldOrder(t *testing.T) {
	type ab struct {
		A string `json:"a"`
		B int    `json:"b"`
	}
	type ba struct {
		B int    `json:"b"`
		A string `json:"a"`
	}
	first, err := CanonicalJSON(ab{A: "v", B: 7})
	require.NoError(t, err)
	second, err := CanonicalJSON(ba{B: 7, A: "v"})
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestCanonicalJSONPreservesLargeNumbers(t *testing.T) {
	// Block numbers overflow float64 precision; UseNumber keeps them
	// intact through the round trip.
	out, err := CanonicalJSON(map[string]any{"block": uint64(9007199254740993)})
	require.NoError(t, err)
	require.Equal(t, `{"block":9007199254740993}`, string(out))
}

func TestIsURLSafeID(t *testing.T) {
	require.True(t, IsURLSafeID("abc-DEF_09", 64))
	require.False(t, IsURLSafeID("", 64))
	require.False(t, IsURLSafeID("with space", 64))
	require.False(t, IsURLSafeID("semi;colon", 64))
	require.False(t, IsURLSafeID(strings.Repeat("a", 65), 64))
	require.True(t, IsURLSafeID(strings.Repeat("a", 64), 64))
}

func TestCheckHexNonce(t *testing.T) {
	require.NoError(t, CheckHexNonce(strings.Repeat("ab", 32), 32))
	require.NoError(t, CheckHexNonce(strings.Repeat("ab", 33), 32))

	err := CheckHexNonce(strings.Repeat("ab", 31), 32)
	require.True(t, trace.IsBadParameter(err))

	err = CheckHexNonce(strings.Repeat("zz", 32), 32)
	require.True(t, trace.IsBadParameter(err))
}
