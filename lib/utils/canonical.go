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

// Package utils holds small helpers shared across lib packages.
package utils

import (
	"bytes"
	"encoding/json"

	"github.com/gravitational/trace"
)

// CanonicalJSON serializes v as canonical JSON: UTF-8, object keys in
// lexicographic order, no insignificant whitespace. The output is
// byte-for-byte reproducible for equal inputs, which makes it suitable as
// a signing payload.
//
// Fields to be excluded from a signature (the signature itself) must be
// cleared by the caller before serializing.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	// Round-trip through an untyped value: encoding/json sorts map keys
	// and emits compact output, which yields the canonical form
	// regardless of struct field order.
	var untyped any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&untyped); err != nil {
		return nil, trace.Wrap(err)
	}
	out, err := json.Marshal(untyped)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return out, nil
}
