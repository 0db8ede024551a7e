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
	"encoding/hex"

	"github.com/gravitational/trace"
)

// IsURLSafeID reports whether s consists solely of [A-Za-z0-9_-] and is
// within the length bound. Empty strings are not URL-safe IDs.
func IsURLSafeID(s string, maxLen int) bool {
	if s == "" || len(s) > maxLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

// CheckHexNonce validates that nonce is hex-encoded and decodes to at
// least minBytes bytes.
func CheckHexNonce(nonce string, minBytes int) error {
	raw, err := hex.DecodeString(nonce)
	if err != nil {
		return trace.BadParameter("nonce is not hex encoded")
	}
	if len(raw) < minBytes {
		return trace.BadParameter("nonce is %d bytes, need at least %d", len(raw), minBytes)
	}
	return nil
}
