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

package policy

import (
	"strconv"
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/gravitational/trace"
)

// CheckRange reports whether version satisfies versionRange. Supported
// range forms:
//
//	^X.Y.Z   any version with the same major, at least X.Y.Z
//	X.x      any version with major X
//	X.Y.x    any version with major X and minor Y
//	X.Y.Z    exact match
//
// Anything else is an error; an unparseable range must reject rather
// than default-allow.
func CheckRange(version, versionRange string) (bool, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, trace.BadParameter("version %q is not semver: %v", version, err)
	}
	rng := strings.TrimSpace(versionRange)
	if rng == "" {
		return false, trace.BadParameter("empty version range")
	}

	switch {
	case strings.HasPrefix(rng, "^"):
		base, err := semver.NewVersion(rng[1:])
		if err != nil {
			return false, trace.BadParameter("range %q is not semver: %v", versionRange, err)
		}
		return v.Major == base.Major && !v.LessThan(*base), nil

	case strings.HasSuffix(rng, ".x"):
		parts := strings.Split(strings.TrimSuffix(rng, ".x"), ".")
		switch len(parts) {
		case 1: // X.x
			major, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil {
				return false, trace.BadParameter("range %q has a non-numeric major", versionRange)
			}
			return v.Major == major, nil
		case 2: // X.Y.x
			major, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil {
				return false, trace.BadParameter("range %q has a non-numeric major", versionRange)
			}
			minor, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return false, trace.BadParameter("range %q has a non-numeric minor", versionRange)
			}
			return v.Major == major && v.Minor == minor, nil
		default:
			return false, trace.BadParameter("range %q is not a supported wildcard", versionRange)
		}

	default:
		exact, err := semver.NewVersion(rng)
		if err != nil {
			return false, trace.BadParameter("range %q is not semver: %v", versionRange, err)
		}
		return v.Compare(*exact) == 0, nil
	}
}
