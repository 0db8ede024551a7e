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
	"time"

	"github.com/attestra/attestra/api/types"
	"github.com/attestra/attestra/lib/defaults"
	"github.com/attestra/attestra/lib/utils"
)

// dateLayout is the strict claim date format. Parsing is
// culture-invariant: exactly four-digit year, two-digit month and day.
const dateLayout = "2006-01-02"

// Mapped is the privacy-minimized mapping result. It deliberately has
// no field for the date of birth: the predicate is computed inside Map
// and the input is dropped.
type Mapped struct {
	ProviderID     string
	SubjectID      string
	IsAdult        bool
	VerifiedAt     time.Time
	AssuranceLevel string
	ExpiresAt      *time.Time
}

// MapError is a claims mapping failure with its stable reason code.
type MapError struct {
	Code    string
	Message string
}

func (e *MapError) Error() string {
	return e.Code + ": " + e.Message
}

// ClaimsMapper converts a provider session response into the minimal
// attestation inputs.
type ClaimsMapper interface {
	// Map validates the claims and computes the policy predicate.
	// now supplies "today" for the age computation.
	Map(providerID string, resp *SessionResponse, now time.Time) (*Mapped, *MapError)
}

// AgeMapper is the claims mapper for the age_over_18 policy.
type AgeMapper struct{}

// Map implements ClaimsMapper.
func (AgeMapper) Map(providerID string, resp *SessionResponse, now time.Time) (*Mapped, *MapError) {
	if resp == nil || resp.Claims == nil {
		return nil, &MapError{Code: types.ReasonMissingClaims, Message: "session response has no claims"}
	}
	claims := resp.Claims

	if claims.DateOfBirth == "" {
		return nil, &MapError{Code: types.ReasonMissingAttribute, Message: "dateOfBirth attribute is required"}
	}
	dob, err := time.Parse(dateLayout, claims.DateOfBirth)
	if err != nil {
		return nil, &MapError{Code: types.ReasonInvalidDateFormat, Message: "dateOfBirth must be YYYY-MM-DD"}
	}

	if claims.Subject.ID == "" {
		return nil, &MapError{Code: types.ReasonMissingSubjectID, Message: "subject.id is required"}
	}
	if !utils.IsURLSafeID(claims.Subject.ID, types.MaxSubjectIDLength) {
		return nil, &MapError{Code: types.ReasonInvalidSubjectID, Message: "subject.id must be URL-safe and at most 256 characters"}
	}

	assurance := claims.AssuranceLevel
	switch assurance {
	case types.AssuranceSubstantial, types.AssuranceHigh:
	default:
		assurance = types.AssuranceUnknown
	}

	return &Mapped{
		ProviderID:     providerID,
		SubjectID:      claims.Subject.ID,
		IsAdult:        ageAt(dob, now) >= defaults.AdultAge,
		VerifiedAt:     now.UTC(),
		AssuranceLevel: assurance,
		ExpiresAt:      claims.ExpiresAt,
	}, nil
}

// ageAt computes full years between dob and today, counting a year only
// once the birthday has been reached.
func ageAt(dob, today time.Time) int {
	age := today.Year() - dob.Year()
	if today.Month() < dob.Month() ||
		(today.Month() == dob.Month() && today.Day() < dob.Day()) {
		age--
	}
	return age
}
