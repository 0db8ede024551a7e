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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/attestra/attestra/api/types"
)

func succeededResponse(claims *Claims) *SessionResponse {
	return &SessionResponse{Status: types.SessionStatusSucceeded, Claims: claims}
}

func TestAgeBoundary(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		dob     string
		isAdult bool
	}{
		{name: "birthday today", dob: "2008-03-15", isAdult: true},
		{name: "birthday tomorrow", dob: "2008-03-16", isAdult: false},
		{name: "well over", dob: "1980-01-01", isAdult: true},
		{name: "well under", dob: "2020-06-01", isAdult: false},
		{name: "birthday yesterday", dob: "2008-03-14", isAdult: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped, mapErr := AgeMapper{}.Map("eid-hub", succeededResponse(&Claims{
				Subject:     Subject{ID: "subject-1"},
				DateOfBirth: tt.dob,
			}), now)
			require.Nil(t, mapErr)
			require.Equal(t, tt.isAdult, mapped.IsAdult)
		})
	}
}

func TestStrictDateFormat(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	for _, dob := range []string{"15-03-2008", "2008/03/15", "2008-3-15", "March 15 2008", "20080315"} {
		t.Run(dob, func(t *testing.T) {
			_, mapErr := AgeMapper{}.Map("eid-hub", succeededResponse(&Claims{
				Subject:     Subject{ID: "subject-1"},
				DateOfBirth: dob,
			}), now)
			require.NotNil(t, mapErr)
			require.Equal(t, types.ReasonInvalidDateFormat, mapErr.Code)
		})
	}
}

func TestMapperRejections(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name   string
		resp   *SessionResponse
		reason string
	}{
		{
			name:   "no claims",
			resp:   &SessionResponse{Status: types.SessionStatusSucceeded},
			reason: types.ReasonMissingClaims,
		},
		{
			name:   "missing date of birth",
			resp:   succeededResponse(&Claims{Subject: Subject{ID: "subject-1"}}),
			reason: types.ReasonMissingAttribute,
		},
		{
			name:   "missing subject",
			resp:   succeededResponse(&Claims{DateOfBirth: "2000-01-01"}),
			reason: types.ReasonMissingSubjectID,
		},
		{
			name: "subject with unsafe characters",
			resp: succeededResponse(&Claims{
				Subject:     Subject{ID: "subject/../1"},
				DateOfBirth: "2000-01-01",
			}),
			reason: types.ReasonInvalidSubjectID,
		},
		{
			name: "subject too long",
			resp: succeededResponse(&Claims{
				Subject:     Subject{ID: strings.Repeat("a", types.MaxSubjectIDLength+1)},
				DateOfBirth: "2000-01-01",
			}),
			reason: types.ReasonInvalidSubjectID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mapErr := AgeMapper{}.Map("eid-hub", tt.resp, now)
			require.NotNil(t, mapErr)
			require.Equal(t, tt.reason, mapErr.Code)
		})
	}
}

func TestAssuranceNormalization(t *testing.T) {
	now := time.Now().UTC()

	for input, want := range map[string]string{
		"substantial": types.AssuranceSubstantial,
		"high":        types.AssuranceHigh,
		"":            types.AssuranceUnknown,
		"gold":        types.AssuranceUnknown,
	} {
		mapped, mapErr := AgeMapper{}.Map("eid-hub", succeededResponse(&Claims{
			Subject:        Subject{ID: "subject-1"},
			DateOfBirth:    "2000-01-01",
			AssuranceLevel: input,
		}), now)
		require.Nil(t, mapErr)
		require.Equal(t, want, mapped.AssuranceLevel)
	}
}
