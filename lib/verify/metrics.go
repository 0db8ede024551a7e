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

package verify

import (
	"github.com/prometheus/client_golang/prometheus"
)

var verificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "attestra_verifications_total",
		Help: "Presentation verifications by type and outcome.",
	},
	[]string{"presentation_type", "outcome"},
)

func init() {
	prometheus.MustRegister(verificationsTotal)
}

func recordOutcome(presentationType, outcome string) {
	verificationsTotal.WithLabelValues(presentationType, outcome).Inc()
}
