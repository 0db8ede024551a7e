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

package log

import (
	"context"
	"log/slog"
	"regexp"
)

// Redacted replaces values that must never reach a sink.
const Redacted = "[REDACTED]"

var (
	// longDigitRun matches 10 or more consecutive digits, the shape of
	// national identifiers in every jurisdiction we federate with.
	longDigitRun = regexp.MustCompile(`\d{10,}`)

	// sensitiveKey matches attribute keys whose values are dropped
	// wholesale rather than masked.
	sensitiveKey = regexp.MustCompile(`(?i)^(nationalId|dateOfBirth)$`)
)

// RedactingHandler is a slog.Handler that masks PII-shaped content
// before delegating to the wrapped handler. It masks any run of ten or
// more digits inside string values and the message itself, and replaces
// the values of nationalId/dateOfBirth keyed attributes entirely.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler wraps h with PII redaction.
func NewRedactingHandler(h slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: h}
}

func (r *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return r.inner.Enabled(ctx, level)
}

func (r *RedactingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, redactString(rec.Message), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return r.inner.Handle(ctx, out)
}

func (r *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		redacted = append(redacted, redactAttr(a))
	}
	return &RedactingHandler{inner: r.inner.WithAttrs(redacted)}
}

func (r *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: r.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if sensitiveKey.MatchString(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, redactString(a.Value.String()))
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]any, 0, len(attrs))
		for _, ga := range attrs {
			out = append(out, redactAttr(ga))
		}
		return slog.Group(a.Key, out...)
	default:
		return a
	}
}

func redactString(s string) string {
	return longDigitRun.ReplaceAllString(s, Redacted)
}
