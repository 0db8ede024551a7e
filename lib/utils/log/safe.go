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

import "log/slog"

// SafeField is a scalar-only log attribute. The identity intake code
// logs exclusively through SafeLogger, which accepts SafeField values
// only, so claim and session bodies cannot end up in a log line by
// construction. There is deliberately no constructor taking any.
type SafeField struct {
	key string
	val slog.Value
}

// Str builds a string field.
func Str(key, val string) SafeField {
	return SafeField{key: key, val: slog.StringValue(val)}
}

// Int builds an int field.
func Int(key string, val int) SafeField {
	return SafeField{key: key, val: slog.IntValue(val)}
}

// Bool builds a bool field.
func Bool(key string, val bool) SafeField {
	return SafeField{key: key, val: slog.BoolValue(val)}
}

// SafeLogger emits log lines composed of scalar fields only. All values
// still pass through the redaction handler of the underlying logger.
type SafeLogger struct {
	logger *slog.Logger
}

// NewSafeLogger wraps logger.
func NewSafeLogger(logger *slog.Logger) *SafeLogger {
	if logger == nil {
		logger = DiscardLogger
	}
	return &SafeLogger{logger: logger}
}

// Info logs at info level.
func (s *SafeLogger) Info(msg string, fields ...SafeField) {
	s.logger.LogAttrs(nil, slog.LevelInfo, msg, toAttrs(fields)...) //nolint:staticcheck // nil ctx is fine for slog
}

// Warn logs at warning level.
func (s *SafeLogger) Warn(msg string, fields ...SafeField) {
	s.logger.LogAttrs(nil, slog.LevelWarn, msg, toAttrs(fields)...) //nolint:staticcheck
}

// Error logs at error level.
func (s *SafeLogger) Error(msg string, fields ...SafeField) {
	s.logger.LogAttrs(nil, slog.LevelError, msg, toAttrs(fields)...) //nolint:staticcheck
}

func toAttrs(fields []SafeField) []slog.Attr {
	out := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Attr{Key: f.key, Value: f.val})
	}
	return out
}
