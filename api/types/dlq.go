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

package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// DlqSchemaVersion is the current DlqEnvelope schema version.
const DlqSchemaVersion = "1.0"

// DlqErrorTypeDeserialization marks payloads that could not be decoded
// and were quarantined without retries.
const DlqErrorTypeDeserialization = "DeserializationException"

// DlqEnvelope wraps a message that exhausted its retries (or failed to
// deserialize) before being published to the dead-letter topic. The
// original payload is carried base64-encoded; headers are sanitized
// before inclusion.
type DlqEnvelope struct {
	SchemaVersion         string            `json:"schemaVersion"`
	OriginalTopic         string            `json:"originalTopic"`
	OriginalPartition     int32             `json:"originalPartition"`
	OriginalOffset        int64             `json:"originalOffset"`
	ConsumerGroup         string            `json:"consumerGroup"`
	OriginalKey           string            `json:"originalKey,omitempty"`
	SanitizedHeaders      map[string]string `json:"sanitizedHeaders,omitempty"`
	OriginalPayloadBase64 string            `json:"originalPayloadBase64"`
	Error                 string            `json:"error"`
	ErrorType             string            `json:"errorType"`
	TruncatedStackTrace   string            `json:"truncatedStackTrace,omitempty"`
	FailedAtUTC           time.Time         `json:"failedAtUtc"`
	AttemptCount          int               `json:"attemptCount"`
	DlqMessageID          string            `json:"dlqMessageId"`
}

// DeriveDlqMessageID computes the deterministic dead-letter message id
// for a consumed record.
func DeriveDlqMessageID(consumerGroup, topic string, partition int32, offset int64) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d|%d", consumerGroup, topic, partition, offset))
	return hex.EncodeToString(sum[:])
}
