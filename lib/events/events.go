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

// Package events carries platform events between services. Producers
// publish JSON payloads keyed by account reference so downstream
// consumers observe per-account ordering.
package events

import (
	"context"
	"encoding/json"

	"github.com/gravitational/trace"
)

// Message is one record on the bus.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       string
	Value     []byte
	Headers   map[string]string
}

// Publisher publishes JSON payloads to the bus.
type Publisher interface {
	// Publish serializes payload and publishes it on topic. The key
	// selects the partition, so events sharing a key stay ordered.
	Publish(ctx context.Context, topic, key string, payload any) error
}

// Encode serializes a payload the way every publisher does.
func Encode(payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data, nil
}
