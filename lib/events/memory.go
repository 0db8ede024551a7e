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

package events

import (
	"context"
	"sync"

	"github.com/gravitational/trace"
)

// MemoryBus is a single-process bus with one partition per topic. It
// backs tests and the standalone deployment mode; the pipeline consumes
// from it through the same contract it uses with Kafka.
type MemoryBus struct {
	mu      sync.Mutex
	topics  map[string][]Message
	waiters map[string][]chan struct{}

	// FailTopics makes Publish fail for the listed topics. Tests use it
	// to exercise the DLQ-publish-failure crash path.
	FailTopics map[string]bool
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		topics:  make(map[string][]Message),
		waiters: make(map[string][]chan struct{}),
	}
}

// Publish implements Publisher.
func (b *MemoryBus) Publish(ctx context.Context, topic, key string, payload any) error {
	value, err := Encode(payload)
	if err != nil {
		return trace.Wrap(err)
	}
	return b.PublishRaw(ctx, topic, key, value, nil)
}

// PublishRaw appends a pre-serialized message.
func (b *MemoryBus) PublishRaw(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return trace.Wrap(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailTopics[topic] {
		return trace.ConnectionProblem(nil, "publishing to %v", topic)
	}
	b.topics[topic] = append(b.topics[topic], Message{
		Topic:   topic,
		Offset:  int64(len(b.topics[topic])),
		Key:     key,
		Value:   value,
		Headers: headers,
	})
	for _, ch := range b.waiters[topic] {
		close(ch)
	}
	b.waiters[topic] = nil
	return nil
}

// Messages returns a copy of everything published on topic.
func (b *MemoryBus) Messages(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.topics[topic]...)
}

// Next blocks until a message at offset exists on topic, then returns
// it. Used by the pipeline's memory driver.
func (b *MemoryBus) Next(ctx context.Context, topic string, offset int64) (Message, error) {
	for {
		b.mu.Lock()
		if int64(len(b.topics[topic])) > offset {
			msg := b.topics[topic][offset]
			b.mu.Unlock()
			return msg, nil
		}
		ch := make(chan struct{})
		b.waiters[topic] = append(b.waiters[topic], ch)
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, trace.Wrap(ctx.Err())
		case <-ch:
		}
	}
}
