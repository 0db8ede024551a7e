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

package pipeline

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/gravitational/trace"

	"github.com/attestra/attestra/lib/events"
)

// RunKafka consumes the consumer's topic from Kafka until ctx is
// canceled or the consumer crashes. Each partition claim is processed
// sequentially; offsets are marked only after Process returns nil, and a
// crash propagates out of the group session without a mark, so the
// broker redelivers.
func (c *Consumer) RunKafka(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return trace.BadParameter("missing kafka brokers")
	}
	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = false

	group, err := sarama.NewConsumerGroup(brokers, c.cfg.Group, cfg)
	if err != nil {
		return trace.ConnectionProblem(err, "connecting kafka consumer group")
	}
	defer group.Close()

	handler := &groupHandler{consumer: c}
	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
			return trace.Wrap(err)
		}
		if err := ctx.Err(); err != nil {
			return trace.Wrap(err)
		}
		// A nil return from Consume means a rebalance; loop to rejoin.
	}
}

type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		m := events.Message{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       string(msg.Key),
			Value:     msg.Value,
			Headers:   headerMap(msg.Headers),
		}
		if err := h.consumer.Process(session.Context(), m); err != nil {
			// No mark: the offset stays uncommitted and the message is
			// redelivered after the crash.
			return trace.Wrap(err)
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

func headerMap(headers []*sarama.RecordHeader) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[string(h.Key)] = string(h.Value)
	}
	return out
}
