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

	"github.com/IBM/sarama"
	"github.com/gravitational/trace"
)

// KafkaPublisher publishes events through a synchronous Kafka producer.
// Synchronous delivery matters here: issuance must not report success
// before its event is on the broker.
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

// NewKafkaPublisher connects a sync producer to brokers.
func NewKafkaPublisher(brokers []string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, trace.BadParameter("missing kafka brokers")
	}
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "connecting kafka producer")
	}
	return &KafkaPublisher{producer: producer}, nil
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, payload any) error {
	if err := ctx.Err(); err != nil {
		return trace.Wrap(err)
	}
	value, err := Encode(payload)
	if err != nil {
		return trace.Wrap(err)
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return trace.ConnectionProblem(err, "publishing to %v", topic)
	}
	return nil
}

// Close releases the producer.
func (p *KafkaPublisher) Close() error {
	return trace.Wrap(p.producer.Close())
}
