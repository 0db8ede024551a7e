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
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/attestra/attestra/api/types"
	"github.com/attestra/attestra/lib/events"
)

type testPayload struct {
	Value string `json:"value"`
}

func decodeTestPayload(raw []byte) (any, error) {
	var p testPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func newTestConsumer(t *testing.T, bus *events.MemoryBus, maxAttempts int, handle HandleFunc) *Consumer {
	t.Helper()
	c, err := NewConsumer(ConsumerConfig{
		Topic:       "identity.verified",
		Group:       "issuance",
		Decode:      decodeTestPayload,
		Handle:      handle,
		DLQ:         bus,
		MaxAttempts: maxAttempts,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
		JitterPct:   0,
	})
	require.NoError(t, err)
	return c
}

func publish(t *testing.T, bus *events.MemoryBus, topic string, payload any, headers map[string]string) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, bus.PublishRaw(context.Background(), topic, "acct-1", raw, headers))
}

func TestHandlerSuccessCommits(t *testing.T) {
	bus := events.NewMemoryBus()
	var got []string
	c := newTestConsumer(t, bus, 3, func(ctx context.Context, msg any) error {
		got = append(got, msg.(*testPayload).Value)
		return nil
	})
	publish(t, bus, "identity.verified", testPayload{Value: "hello"}, nil)

	err := c.Process(context.Background(), bus.Messages("identity.verified")[0])
	require.NoError(t, err)
	require.Equal(t, []string{"hello"}, got)
	require.Empty(t, bus.Messages("identity.verified.DLQ"))
	require.Equal(t, StateIdle, c.State())
}

func TestRetriesThenSucceeds(t *testing.T) {
	bus := events.NewMemoryBus()
	attempts := 0
	c := newTestConsumer(t, bus, 5, func(ctx context.Context, msg any) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	publish(t, bus, "identity.verified", testPayload{Value: "x"}, nil)

	err := c.Process(context.Background(), bus.Messages("identity.verified")[0])
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.Empty(t, bus.Messages("identity.verified.DLQ"))
}

func TestExhaustedRetriesQuarantine(t *testing.T) {
	bus := events.NewMemoryBus()
	c := newTestConsumer(t, bus, 3, func(ctx context.Context, msg any) error {
		return errors.New("boom")
	})
	headers := map[string]string{
		"Authorization": "Bearer secret-token",
		"X-Api-Key":     "k",
		"trace-id":      "abc",
	}
	publish(t, bus, "identity.verified", testPayload{Value: "x"}, headers)
	original := bus.Messages("identity.verified")[0]

	err := c.Process(context.Background(), original)
	require.NoError(t, err)

	dlq := bus.Messages("identity.verified.DLQ")
	require.Len(t, dlq, 1)

	var envelope types.DlqEnvelope
	require.NoError(t, json.Unmarshal(dlq[0].Value, &envelope))
	require.Equal(t, types.DlqSchemaVersion, envelope.SchemaVersion)
	require.Equal(t, "identity.verified", envelope.OriginalTopic)
	require.Equal(t, "issuance", envelope.ConsumerGroup)
	require.Equal(t, 3, envelope.AttemptCount)
	require.Equal(t, "boom", envelope.Error)
	require.Equal(t, "HandlerError", envelope.ErrorType)
	require.Equal(t,
		types.DeriveDlqMessageID("issuance", "identity.verified", original.Partition, original.Offset),
		envelope.DlqMessageID)

	// Payload survives base64 round trip.
	raw, err := base64.StdEncoding.DecodeString(envelope.OriginalPayloadBase64)
	require.NoError(t, err)
	require.Equal(t, original.Value, raw)

	// Secret-bearing headers are redacted, the rest pass through.
	require.Equal(t, "[REDACTED]", envelope.SanitizedHeaders["Authorization"])
	require.Equal(t, "[REDACTED]", envelope.SanitizedHeaders["X-Api-Key"])
	require.Equal(t, "abc", envelope.SanitizedHeaders["trace-id"])
}

func TestDeserializeFailureGoesStraightToDLQ(t *testing.T) {
	bus := events.NewMemoryBus()
	handled := false
	c := newTestConsumer(t, bus, 3, func(ctx context.Context, msg any) error {
		handled = true
		return nil
	})
	require.NoError(t, bus.PublishRaw(context.Background(), "identity.verified", "", []byte("{broken"), nil))

	err := c.Process(context.Background(), bus.Messages("identity.verified")[0])
	require.NoError(t, err)
	require.False(t, handled)

	dlq := bus.Messages("identity.verified.DLQ")
	require.Len(t, dlq, 1)
	var envelope types.DlqEnvelope
	require.NoError(t, json.Unmarshal(dlq[0].Value, &envelope))
	require.Equal(t, types.DlqErrorTypeDeserialization, envelope.ErrorType)
}

func TestDLQPublishFailureCrashes(t *testing.T) {
	bus := events.NewMemoryBus()
	bus.FailTopics = map[string]bool{"identity.verified.DLQ": true}
	c := newTestConsumer(t, bus, 2, func(ctx context.Context, msg any) error {
		return errors.New("boom")
	})
	publish(t, bus, "identity.verified", testPayload{Value: "x"}, nil)

	err := c.Process(context.Background(), bus.Messages("identity.verified")[0])
	require.Error(t, err)
	require.Equal(t, StateCrashed, c.State())
}

func TestDisabledDLQCrashesInsteadOfQuarantine(t *testing.T) {
	bus := events.NewMemoryBus()
	c, err := NewConsumer(ConsumerConfig{
		Topic:  "identity.verified",
		Group:  "issuance",
		Decode: decodeTestPayload,
		Handle: func(ctx context.Context, msg any) error {
			return errors.New("boom")
		},
		DisableDLQ:  true,
		MaxAttempts: 2,
		BackoffBase: time.Millisecond,
		BackoffMax:  time.Millisecond,
		JitterPct:   0,
	})
	require.NoError(t, err)
	publish(t, bus, "identity.verified", testPayload{Value: "x"}, nil)

	err = c.Process(context.Background(), bus.Messages("identity.verified")[0])
	require.Error(t, err)
	require.Equal(t, StateCrashed, c.State())
	require.Empty(t, bus.Messages("identity.verified.DLQ"))
}

func TestCancellationDuringBackoff(t *testing.T) {
	bus := events.NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	c, err := NewConsumer(ConsumerConfig{
		Topic:       "identity.verified",
		Group:       "issuance",
		Decode:      decodeTestPayload,
		Handle: func(ctx context.Context, msg any) error {
			cancel()
			return errors.New("fail into backoff")
		},
		DLQ:         bus,
		MaxAttempts: 5,
		BackoffBase: time.Hour, // only a canceled context gets us out
		BackoffMax:  time.Hour,
		JitterPct:   0,
	})
	require.NoError(t, err)
	publish(t, bus, "identity.verified", testPayload{Value: "x"}, nil)

	err = c.Process(ctx, bus.Messages("identity.verified")[0])
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, bus.Messages("identity.verified.DLQ"))
}

func TestRunMemoryProcessesInOrder(t *testing.T) {
	bus := events.NewMemoryBus()
	var got []string
	done := make(chan struct{})
	c := newTestConsumer(t, bus, 1, func(ctx context.Context, msg any) error {
		got = append(got, msg.(*testPayload).Value)
		if len(got) == 3 {
			close(done)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.RunMemory(ctx, bus) }()

	for _, v := range []string{"a", "b", "c"} {
		publish(t, bus, "identity.verified", testPayload{Value: v}, nil)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for messages")
	}
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestBackoffCapsAtMax(t *testing.T) {
	c := newTestConsumer(t, events.NewMemoryBus(), 5, func(context.Context, any) error { return nil })
	require.Equal(t, time.Millisecond, c.backoff(1))
	require.Equal(t, 2*time.Millisecond, c.backoff(2))
	require.Equal(t, 4*time.Millisecond, c.backoff(3))
	require.Equal(t, 5*time.Millisecond, c.backoff(4))
	require.Equal(t, 5*time.Millisecond, c.backoff(20))
}
