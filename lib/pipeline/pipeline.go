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

// Package pipeline implements the reliable message pipeline: at-least-once
// consumption with bounded retries, exponential backoff with jitter, and
// dead-letter quarantine. A message is committed only after its handler
// succeeded or its dead-letter envelope was published; if the dead-letter
// publish itself fails the consumer crashes without committing, so the
// broker redelivers.
package pipeline

import (
	"context"
	"encoding/base64"
	"log/slog"
	"math/rand"
	"regexp"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/attestra/attestra/api/types"
	"github.com/attestra/attestra/lib/defaults"
	"github.com/attestra/attestra/lib/events"
)

// Consumer states, observable through State().
const (
	StateIdle          = "Idle"
	StateProcessing    = "Processing"
	StateBackingOff    = "BackingOff"
	StatePublishingDlq = "PublishingDlq"
	StateCrashed       = "Crashed"
)

// sensitiveHeader matches header keys whose values are replaced before a
// message lands in the dead-letter topic.
var sensitiveHeader = regexp.MustCompile(`(?i)(authorization|token|secret|cookie|password|apikey|set-cookie|x-api-key|session)`)

// maxStackTrace bounds the debug report carried in a DlqEnvelope.
const maxStackTrace = 4096

// DecodeFunc deserializes a raw payload. A decode failure sends the raw
// bytes straight to the dead-letter topic without retries.
type DecodeFunc func(payload []byte) (any, error)

// HandleFunc processes one decoded message. Errors trigger the retry
// schedule.
type HandleFunc func(ctx context.Context, msg any) error

// ConsumerConfig configures one topic consumer.
type ConsumerConfig struct {
	// Topic is the topic this consumer owns.
	Topic string
	// Group is the consumer group name, part of every DlqEnvelope.
	Group string
	// Decode deserializes payloads.
	Decode DecodeFunc
	// Handle processes decoded messages.
	Handle HandleFunc
	// DLQ publishes dead-letter envelopes.
	DLQ events.Publisher
	// DisableDLQ turns quarantine off: a message that exhausts its
	// retries crashes the consumer instead, and the broker redelivers.
	DisableDLQ bool
	// MaxAttempts bounds handler retries per message.
	MaxAttempts int
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration
	// BackoffMax caps the delay before jitter.
	BackoffMax time.Duration
	// JitterPct spreads the delay multiplicatively on [1-j, 1+j].
	JitterPct float64
	// DLQSuffix is appended to Topic to form the dead-letter topic.
	DLQSuffix string
	// Clock paces the backoff sleeps.
	Clock clockwork.Clock
	// Logger is the consumer logger.
	Logger *slog.Logger
}

func (c *ConsumerConfig) checkAndSetDefaults() error {
	if c.Topic == "" {
		return trace.BadParameter("missing consumer topic")
	}
	if c.Group == "" {
		return trace.BadParameter("missing consumer group")
	}
	if c.Decode == nil || c.Handle == nil {
		return trace.BadParameter("consumer requires Decode and Handle")
	}
	if c.DLQ == nil && !c.DisableDLQ {
		return trace.BadParameter("consumer requires a DLQ publisher")
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.PipelineMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaults.PipelineBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = defaults.PipelineBackoffMax
	}
	if c.JitterPct < 0 || c.JitterPct >= 1 {
		c.JitterPct = defaults.PipelineJitterPct
	}
	if c.DLQSuffix == "" {
		c.DLQSuffix = types.DLQSuffix
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Logger = c.Logger.With("topic", c.Topic, "group", c.Group)
	return nil
}

// Consumer processes one topic sequentially. Drivers (Kafka, memory)
// feed it messages through Process and commit on nil return.
type Consumer struct {
	cfg ConsumerConfig

	mu    sync.Mutex
	state string
}

// NewConsumer creates a consumer.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Consumer{cfg: cfg, state: StateIdle}, nil
}

// State returns the consumer's current state.
func (c *Consumer) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Consumer) setState(s string) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Process runs the per-message algorithm. A nil return means the driver
// must commit the offset; a non-nil return means the consumer must crash
// without committing so the message is redelivered.
func (c *Consumer) Process(ctx context.Context, msg events.Message) error {
	c.setState(StateProcessing)
	defer func() {
		if c.State() != StateCrashed {
			c.setState(StateIdle)
		}
	}()

	decoded, err := c.cfg.Decode(msg.Value)
	if err != nil {
		messagesProcessed.WithLabelValues(c.cfg.Topic, "deserialize_error").Inc()
		c.cfg.Logger.Warn("Message failed to deserialize, quarantining.",
			"offset", msg.Offset, "error", err)
		return trace.Wrap(c.quarantine(ctx, msg, err, types.DlqErrorTypeDeserialization, 1))
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		lastErr = c.cfg.Handle(ctx, decoded)
		if lastErr == nil {
			messagesProcessed.WithLabelValues(c.cfg.Topic, "ok").Inc()
			return nil
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}
		retries.WithLabelValues(c.cfg.Topic).Inc()
		c.setState(StateBackingOff)
		if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
			// Shutdown during backoff: no commit, redelivery handles it.
			return trace.Wrap(err)
		}
		c.setState(StateProcessing)
	}

	messagesProcessed.WithLabelValues(c.cfg.Topic, "exhausted").Inc()
	c.cfg.Logger.Warn("Message exhausted retries, quarantining.",
		"offset", msg.Offset, "attempts", c.cfg.MaxAttempts, "error", lastErr)
	return trace.Wrap(c.quarantine(ctx, msg, lastErr, "HandlerError", c.cfg.MaxAttempts))
}

// backoff computes min(max, base*2^(attempt-1)) spread by the jitter
// fraction on both sides.
func (c *Consumer) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffBase << (attempt - 1)
	if d > c.cfg.BackoffMax || d <= 0 {
		d = c.cfg.BackoffMax
	}
	if c.cfg.JitterPct > 0 {
		spread := 1 + c.cfg.JitterPct*(2*rand.Float64()-1)
		d = time.Duration(float64(d) * spread)
	}
	return d
}

func (c *Consumer) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return trace.Wrap(ctx.Err())
	case <-c.cfg.Clock.After(d):
		return nil
	}
}

// quarantine publishes the dead-letter envelope and reports an error
// only if that publish failed, which crashes the consumer.
func (c *Consumer) quarantine(ctx context.Context, msg events.Message, cause error, errorType string, attempts int) error {
	if c.cfg.DisableDLQ {
		c.setState(StateCrashed)
		return trace.Wrap(cause, "quarantine is disabled, crashing so the message is redelivered")
	}
	c.setState(StatePublishingDlq)
	envelope := &types.DlqEnvelope{
		SchemaVersion:         types.DlqSchemaVersion,
		OriginalTopic:         msg.Topic,
		OriginalPartition:     msg.Partition,
		OriginalOffset:        msg.Offset,
		ConsumerGroup:         c.cfg.Group,
		OriginalKey:           msg.Key,
		SanitizedHeaders:      sanitizeHeaders(msg.Headers),
		OriginalPayloadBase64: base64.StdEncoding.EncodeToString(msg.Value),
		Error:                 cause.Error(),
		ErrorType:             errorType,
		TruncatedStackTrace:   truncate(trace.DebugReport(cause), maxStackTrace),
		FailedAtUTC:           c.cfg.Clock.Now().UTC(),
		AttemptCount:          attempts,
		DlqMessageID:          types.DeriveDlqMessageID(c.cfg.Group, msg.Topic, msg.Partition, msg.Offset),
	}
	dlqTopic := c.cfg.Topic + c.cfg.DLQSuffix
	if err := c.cfg.DLQ.Publish(ctx, dlqTopic, msg.Key, envelope); err != nil {
		c.setState(StateCrashed)
		return trace.Wrap(err, "dead-letter publish failed, crashing to preserve at-least-once")
	}
	deadLettered.WithLabelValues(c.cfg.Topic).Inc()
	return nil
}

func sanitizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if sensitiveHeader.MatchString(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// RunMemory consumes the topic from a memory bus until ctx is canceled
// or the consumer crashes. Offsets advance only after Process returns
// nil, preserving the commit contract.
func (c *Consumer) RunMemory(ctx context.Context, bus *events.MemoryBus) error {
	var offset int64
	for {
		msg, err := bus.Next(ctx, c.cfg.Topic, offset)
		if err != nil {
			return trace.Wrap(err)
		}
		if err := c.Process(ctx, msg); err != nil {
			return trace.Wrap(err)
		}
		offset++
	}
}
