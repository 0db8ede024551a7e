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

// Package sessioncache stores pending eID sessions in redis with a short
// TTL. Entries are one-shot: the callback flow checks Exists before
// consuming a session and Removes it right after, so each session is
// consumed successfully at most once. Exists and Remove need not be
// atomic; the hub invalidates its session IDs on first use as well, and
// a duplicate Remove is simply a no-op.
package sessioncache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gravitational/trace"
	"github.com/redis/go-redis/v9"

	"github.com/attestra/attestra/api/types"
)

// keyPrefix namespaces session entries in the shared cache.
const keyPrefix = "auth:session:"

// entry is the cached value.
type entry struct {
	ProviderID        string `json:"providerId"`
	ExternalReference string `json:"externalReference"`
	AccountRef        string `json:"accountRef,omitempty"`
}

// Cache is the redis-backed session cache.
type Cache struct {
	client redis.UniversalClient
}

// New creates a cache on top of an existing redis client.
func New(client redis.UniversalClient) (*Cache, error) {
	if client == nil {
		return nil, trace.BadParameter("missing redis client")
	}
	return &Cache{client: client}, nil
}

// NewFromAddr dials a standalone redis at addr.
func NewFromAddr(addr string) (*Cache, error) {
	if addr == "" {
		return nil, trace.BadParameter("missing redis address")
	}
	return New(redis.NewClient(&redis.Options{Addr: addr}))
}

// Set stores a pending session with the given TTL.
func (c *Cache) Set(ctx context.Context, session types.Session, ttl time.Duration) error {
	if session.SessionID == "" {
		return trace.BadParameter("missing session id")
	}
	if ttl <= 0 {
		return trace.BadParameter("session TTL must be positive")
	}
	value, err := json.Marshal(entry{
		ProviderID:        session.ProviderID,
		ExternalReference: session.ExternalReference,
		AccountRef:        session.AccountRef,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	if err := c.client.Set(ctx, keyPrefix+session.SessionID, value, ttl).Err(); err != nil {
		return trace.ConnectionProblem(err, "writing session to cache")
	}
	return nil
}

// Get returns the pending session, or NotFound if it expired or was
// already consumed.
func (c *Cache) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	raw, err := c.client.Get(ctx, keyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, trace.NotFound("session %q not found", sessionID)
	}
	if err != nil {
		return nil, trace.ConnectionProblem(err, "reading session from cache")
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, trace.Wrap(err)
	}
	return &types.Session{
		SessionID:         sessionID,
		ProviderID:        e.ProviderID,
		ExternalReference: e.ExternalReference,
		AccountRef:        e.AccountRef,
	}, nil
}

// Exists reports whether a pending session is cached.
func (c *Cache) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := c.client.Exists(ctx, keyPrefix+sessionID).Result()
	if err != nil {
		return false, trace.ConnectionProblem(err, "checking session in cache")
	}
	return n > 0, nil
}

// Remove deletes a session. Removing an absent session succeeds, which
// makes duplicate callbacks idempotent.
func (c *Cache) Remove(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, keyPrefix+sessionID).Err(); err != nil {
		return trace.ConnectionProblem(err, "removing session from cache")
	}
	return nil
}
