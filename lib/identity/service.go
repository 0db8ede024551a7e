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

package identity

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/attestra/attestra"
	"github.com/attestra/attestra/api/types"
	"github.com/attestra/attestra/lib/defaults"
	"github.com/attestra/attestra/lib/events"
	logutils "github.com/attestra/attestra/lib/utils/log"
)

// SessionCache is the subset of the session cache the service needs.
type SessionCache interface {
	Set(ctx context.Context, session types.Session, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (*types.Session, error)
	Exists(ctx context.Context, sessionID string) (bool, error)
	Remove(ctx context.Context, sessionID string) error
}

// CallbackResult is the outcome of consuming an eID hub callback.
type CallbackResult struct {
	// Status is the terminal session status, or "Rejected" when the
	// callback failed local validation.
	Status string
	// ReasonCode is set when the callback did not produce an attestation.
	ReasonCode string
	// Attestation is set when the callback succeeded.
	Attestation *types.Attestation
}

// CallbackStatusRejected marks callbacks refused before the hub was
// consulted, such as unknown session tokens.
const CallbackStatusRejected = "Rejected"

// ServiceConfig configures the identity session service.
type ServiceConfig struct {
	// Providers maps provider IDs to their hub clients and mappers.
	Providers map[string]Provider
	// Cache holds pending sessions.
	Cache SessionCache
	// Store persists attestations.
	Store AttestationStore
	// Publisher emits identity.verified events. Optional.
	Publisher events.Publisher
	// SessionTTL caps how long a pending session stays consumable.
	SessionTTL time.Duration
	// Clock overrides time in tests.
	Clock clockwork.Clock
	// Logger overrides the package logger.
	Logger *slog.Logger
}

func (c *ServiceConfig) checkAndSetDefaults() error {
	if len(c.Providers) == 0 {
		return trace.BadParameter("identity service requires at least one provider")
	}
	if c.Cache == nil {
		return trace.BadParameter("missing session cache")
	}
	if c.Store == nil {
		return trace.BadParameter("missing attestation store")
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaults.SessionTTL
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = logutils.NewPackageLogger(attestra.ComponentKey, attestra.ComponentIdentity)
	}
	return nil
}

// Service runs the eID session lifecycle: start, callback, status.
type Service struct {
	cfg ServiceConfig
	log *logutils.SafeLogger
}

// NewService creates the identity session service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{
		cfg: cfg,
		log: logutils.NewSafeLogger(cfg.Logger),
	}, nil
}

// Start opens a session with the named provider and caches it so the
// callback can be validated later. accountRef is optional caller
// correlation and is never forwarded to the provider beyond the hub
// session it already requires.
func (s *Service) Start(ctx context.Context, providerID, accountRef string) (*StartedSession, error) {
	provider, ok := s.cfg.Providers[providerID]
	if !ok {
		return nil, trace.NotFound("unknown identity provider %q", providerID)
	}

	started, err := provider.Client.CreateSession(ctx, accountRef)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	ttl := s.cfg.SessionTTL
	if !started.ExpiresAt.IsZero() {
		if remaining := started.ExpiresAt.Sub(s.cfg.Clock.Now()); remaining > 0 && remaining < ttl {
			ttl = remaining
		}
	}
	session := types.Session{
		SessionID:         started.SessionID,
		ProviderID:        providerID,
		ExternalReference: uuid.NewString(),
		AccountRef:        accountRef,
	}
	if err := s.cfg.Cache.Set(ctx, session, ttl); err != nil {
		return nil, trace.Wrap(err)
	}

	s.log.Info("started identity session",
		logutils.Str("provider", providerID),
		logutils.Str("external_reference", session.ExternalReference))
	return started, nil
}

// HandleCallback consumes the hub callback for a session exactly once.
// Unknown or already-consumed session tokens are rejected without
// consulting the hub. Claim bodies stay inside this call.
func (s *Service) HandleCallback(ctx context.Context, sessionID string) (*CallbackResult, error) {
	ok, err := s.cfg.Cache.Exists(ctx, sessionID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !ok {
		s.log.Warn("rejected callback for unknown session")
		return &CallbackResult{
			Status:     CallbackStatusRejected,
			ReasonCode: types.ReasonCSRFRejected,
		}, nil
	}
	cached, err := s.cfg.Cache.Get(ctx, sessionID)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	provider, found := s.cfg.Providers[cached.ProviderID]
	if !found {
		return nil, trace.NotFound("unknown identity provider %q", cached.ProviderID)
	}

	resp, err := provider.Client.GetSession(ctx, sessionID)
	if err != nil {
		// The session stays cached: a transient hub failure must not
		// consume the one-shot entry.
		return nil, trace.Wrap(err)
	}

	if resp.Status != types.SessionStatusSucceeded {
		if types.TerminalSessionStatus(resp.Status) {
			if err := s.cfg.Cache.Remove(ctx, sessionID); err != nil {
				return nil, trace.Wrap(err)
			}
		}
		s.log.Info("identity session did not succeed",
			logutils.Str("provider", cached.ProviderID),
			logutils.Str("status", resp.Status))
		return &CallbackResult{Status: resp.Status}, nil
	}

	now := s.cfg.Clock.Now()
	mapped, mapErr := provider.Mapper.Map(cached.ProviderID, resp, now)
	if mapErr != nil {
		if err := s.cfg.Cache.Remove(ctx, sessionID); err != nil {
			return nil, trace.Wrap(err)
		}
		s.log.Warn("claims mapping failed",
			logutils.Str("provider", cached.ProviderID),
			logutils.Str("reason", mapErr.Code))
		return &CallbackResult{
			Status:     CallbackStatusRejected,
			ReasonCode: mapErr.Code,
		}, nil
	}

	attestation := &types.Attestation{
		ID:             uuid.NewString(),
		PolicyID:       types.PolicyAgeOver18,
		SubjectID:      mapped.SubjectID,
		ProviderID:     mapped.ProviderID,
		AccountRef:     cached.AccountRef,
		Verified:       mapped.IsAdult,
		VerifiedAt:     mapped.VerifiedAt,
		AssuranceLevel: mapped.AssuranceLevel,
	}
	if mapped.ExpiresAt != nil {
		attestation.ExpiresAt = *mapped.ExpiresAt
	}
	stored, err := s.cfg.Store.Upsert(ctx, attestation)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if err := s.cfg.Cache.Remove(ctx, sessionID); err != nil {
		return nil, trace.Wrap(err)
	}

	if s.cfg.Publisher != nil {
		event := types.IdentityVerified{
			ProviderID:     stored.ProviderID,
			SubjectID:      stored.SubjectID,
			AccountRef:     stored.AccountRef,
			IsAdult:        stored.Verified,
			VerifiedAt:     stored.VerifiedAt,
			AssuranceLevel: stored.AssuranceLevel,
			ExpiresAt:      mapped.ExpiresAt,
		}
		if err := s.cfg.Publisher.Publish(ctx, types.TopicIdentityVerified, stored.AccountRef, event); err != nil {
			// Attestation is durable; event delivery is best effort here
			// and the pipeline replays from the hub on reconciliation.
			s.log.Warn("failed to publish identity event",
				logutils.Str("provider", stored.ProviderID))
		}
	}

	s.log.Info("identity session succeeded",
		logutils.Str("provider", stored.ProviderID),
		logutils.Bool("verified", stored.Verified),
		logutils.Str("assurance", stored.AssuranceLevel))
	return &CallbackResult{
		Status:      types.SessionStatusSucceeded,
		Attestation: stored,
	}, nil
}

// SessionStatus reports the hub-side status of a pending session without
// consuming it. Unknown tokens return NotFound.
func (s *Service) SessionStatus(ctx context.Context, sessionID string) (string, error) {
	cached, err := s.cfg.Cache.Get(ctx, sessionID)
	if err != nil {
		return "", trace.Wrap(err)
	}
	provider, found := s.cfg.Providers[cached.ProviderID]
	if !found {
		return "", trace.NotFound("unknown identity provider %q", cached.ProviderID)
	}
	resp, err := provider.Client.GetSession(ctx, sessionID)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return resp.Status, nil
}

// Erase removes a subject's attestation. Erasure is permanent and does
// not touch anchored ledger records, which hold only commitments.
func (s *Service) Erase(ctx context.Context, providerID, subjectID string) error {
	if err := s.cfg.Store.Delete(ctx, providerID, subjectID); err != nil {
		return trace.Wrap(err)
	}
	s.log.Info("erased attestation", logutils.Str("provider", providerID))
	return nil
}
