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

// Package verify dispatches presentation verification to pluggable
// verifiers and enforces the platform verification rules. Rejections are
// results carrying stable reason codes; only dependency failures travel
// as errors.
package verify

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/attestra/attestra"
	"github.com/attestra/attestra/api/types"
	"github.com/attestra/attestra/lib/audit"
	"github.com/attestra/attestra/lib/events"
	logutils "github.com/attestra/attestra/lib/utils/log"
)

// Verifier checks one presentation type.
type Verifier interface {
	// Type is the presentation type this verifier handles.
	Type() string
	// Verify checks the presentation. Rule violations are value results;
	// errors mean the check could not be performed.
	Verify(ctx context.Context, req *types.VerificationRequest) (*types.VerificationResult, error)
}

// Registry maps presentation types to verifiers.
type Registry struct {
	mu        sync.RWMutex
	verifiers map[string]Verifier
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{verifiers: make(map[string]Verifier)}
}

// Register adds a verifier. Registering a type twice is an error.
func (r *Registry) Register(v Verifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.verifiers[v.Type()]; ok {
		return trace.AlreadyExists("verifier for %q is already registered", v.Type())
	}
	r.verifiers[v.Type()] = v
	return nil
}

// Get returns the verifier for presentationType.
func (r *Registry) Get(presentationType string) (Verifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.verifiers[presentationType]
	return v, ok
}

// Types lists the registered presentation types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.verifiers))
	for t := range r.verifiers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Config holds verification service configuration.
type Config struct {
	// Registry dispatches presentation types.
	Registry *Registry
	// Audit records every verification outcome. Optional.
	Audit *audit.Log
	// Publisher emits credential.verified events. Optional.
	Publisher events.Publisher
	// Clock stamps results.
	Clock clockwork.Clock
	// Logger is the service logger.
	Logger *slog.Logger
}

func (c *Config) checkAndSetDefaults() error {
	if c.Registry == nil {
		return trace.BadParameter("missing verifier registry")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = logutils.NewPackageLogger(attestra.ComponentKey, attestra.ComponentVerify)
	}
	return nil
}

// Service runs presentation verification end to end: dispatch, audit,
// event publication.
type Service struct {
	cfg Config
}

// NewService creates the verification service.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{cfg: cfg}, nil
}

// Verify checks a presentation and returns a result in every case except
// dependency failure. Unexpected internal errors degrade to a
// SYSTEM_ERROR rejection rather than leaking.
func (s *Service) Verify(ctx context.Context, req *types.VerificationRequest) (*types.VerificationResult, error) {
	result, err := s.verify(ctx, req)
	if err != nil {
		if trace.IsConnectionProblem(err) {
			s.record(ctx, req, &types.VerificationResult{
				Valid:       false,
				ReasonCodes: []string{types.ReasonZKPServiceUnavailable},
			})
			return nil, trace.Wrap(err)
		}
		s.cfg.Logger.ErrorContext(ctx, "Verification failed unexpectedly.", "error", err)
		result = &types.VerificationResult{
			Valid:       false,
			ReasonCodes: []string{types.ReasonSystemError},
		}
	}
	result.TimestampUTC = s.cfg.Clock.Now().UTC()

	s.record(ctx, req, result)
	s.publish(ctx, req, result)
	return result, nil
}

func (s *Service) verify(ctx context.Context, req *types.VerificationRequest) (*types.VerificationResult, error) {
	if req == nil || req.Presentation == nil {
		return reject(types.ReasonMalformedPresentation), nil
	}
	verifier, ok := s.cfg.Registry.Get(req.PresentationType)
	if !ok {
		return reject(types.ReasonUnsupportedPresentation), nil
	}
	result, err := verifier.Verify(ctx, req)
	return result, trace.Wrap(err)
}

func (s *Service) record(ctx context.Context, req *types.VerificationRequest, result *types.VerificationResult) {
	outcome := "rejected"
	if result.Valid {
		outcome = "valid"
	}
	recordOutcome(presentationType(req), outcome)

	if s.cfg.Audit == nil {
		return
	}
	entry := audit.Entry{
		Topic:       audit.TopicVerification,
		Outcome:     outcome,
		ReasonCodes: result.ReasonCodes,
	}
	if req != nil {
		entry.PolicyID = req.PolicyID
	}
	if _, err := s.cfg.Audit.Append(ctx, entry); err != nil {
		s.cfg.Logger.ErrorContext(ctx, "Failed to append verification audit entry.", "error", err)
	}
}

func (s *Service) publish(ctx context.Context, req *types.VerificationRequest, result *types.VerificationResult) {
	if s.cfg.Publisher == nil || !result.Valid {
		return
	}
	var accountRef string
	if req != nil && req.Context != nil {
		accountRef = req.Context["accountRef"]
	}
	event := types.CredentialVerified{
		AccountRef: accountRef,
		Valid:      true,
		Issuer:     result.Issuer,
		VerifiedAt: result.TimestampUTC,
	}
	if err := s.cfg.Publisher.Publish(ctx, types.TopicCredentialVerified, accountRef, event); err != nil {
		s.cfg.Logger.WarnContext(ctx, "Failed to publish verification event.", "error", err)
	}
}

func presentationType(req *types.VerificationRequest) string {
	if req == nil {
		return "unknown"
	}
	return req.PresentationType
}

// reject builds a rejection result.
func reject(codes ...string) *types.VerificationResult {
	return &types.VerificationResult{Valid: false, ReasonCodes: codes}
}
