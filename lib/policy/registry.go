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

// Package policy implements the versioned policy registry with semver
// compatibility ranges, anti-downgrade minimums and signatures over
// policy metadata.
package policy

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sort"
	"sync"

	"github.com/coreos/go-semver/semver"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/attestra/attestra/api/types"
	"github.com/attestra/attestra/lib/utils"
)

// Signer signs and verifies policy metadata. Implemented by the
// keystore manager.
type Signer interface {
	SignPayload(data []byte) (sig []byte, keyID string, err error)
	VerifyPayload(data, sig []byte) (keyID string, err error)
}

// Recorder receives policy lifecycle transitions for auditing.
type Recorder interface {
	RecordPolicyTransition(ctx context.Context, policyID, version, from, to, reason, actor string) error
}

// Config holds registry configuration.
type Config struct {
	// Signer signs policy metadata. Optional; Sign and VerifySignature
	// fail without it.
	Signer Signer
	// Recorder receives status transitions. Optional.
	Recorder Recorder
	// Minimums seeds the anti-downgrade floor per policy ID.
	Minimums map[string]string
	// Clock stamps deprecations.
	Clock clockwork.Clock
	// Logger is the registry logger.
	Logger *slog.Logger
}

func (c *Config) checkAndSetDefaults() error {
	for id, min := range c.Minimums {
		if _, err := semver.NewVersion(min); err != nil {
			return trace.BadParameter("minimum version %q for policy %q is not semver: %v", min, id, err)
		}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Registry is the in-memory policy registry.
type Registry struct {
	cfg Config

	mu sync.RWMutex
	// policies maps policyID -> version -> definition.
	policies map[string]map[string]*types.PolicyDefinition
	minimums map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	minimums := make(map[string]string, len(cfg.Minimums))
	for id, min := range cfg.Minimums {
		minimums[id] = min
	}
	return &Registry{
		cfg:      cfg,
		policies: make(map[string]map[string]*types.PolicyDefinition),
		minimums: minimums,
	}, nil
}

// Create registers a new policy definition. At most one Active
// definition may exist per (policyID, major version).
func (r *Registry) Create(policy *types.PolicyDefinition) error {
	if policy.PolicyID == "" || policy.CircuitID == "" {
		return trace.BadParameter("policy requires policyId and circuitId")
	}
	version, err := semver.NewVersion(policy.Version)
	if err != nil {
		return trace.BadParameter("policy version %q is not semver: %v", policy.Version, err)
	}
	if policy.Status == "" {
		policy.Status = types.PolicyStatusActive
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.policies[policy.PolicyID]
	if !ok {
		versions = make(map[string]*types.PolicyDefinition)
		r.policies[policy.PolicyID] = versions
	}
	if _, ok := versions[policy.Version]; ok {
		return trace.AlreadyExists("policy %v version %v already registered", policy.PolicyID, policy.Version)
	}
	if policy.Status == types.PolicyStatusActive {
		for _, existing := range versions {
			existingVersion, err := semver.NewVersion(existing.Version)
			if err != nil {
				continue
			}
			if existing.Status == types.PolicyStatusActive && existingVersion.Major == version.Major {
				return trace.BadParameter(
					"policy %v already has active version %v for major %v",
					policy.PolicyID, existing.Version, version.Major)
			}
		}
	}
	versions[policy.Version] = policy.Clone()
	return nil
}

// GetPolicy returns the definition for (policyID, version). An empty
// version resolves to the highest Active version.
func (r *Registry) GetPolicy(policyID, version string) (*types.PolicyDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.policies[policyID]
	if !ok {
		return nil, trace.NotFound("policy %q not found", policyID)
	}
	if version != "" {
		policy, ok := versions[version]
		if !ok {
			return nil, trace.NotFound("policy %q version %q not found", policyID, version)
		}
		return policy.Clone(), nil
	}

	var best *types.PolicyDefinition
	var bestVersion *semver.Version
	for _, policy := range versions {
		if policy.Status != types.PolicyStatusActive {
			continue
		}
		v, err := semver.NewVersion(policy.Version)
		if err != nil {
			continue
		}
		if bestVersion == nil || bestVersion.LessThan(*v) {
			best, bestVersion = policy, v
		}
	}
	if best == nil {
		return nil, trace.NotFound("policy %q has no active version", policyID)
	}
	return best.Clone(), nil
}

// GetActive returns every Active definition across all policies.
func (r *Registry) GetActive() []*types.PolicyDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*types.PolicyDefinition
	for _, versions := range r.policies {
		for _, policy := range versions {
			if policy.Status == types.PolicyStatusActive {
				out = append(out, policy.Clone())
			}
		}
	}
	return out
}

// GetVersions lists the registered versions of a policy, ascending.
func (r *Registry) GetVersions(policyID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.policies[policyID]
	if !ok {
		return nil, trace.NotFound("policy %q not found", policyID)
	}
	parsed := make([]*semver.Version, 0, len(versions))
	for v := range versions {
		sv, err := semver.NewVersion(v)
		if err != nil {
			continue
		}
		parsed = append(parsed, sv)
	}
	sort.Sort(semver.Versions(parsed))
	out := make([]string, 0, len(parsed))
	for _, v := range parsed {
		out = append(out, v.String())
	}
	return out, nil
}

// IsCompatible reports whether version satisfies the range constraint
// for policyID. Unparseable ranges reject, never default-allow.
func (r *Registry) IsCompatible(policyID, version, versionRange string) (bool, error) {
	if _, err := r.GetPolicy(policyID, version); err != nil {
		return false, trace.Wrap(err)
	}
	ok, err := CheckRange(version, versionRange)
	if err != nil {
		return false, trace.Wrap(err)
	}
	return ok, nil
}

// UpdateStatus transitions a policy version to newStatus. Transitions
// are monotonic: Active -> Deprecated -> Blocked, no way back.
func (r *Registry) UpdateStatus(ctx context.Context, policyID, version, newStatus, reason, actor string) error {
	rank := map[string]int{
		types.PolicyStatusActive:     0,
		types.PolicyStatusDeprecated: 1,
		types.PolicyStatusBlocked:    2,
	}
	newRank, ok := rank[newStatus]
	if !ok {
		return trace.BadParameter("unknown policy status %q", newStatus)
	}

	r.mu.Lock()
	versions, ok := r.policies[policyID]
	if !ok {
		r.mu.Unlock()
		return trace.NotFound("policy %q not found", policyID)
	}
	policy, ok := versions[version]
	if !ok {
		r.mu.Unlock()
		return trace.NotFound("policy %q version %q not found", policyID, version)
	}
	from := policy.Status
	if newRank <= rank[from] {
		r.mu.Unlock()
		return trace.BadParameter("policy status cannot move from %v to %v", from, newStatus)
	}
	policy.Status = newStatus
	if newStatus == types.PolicyStatusDeprecated && policy.DeprecatedAt == nil {
		now := r.cfg.Clock.Now().UTC()
		policy.DeprecatedAt = &now
	}
	r.mu.Unlock()

	if r.cfg.Recorder != nil {
		if err := r.cfg.Recorder.RecordPolicyTransition(ctx, policyID, version, from, newStatus, reason, actor); err != nil {
			r.cfg.Logger.Error("Failed to record policy transition.",
				"policy_id", policyID, "version", version, "error", err)
		}
	}
	return nil
}

// Sign computes and attaches the metadata signature for the stored
// definition, and returns the signed copy.
func (r *Registry) Sign(policyID, version string) (*types.PolicyDefinition, error) {
	if r.cfg.Signer == nil {
		return nil, trace.BadParameter("registry has no signer configured")
	}
	policy, err := r.GetPolicy(policyID, version)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	payload, err := signingPayload(policy)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	sig, _, err := r.cfg.Signer.SignPayload(payload)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	encoded := base64.StdEncoding.EncodeToString(sig)

	r.mu.Lock()
	if stored, ok := r.policies[policyID][version]; ok {
		stored.Signature = encoded
	}
	r.mu.Unlock()

	policy.Signature = encoded
	return policy, nil
}

// VerifySignature checks the metadata signature of a definition against
// the trusted verification keys. Any parse failure rejects.
func (r *Registry) VerifySignature(policy *types.PolicyDefinition) error {
	if r.cfg.Signer == nil {
		return trace.BadParameter("registry has no signer configured")
	}
	if policy.Signature == "" {
		return trace.BadParameter("policy %v/%v is unsigned", policy.PolicyID, policy.Version)
	}
	sig, err := base64.StdEncoding.DecodeString(policy.Signature)
	if err != nil {
		return trace.BadParameter("policy signature is not base64: %v", err)
	}
	payload, err := signingPayload(policy)
	if err != nil {
		return trace.Wrap(err)
	}
	if _, err := r.cfg.Signer.VerifyPayload(payload, sig); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// signingPayload is the canonical JSON of the definition minus the
// signature field.
func signingPayload(policy *types.PolicyDefinition) ([]byte, error) {
	clone := policy.Clone()
	clone.Signature = ""
	payload, err := utils.CanonicalJSON(clone)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return payload, nil
}

// SetMinimum raises (or sets) the anti-downgrade floor for a policy.
func (r *Registry) SetMinimum(policyID, version string) error {
	if _, err := semver.NewVersion(version); err != nil {
		return trace.BadParameter("minimum version %q is not semver: %v", version, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.minimums[policyID] = version
	return nil
}

// Minimum returns the anti-downgrade floor for a policy, or empty if
// none is set.
func (r *Registry) Minimum(policyID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.minimums[policyID]
}

// CheckMinimum enforces the anti-downgrade floor: version must be at
// least the configured minimum for policyID. The floor applies
// regardless of the policy's lifecycle status.
func (r *Registry) CheckMinimum(policyID, version string) error {
	min := r.Minimum(policyID)
	if min == "" {
		return nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return trace.BadParameter("policy version %q is not semver: %v", version, err)
	}
	floor, err := semver.NewVersion(min)
	if err != nil {
		return trace.BadParameter("configured minimum %q is not semver: %v", min, err)
	}
	if v.LessThan(*floor) {
		return trace.AccessDenied("policy %v version %v is below the enforced minimum %v", policyID, version, min)
	}
	return nil
}
