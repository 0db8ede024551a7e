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

// Package keystore manages issuer signing keys through their lifecycle:
// Current -> Deprecated -> Retired. Exactly one Current key exists per
// algorithm; deprecated keys keep verifying previously issued
// credentials until their grace period lapses.
package keystore

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/attestra/attestra/api/types"
	"github.com/attestra/attestra/lib/defaults"
)

// AlgorithmES256 is the only algorithm currently minted. The lifecycle
// code is algorithm-agnostic so further curves can be added.
const AlgorithmES256 = "ES256"

// Key is a signing key with its lifecycle metadata. The private key
// never leaves this package; callers sign through the Manager.
type Key struct {
	// ID is the RFC 7638 style thumbprint of the public key.
	ID string
	// Algorithm is the JOSE algorithm, e.g. ES256.
	Algorithm string
	// IssuerDID identifies this key as a credential issuer.
	IssuerDID string
	// Status is Current, Deprecated or Retired.
	Status string
	// CreatedAt, DeprecatedAt and RetiredAt track transitions.
	CreatedAt    time.Time
	DeprecatedAt time.Time
	RetiredAt    time.Time
	// GracePeriod is how long after deprecation the key still verifies.
	GracePeriod time.Duration

	signer *ecdsa.PrivateKey
}

// CanSign reports whether this key may produce new signatures.
func (k *Key) CanSign() bool {
	return k.Status == types.KeyStatusCurrent
}

// CanVerify reports whether this key may verify signatures at now.
// Retired keys never verify.
func (k *Key) CanVerify(now time.Time) bool {
	switch k.Status {
	case types.KeyStatusCurrent:
		return true
	case types.KeyStatusDeprecated:
		return now.Before(k.DeprecatedAt.Add(k.GracePeriod))
	}
	return false
}

// Public returns the public half of the key.
func (k *Key) Public() *ecdsa.PublicKey {
	return &k.signer.PublicKey
}

// Signer exposes the crypto.Signer for JOSE integrations. Callers must
// check CanSign first.
func (k *Key) Signer() crypto.Signer {
	return k.signer
}

// JWK returns the public JWK for this key.
func (k *Key) JWK() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       &k.signer.PublicKey,
		KeyID:     k.ID,
		Algorithm: k.Algorithm,
		Use:       "sig",
	}
}

// Recorder receives key lifecycle transitions. The audit log implements
// this; the indirection keeps this package free of an audit dependency.
type Recorder interface {
	RecordKeyTransition(ctx context.Context, keyID, transition, reason, actor string) error
}

// Config holds Manager configuration.
type Config struct {
	// IssuerDID is the DID under which keys are published, e.g.
	// "did:web:issuer.example.com". Key IDs become URL fragments of it.
	IssuerDID string
	// GracePeriod applies to keys deprecated by rotation.
	GracePeriod time.Duration
	// Recorder receives lifecycle transitions. Optional.
	Recorder Recorder
	// Clock is the lifecycle clock.
	Clock clockwork.Clock
	// Logger is the keystore logger.
	Logger *slog.Logger
}

func (c *Config) checkAndSetDefaults() error {
	if c.IssuerDID == "" {
		return trace.BadParameter("missing issuer DID")
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = defaults.KeyGracePeriod
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Manager owns the key set. Rotations and other transitions serialize
// under a single mutex; readers see consistent snapshots.
type Manager struct {
	cfg Config

	mu   sync.RWMutex
	keys map[string]*Key
	// current maps algorithm -> key ID of the Current key.
	current map[string]string
}

// NewManager creates a manager and mints the initial Current ES256 key.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m := &Manager{
		cfg:     cfg,
		keys:    make(map[string]*Key),
		current: make(map[string]string),
	}
	if _, err := m.Rotate(context.Background(), AlgorithmES256); err != nil {
		return nil, trace.Wrap(err)
	}
	return m, nil
}

// SetRecorder attaches the transition recorder after construction. The
// audit log signs with this manager's keys, so the two are wired in two
// steps at startup; call before the manager starts serving.
func (m *Manager) SetRecorder(r Recorder) {
	m.cfg.Recorder = r
}

func (m *Manager) generate(algorithm string) (*Key, error) {
	if algorithm != AlgorithmES256 {
		return nil, trace.BadParameter("unsupported signing algorithm %q", algorithm)
	}
	private, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	id, err := keyID(&private.PublicKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Key{
		ID:          id,
		Algorithm:   algorithm,
		IssuerDID:   m.cfg.IssuerDID + "#" + id,
		Status:      types.KeyStatusCurrent,
		CreatedAt:   m.cfg.Clock.Now().UTC(),
		GracePeriod: m.cfg.GracePeriod,
		signer:      private,
	}, nil
}

func keyID(pub *ecdsa.PublicKey) (string, error) {
	jwk := jose.JSONWebKey{Key: pub}
	thumb, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return hex.EncodeToString(thumb[:8]), nil
}

// GetCurrent returns the Current key for ES256.
func (m *Manager) GetCurrent() (*Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.current[AlgorithmES256]
	if !ok {
		return nil, trace.NotFound("no current signing key")
	}
	return m.keys[id], nil
}

// GetByID returns the key with the given ID.
func (m *Manager) GetByID(id string) (*Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[id]
	if !ok {
		return nil, trace.NotFound("signing key %q not found", id)
	}
	return key, nil
}

// GetVerificationKeys returns every key allowed to verify at this
// moment: the Current key plus Deprecated keys inside their grace window.
func (m *Manager) GetVerificationKeys() []*Key {
	now := m.cfg.Clock.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Key
	for _, key := range m.keys {
		if key.CanVerify(now) {
			out = append(out, key)
		}
	}
	return out
}

// Rotate mints a new Current key for algorithm and atomically deprecates
// the previous Current one.
func (m *Manager) Rotate(ctx context.Context, algorithm string) (*Key, error) {
	fresh, err := m.generate(algorithm)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	m.mu.Lock()
	var deprecated *Key
	if prevID, ok := m.current[algorithm]; ok {
		deprecated = m.keys[prevID]
		deprecated.Status = types.KeyStatusDeprecated
		deprecated.DeprecatedAt = m.cfg.Clock.Now().UTC()
	}
	m.keys[fresh.ID] = fresh
	m.current[algorithm] = fresh.ID
	m.mu.Unlock()

	if deprecated != nil {
		m.record(ctx, deprecated.ID, "deprecated", "rotation", "keystore")
	}
	m.record(ctx, fresh.ID, "created", "rotation", "keystore")
	m.cfg.Logger.Info("Rotated signing key.", "key_id", fresh.ID, "algorithm", algorithm)
	return fresh, nil
}

// Deprecate moves a Current key to Deprecated without minting a
// replacement. Signing is unavailable for the algorithm until the next
// rotation.
func (m *Manager) Deprecate(ctx context.Context, keyID string) error {
	m.mu.Lock()
	key, ok := m.keys[keyID]
	if !ok {
		m.mu.Unlock()
		return trace.NotFound("signing key %q not found", keyID)
	}
	if key.Status != types.KeyStatusCurrent {
		m.mu.Unlock()
		return trace.BadParameter("key %q is %v, only Current keys can be deprecated", keyID, key.Status)
	}
	key.Status = types.KeyStatusDeprecated
	key.DeprecatedAt = m.cfg.Clock.Now().UTC()
	if m.current[key.Algorithm] == keyID {
		delete(m.current, key.Algorithm)
	}
	m.mu.Unlock()

	m.record(ctx, keyID, "deprecated", "manual", "keystore")
	return nil
}

// Retire immediately revokes a key. Retired keys neither sign nor
// verify; this is the compromise path.
func (m *Manager) Retire(ctx context.Context, keyID, reason, actor string) error {
	m.mu.Lock()
	key, ok := m.keys[keyID]
	if !ok {
		m.mu.Unlock()
		return trace.NotFound("signing key %q not found", keyID)
	}
	if key.Status == types.KeyStatusRetired {
		m.mu.Unlock()
		return nil
	}
	key.Status = types.KeyStatusRetired
	key.RetiredAt = m.cfg.Clock.Now().UTC()
	if m.current[key.Algorithm] == keyID {
		delete(m.current, key.Algorithm)
	}
	m.mu.Unlock()

	m.record(ctx, keyID, "retired", reason, actor)
	m.cfg.Logger.Warn("Retired signing key.", "key_id", keyID, "reason", reason, "actor", actor)
	return nil
}

// AutoRetireExpired retires every Deprecated key whose grace period has
// lapsed and returns how many were retired.
func (m *Manager) AutoRetireExpired(ctx context.Context) (int, error) {
	now := m.cfg.Clock.Now()

	m.mu.Lock()
	var expired []string
	for id, key := range m.keys {
		if key.Status == types.KeyStatusDeprecated && !now.Before(key.DeprecatedAt.Add(key.GracePeriod)) {
			key.Status = types.KeyStatusRetired
			key.RetiredAt = now.UTC()
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.record(ctx, id, "retired", "grace period expired", "keystore")
	}
	return len(expired), nil
}

// GetJWKS returns the JWKS of every key that can currently verify.
func (m *Manager) GetJWKS() jose.JSONWebKeySet {
	keys := m.GetVerificationKeys()
	set := jose.JSONWebKeySet{}
	for _, key := range keys {
		set.Keys = append(set.Keys, key.JWK())
	}
	return set
}

// SignPayload signs data with the Current key: ECDSA over the SHA-256
// digest, ASN.1 encoded. Returns the signature and the signing key ID.
func (m *Manager) SignPayload(data []byte) ([]byte, string, error) {
	key, err := m.GetCurrent()
	if err != nil {
		return nil, "", trace.Wrap(err)
	}
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, key.signer, digest[:])
	if err != nil {
		return nil, "", trace.Wrap(err)
	}
	return sig, key.ID, nil
}

// VerifyPayload checks sig against data using every CanVerify key and
// returns the ID of the key that verified it.
func (m *Manager) VerifyPayload(data, sig []byte) (string, error) {
	digest := sha256.Sum256(data)
	for _, key := range m.GetVerificationKeys() {
		if ecdsa.VerifyASN1(key.Public(), digest[:], sig) {
			return key.ID, nil
		}
	}
	return "", trace.BadParameter("signature does not verify against any trusted key")
}

func (m *Manager) record(ctx context.Context, keyID, transition, reason, actor string) {
	if m.cfg.Recorder == nil {
		return
	}
	if err := m.cfg.Recorder.RecordKeyTransition(ctx, keyID, transition, reason, actor); err != nil {
		m.cfg.Logger.Error("Failed to record key transition.",
			"key_id", keyID, "transition", transition, "error", err)
	}
}
