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

// Package audit keeps the append-only signed audit log. Entries carry
// pseudonymous identifiers and reason codes only; claim bodies and other
// PII never enter an entry. Each entry is signed by the current issuer
// key over its canonical JSON, so the log can be verified offline
// against the published JWKS.
package audit

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/attestra/attestra"
	"github.com/attestra/attestra/lib/utils"
	logutils "github.com/attestra/attestra/lib/utils/log"
)

// Audit topics.
const (
	TopicVerification     = "verification"
	TopicKeyTransition    = "key.transition"
	TopicPolicyTransition = "policy.transition"
	TopicIssuance         = "issuance"
)

// Entry is one signed audit record.
type Entry struct {
	// ID is the entry UUID.
	ID string `json:"id"`
	// Topic classifies the entry.
	Topic string `json:"topic"`
	// SubjectID is the pseudonymous subject, when one is involved.
	SubjectID string `json:"subjectId,omitempty"`
	// PolicyID is the policy involved, when one is.
	PolicyID string `json:"policyId,omitempty"`
	// Outcome is the terse outcome, e.g. "valid", "rejected", "rotated".
	Outcome string `json:"outcome"`
	// ReasonCodes are the stable reason codes attached to the outcome.
	ReasonCodes []string `json:"reasonCodes,omitempty"`
	// KeyID is the signing key that signed this entry.
	KeyID string `json:"keyId"`
	// TimestampUTC is the entry time.
	TimestampUTC time.Time `json:"timestampUtc"`
	// Signature is the base64 ECDSA signature over the canonical JSON of
	// the entry with this field empty.
	Signature string `json:"signature,omitempty"`
}

// Signer signs and verifies entry payloads. The keystore manager
// implements it.
type Signer interface {
	SignPayload(data []byte) (sig []byte, keyID string, err error)
	VerifyPayload(data, sig []byte) (keyID string, err error)
}

// Storage persists entries in order.
type Storage interface {
	Append(entry Entry) error
	Entries() ([]Entry, error)
}

// Config holds audit log configuration.
type Config struct {
	// Signer signs entries.
	Signer Signer
	// Storage persists entries. Defaults to in-memory.
	Storage Storage
	// Clock stamps entries.
	Clock clockwork.Clock
	// Logger is the audit logger.
	Logger *slog.Logger
}

func (c *Config) checkAndSetDefaults() error {
	if c.Signer == nil {
		return trace.BadParameter("missing audit signer")
	}
	if c.Storage == nil {
		c.Storage = NewMemoryStorage()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = logutils.NewPackageLogger(attestra.ComponentKey, attestra.ComponentAudit)
	}
	return nil
}

// Log is the signed audit log.
type Log struct {
	cfg Config
}

// NewLog creates an audit log.
func NewLog(cfg Config) (*Log, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Log{cfg: cfg}, nil
}

// Append signs and stores a new entry. ID, KeyID, TimestampUTC and
// Signature are assigned here; values set by the caller are ignored.
func (l *Log) Append(ctx context.Context, entry Entry) (*Entry, error) {
	if entry.Topic == "" || entry.Outcome == "" {
		return nil, trace.BadParameter("audit entry requires topic and outcome")
	}
	entry.ID = uuid.NewString()
	entry.TimestampUTC = l.cfg.Clock.Now().UTC()
	entry.Signature = ""

	payload, err := canonicalEntry(entry)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	sig, keyID, err := l.cfg.Signer.SignPayload(payload)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	// KeyID is known only after signing; it is outside the signed bytes.
	entry.KeyID = keyID
	entry.Signature = base64.StdEncoding.EncodeToString(sig)

	if err := l.cfg.Storage.Append(entry); err != nil {
		return nil, trace.Wrap(err)
	}
	return &entry, nil
}

// Entries returns a copy of the stored entries in append order.
func (l *Log) Entries() ([]Entry, error) {
	entries, err := l.cfg.Storage.Entries()
	return entries, trace.Wrap(err)
}

// VerifyEntry checks the entry signature against the trusted keys.
func (l *Log) VerifyEntry(entry Entry) error {
	sig, err := base64.StdEncoding.DecodeString(entry.Signature)
	if err != nil {
		return trace.BadParameter("entry signature is not base64: %v", err)
	}
	entry.Signature = ""
	entry.KeyID = ""
	payload, err := canonicalEntry(entry)
	if err != nil {
		return trace.Wrap(err)
	}
	if _, err := l.cfg.Signer.VerifyPayload(payload, sig); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// canonicalEntry serializes the entry for signing: canonical JSON with
// signature and key ID cleared.
func canonicalEntry(entry Entry) ([]byte, error) {
	entry.Signature = ""
	entry.KeyID = ""
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, trace.Wrap(err)
	}
	return utils.CanonicalJSON(generic)
}

// RecordKeyTransition implements the keystore recorder.
func (l *Log) RecordKeyTransition(ctx context.Context, keyID, transition, reason, actor string) error {
	_, err := l.Append(ctx, Entry{
		Topic:       TopicKeyTransition,
		Outcome:     transition,
		ReasonCodes: []string{reason + "/" + actor},
	})
	return trace.Wrap(err)
}

// RecordPolicyTransition implements the policy registry recorder.
func (l *Log) RecordPolicyTransition(ctx context.Context, policyID, version, from, to, reason, actor string) error {
	_, err := l.Append(ctx, Entry{
		Topic:       TopicPolicyTransition,
		PolicyID:    policyID + "@" + version,
		Outcome:     from + "->" + to,
		ReasonCodes: []string{reason + "/" + actor},
	})
	return trace.Wrap(err)
}

// MemoryStorage holds entries in memory.
type MemoryStorage struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryStorage creates empty storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Append implements Storage.
func (s *MemoryStorage) Append(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries implements Storage.
func (s *MemoryStorage) Entries() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...), nil
}

// FileStorage appends entries as JSON lines. The file is opened with
// O_APPEND only; nothing in this type can rewrite history.
type FileStorage struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewFileStorage opens (or creates) the log file at path.
func NewFileStorage(path string) (*FileStorage, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return &FileStorage{path: path, file: f}, nil
}

// Append implements Storage.
func (s *FileStorage) Append(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return trace.Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}

// Entries implements Storage.
func (s *FileStorage) Entries() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	var out []Entry
	decoder := json.NewDecoder(bytes.NewReader(raw))
	for decoder.More() {
		var entry Entry
		if err := decoder.Decode(&entry); err != nil {
			return nil, trace.BadParameter("audit log at %v is corrupt: %v", s.path, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// Close releases the file handle.
func (s *FileStorage) Close() error {
	return trace.Wrap(s.file.Close())
}
