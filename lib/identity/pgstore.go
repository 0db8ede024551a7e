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
	"errors"
	"time"

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/attestra/attestra/api/types"
)

const attestationSchema = `
CREATE TABLE IF NOT EXISTS attestations (
	id                 TEXT NOT NULL,
	policy_id          TEXT NOT NULL,
	subject_id         TEXT NOT NULL,
	provider_id        TEXT NOT NULL,
	account_ref        TEXT NOT NULL DEFAULT '',
	verified           BOOLEAN NOT NULL,
	verified_at        TIMESTAMPTZ NOT NULL,
	expires_at         TIMESTAMPTZ,
	assurance_level    TEXT NOT NULL,
	policy_hash        TEXT NOT NULL DEFAULT '',
	credential_hash    TEXT NOT NULL DEFAULT '',
	subject_commitment TEXT NOT NULL DEFAULT '',
	vc                 TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (provider_id, subject_id)
);
CREATE INDEX IF NOT EXISTS attestations_account_ref ON attestations (account_ref) WHERE account_ref <> '';
`

// PGStore is the postgres-backed attestation store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects to postgres and ensures the schema exists.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	if dsn == "" {
		return nil, trace.BadParameter("missing postgres DSN")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "connecting to postgres")
	}
	if _, err := pool.Exec(ctx, attestationSchema); err != nil {
		pool.Close()
		return nil, trace.ConnectionProblem(err, "preparing attestation schema")
	}
	return &PGStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

// Upsert implements AttestationStore. The merge keeps the existing
// account reference and credential columns unless the incoming record
// supplies new values.
func (s *PGStore) Upsert(ctx context.Context, a *types.Attestation) (*types.Attestation, error) {
	if a.ProviderID == "" || a.SubjectID == "" {
		return nil, trace.BadParameter("attestation requires providerId and subjectId")
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO attestations (
			id, policy_id, subject_id, provider_id, account_ref,
			verified, verified_at, expires_at, assurance_level, policy_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (provider_id, subject_id) DO UPDATE SET
			verified        = EXCLUDED.verified,
			verified_at     = EXCLUDED.verified_at,
			expires_at      = EXCLUDED.expires_at,
			assurance_level = EXCLUDED.assurance_level,
			account_ref     = CASE WHEN EXCLUDED.account_ref <> ''
			                  THEN EXCLUDED.account_ref
			                  ELSE attestations.account_ref END
		RETURNING id, policy_id, subject_id, provider_id, account_ref,
			verified, verified_at, expires_at, assurance_level,
			policy_hash, credential_hash, subject_commitment, vc`,
		a.ID, a.PolicyID, a.SubjectID, a.ProviderID, a.AccountRef,
		a.Verified, a.VerifiedAt, nullableTime(a.ExpiresAt), a.AssuranceLevel, a.PolicyHash)
	out, err := scanAttestation(row)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return out, nil
}

// Get implements AttestationStore.
func (s *PGStore) Get(ctx context.Context, providerID, subjectID string) (*types.Attestation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, policy_id, subject_id, provider_id, account_ref,
			verified, verified_at, expires_at, assurance_level,
			policy_hash, credential_hash, subject_commitment, vc
		FROM attestations WHERE provider_id = $1 AND subject_id = $2`,
		providerID, subjectID)
	out, err := scanAttestation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("attestation for %v/%v not found", providerID, subjectID)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return out, nil
}

// GetByAccountRef implements AttestationStore.
func (s *PGStore) GetByAccountRef(ctx context.Context, accountRef string) (*types.Attestation, error) {
	if accountRef == "" {
		return nil, trace.BadParameter("missing account reference")
	}
	row := s.pool.QueryRow(ctx, `
		SELECT id, policy_id, subject_id, provider_id, account_ref,
			verified, verified_at, expires_at, assurance_level,
			policy_hash, credential_hash, subject_commitment, vc
		FROM attestations WHERE account_ref = $1
		ORDER BY verified_at DESC LIMIT 1`, accountRef)
	out, err := scanAttestation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("attestation for account %v not found", accountRef)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return out, nil
}

// Update implements AttestationStore.
func (s *PGStore) Update(ctx context.Context, a *types.Attestation) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE attestations SET
			id = $3, policy_id = $4, account_ref = $5, verified = $6,
			verified_at = $7, expires_at = $8, assurance_level = $9,
			policy_hash = $10, credential_hash = $11,
			subject_commitment = $12, vc = $13
		WHERE provider_id = $1 AND subject_id = $2`,
		a.ProviderID, a.SubjectID, a.ID, a.PolicyID, a.AccountRef,
		a.Verified, a.VerifiedAt, nullableTime(a.ExpiresAt), a.AssuranceLevel,
		a.PolicyHash, a.CredentialHash, a.SubjectCommitment, a.VC)
	if err != nil {
		return trace.ConnectionProblem(err, "updating attestation")
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("attestation for %v/%v not found", a.ProviderID, a.SubjectID)
	}
	return nil
}

// Delete implements AttestationStore.
func (s *PGStore) Delete(ctx context.Context, providerID, subjectID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM attestations WHERE provider_id = $1 AND subject_id = $2`,
		providerID, subjectID)
	if err != nil {
		return trace.ConnectionProblem(err, "deleting attestation")
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("attestation for %v/%v not found", providerID, subjectID)
	}
	return nil
}

func scanAttestation(row pgx.Row) (*types.Attestation, error) {
	var a types.Attestation
	var expiresAt *time.Time
	if err := row.Scan(&a.ID, &a.PolicyID, &a.SubjectID, &a.ProviderID, &a.AccountRef,
		&a.Verified, &a.VerifiedAt, &expiresAt, &a.AssuranceLevel,
		&a.PolicyHash, &a.CredentialHash, &a.SubjectCommitment, &a.VC); err != nil {
		return nil, err
	}
	if expiresAt != nil {
		a.ExpiresAt = *expiresAt
	}
	return &a, nil
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
