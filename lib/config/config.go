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

// Package config loads the YAML service configuration and validates it
// into the typed runtime configuration the entry point wires from.
package config

import (
	"os"
	"time"

	"github.com/ghodss/yaml"
	"github.com/gravitational/trace"

	"github.com/attestra/attestra/api/types"
	"github.com/attestra/attestra/lib/defaults"
)

// Ledger modes.
const (
	LedgerModeFile   = "file"
	LedgerModeMemory = "memory"
)

// ZKP backends.
const (
	ZKPBackendLocal  = "local"
	ZKPBackendRemote = "remote"
)

// FileConfig mirrors the YAML document. All fields are optional unless
// validation below says otherwise.
type FileConfig struct {
	Issuer struct {
		// DID is the issuer DID, e.g. "did:web:issuer.example.com".
		DID string `json:"did"`
		// Origin is the relying-party origin presentations must target.
		Origin string `json:"origin"`
	} `json:"issuer"`

	Listen struct {
		// Addr is the HTTP listen address.
		Addr string `json:"addr"`
	} `json:"listen"`

	Ledger struct {
		// Mode is "file" or "memory".
		Mode string `json:"mode"`
		// FilePath locates the ledger snapshot in file mode.
		FilePath string `json:"filePath"`
	} `json:"ledger"`

	KeyManager struct {
		// GracePeriod is how long deprecated keys keep verifying,
		// e.g. "336h".
		GracePeriod string `json:"gracePeriod"`
	} `json:"keyManager"`

	Session struct {
		// TTL bounds pending eID sessions, e.g. "10m".
		TTL string `json:"ttl"`
	} `json:"session"`

	// Providers maps provider IDs to their eID hub endpoints.
	Providers map[string]ProviderConfig `json:"providers"`

	PolicyRegistry struct {
		// Minimums maps policy IDs to their anti-downgrade floor.
		Minimums map[string]string `json:"minimums"`
		// Policies seeds the registry at startup.
		Policies []PolicyFileConfig `json:"policies"`
	} `json:"policyRegistry"`

	DLQ struct {
		Enabled       *bool   `json:"enabled"`
		MaxAttempts   int     `json:"maxAttempts"`
		BackoffBaseMs int     `json:"backoffBaseMs"`
		BackoffMaxMs  int     `json:"backoffMaxMs"`
		JitterPct     float64 `json:"jitterPct"`
		TopicSuffix   string  `json:"topicSuffix"`
	} `json:"dlq"`

	Kafka struct {
		// Brokers lists bootstrap brokers. Empty means the in-process bus.
		Brokers []string `json:"brokers"`
	} `json:"kafka"`

	Redis struct {
		// Addr is the redis address. Empty disables the session cache
		// backend selection and is rejected by services that need it.
		Addr string `json:"addr"`
	} `json:"redis"`

	Postgres struct {
		// DSN connects the attestation store. Empty means in-memory.
		DSN string `json:"dsn"`
	} `json:"postgres"`

	ZKP struct {
		// Backend is "local" or "remote".
		Backend string `json:"backend"`
		// VerificationKeyPath locates the Groth16 verification key for
		// the local backend.
		VerificationKeyPath string `json:"verificationKeyPath"`
		// Addr is the remote verifier address.
		Addr string `json:"addr"`
		// Timeout bounds remote calls, e.g. "10s".
		Timeout string `json:"timeout"`
	} `json:"zkp"`

	Verification struct {
		// AllowBooleanVC opts in to the non-zk boolean fallback verifier.
		AllowBooleanVC bool `json:"allowBooleanVc"`
	} `json:"verification"`

	Audit struct {
		// FilePath locates the append-only audit log. Empty keeps the
		// log in memory.
		FilePath string `json:"filePath"`
	} `json:"audit"`
}

// PolicyFileConfig seeds one policy definition.
type PolicyFileConfig struct {
	PolicyID string `json:"policyId"`
	Version  string `json:"version"`
	// CircuitID names the proving circuit this policy binds to.
	CircuitID string `json:"circuitId"`
	// DefaultExpiry is the credential lifetime, e.g. "24h".
	DefaultExpiry string `json:"defaultExpiry"`
	// Status defaults to Active.
	Status string `json:"status"`
}

// ProviderConfig describes one registered eID provider.
type ProviderConfig struct {
	// Addr is the hub base URL for this provider.
	Addr string `json:"addr"`
	// Timeout bounds hub calls, e.g. "15s".
	Timeout string `json:"timeout"`
}

// Provider is a validated eID provider endpoint.
type Provider struct {
	Addr    string
	Timeout time.Duration
}

// Config is the validated runtime configuration.
type Config struct {
	IssuerDID string
	Origin    string

	ListenAddr string

	LedgerMode     string
	LedgerFilePath string

	KeyGracePeriod time.Duration
	SessionTTL     time.Duration

	Providers map[string]Provider

	PolicyMinimums map[string]string
	Policies       []types.PolicyDefinition

	DLQEnabled     bool
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	JitterPct      float64
	DLQTopicSuffix string

	KafkaBrokers []string
	RedisAddr    string
	PostgresDSN  string

	ZKPBackend          string
	VerificationKeyPath string
	ZKPAddr             string
	ZKPTimeout          time.Duration

	AllowBooleanVC bool

	AuditFilePath string
}

// ReadFromFile loads and validates the YAML configuration at path.
func ReadFromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return ReadFromBytes(raw)
}

// ReadFromBytes parses and validates a YAML configuration document.
func ReadFromBytes(raw []byte) (*Config, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, trace.BadParameter("failed to parse configuration: %v", err)
	}
	return Apply(&fc)
}

// Apply validates a FileConfig into a Config, filling defaults.
func Apply(fc *FileConfig) (*Config, error) {
	cfg := &Config{
		IssuerDID:      fc.Issuer.DID,
		Origin:         fc.Issuer.Origin,
		ListenAddr:     fc.Listen.Addr,
		LedgerMode:     fc.Ledger.Mode,
		LedgerFilePath: fc.Ledger.FilePath,
		PolicyMinimums: fc.PolicyRegistry.Minimums,
		MaxAttempts:    fc.DLQ.MaxAttempts,
		JitterPct:      fc.DLQ.JitterPct,
		DLQTopicSuffix: fc.DLQ.TopicSuffix,
		KafkaBrokers:   fc.Kafka.Brokers,
		RedisAddr:      fc.Redis.Addr,
		PostgresDSN:    fc.Postgres.DSN,
		ZKPBackend:     fc.ZKP.Backend,

		VerificationKeyPath: fc.ZKP.VerificationKeyPath,
		ZKPAddr:             fc.ZKP.Addr,
		AllowBooleanVC:      fc.Verification.AllowBooleanVC,
		AuditFilePath:       fc.Audit.FilePath,
	}

	if cfg.IssuerDID == "" {
		return nil, trace.BadParameter("issuer.did is required")
	}
	if cfg.Origin == "" {
		return nil, trace.BadParameter("issuer.origin is required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaults.HTTPListenAddr
	}

	switch cfg.LedgerMode {
	case "":
		cfg.LedgerMode = LedgerModeFile
	case LedgerModeFile, LedgerModeMemory:
	default:
		return nil, trace.BadParameter("ledger.mode must be %q or %q, got %q",
			LedgerModeFile, LedgerModeMemory, cfg.LedgerMode)
	}
	if cfg.LedgerMode == LedgerModeFile && cfg.LedgerFilePath == "" {
		return nil, trace.BadParameter("ledger.filePath is required in file mode")
	}

	var err error
	if cfg.KeyGracePeriod, err = duration(fc.KeyManager.GracePeriod, defaults.KeyGracePeriod); err != nil {
		return nil, trace.BadParameter("keyManager.gracePeriod: %v", err)
	}
	if cfg.SessionTTL, err = duration(fc.Session.TTL, defaults.SessionTTL); err != nil {
		return nil, trace.BadParameter("session.ttl: %v", err)
	}
	if cfg.ZKPTimeout, err = duration(fc.ZKP.Timeout, defaults.ZKPTimeout); err != nil {
		return nil, trace.BadParameter("zkp.timeout: %v", err)
	}

	for _, pc := range fc.PolicyRegistry.Policies {
		if pc.PolicyID == "" || pc.Version == "" {
			return nil, trace.BadParameter("policyRegistry.policies entries require policyId and version")
		}
		expiry, err := duration(pc.DefaultExpiry, defaults.CredentialMaxTTL)
		if err != nil {
			return nil, trace.BadParameter("policyRegistry.policies %v@%v defaultExpiry: %v", pc.PolicyID, pc.Version, err)
		}
		status := pc.Status
		if status == "" {
			status = types.PolicyStatusActive
		}
		cfg.Policies = append(cfg.Policies, types.PolicyDefinition{
			PolicyID:      pc.PolicyID,
			Version:       pc.Version,
			CircuitID:     pc.CircuitID,
			DefaultExpiry: expiry,
			Status:        status,
		})
	}

	if len(fc.Providers) > 0 {
		cfg.Providers = make(map[string]Provider, len(fc.Providers))
		for id, pc := range fc.Providers {
			if pc.Addr == "" {
				return nil, trace.BadParameter("providers.%v.addr is required", id)
			}
			timeout, err := duration(pc.Timeout, defaults.HubTimeout)
			if err != nil {
				return nil, trace.BadParameter("providers.%v.timeout: %v", id, err)
			}
			cfg.Providers[id] = Provider{Addr: pc.Addr, Timeout: timeout}
		}
	}

	cfg.DLQEnabled = fc.DLQ.Enabled == nil || *fc.DLQ.Enabled
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.PipelineMaxAttempts
	}
	if cfg.JitterPct < 0 || cfg.JitterPct >= 1 {
		return nil, trace.BadParameter("dlq.jitterPct must be in [0, 1), got %v", cfg.JitterPct)
	}
	if cfg.JitterPct == 0 {
		cfg.JitterPct = defaults.PipelineJitterPct
	}
	cfg.BackoffBase = msOrDefault(fc.DLQ.BackoffBaseMs, defaults.PipelineBackoffBase)
	cfg.BackoffMax = msOrDefault(fc.DLQ.BackoffMaxMs, defaults.PipelineBackoffMax)
	if cfg.BackoffMax < cfg.BackoffBase {
		return nil, trace.BadParameter("dlq.backoffMaxMs must be at least dlq.backoffBaseMs")
	}
	if cfg.DLQTopicSuffix == "" {
		cfg.DLQTopicSuffix = ".DLQ"
	}

	switch cfg.ZKPBackend {
	case "":
		cfg.ZKPBackend = ZKPBackendLocal
	case ZKPBackendLocal, ZKPBackendRemote:
	default:
		return nil, trace.BadParameter("zkp.backend must be %q or %q, got %q",
			ZKPBackendLocal, ZKPBackendRemote, cfg.ZKPBackend)
	}
	if cfg.ZKPBackend == ZKPBackendLocal && cfg.VerificationKeyPath == "" {
		return nil, trace.BadParameter("zkp.verificationKeyPath is required for the local backend")
	}
	if cfg.ZKPBackend == ZKPBackendRemote && cfg.ZKPAddr == "" {
		return nil, trace.BadParameter("zkp.addr is required for the remote backend")
	}

	return cfg, nil
}

func duration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, trace.BadParameter("must be positive")
	}
	return d, nil
}

func msOrDefault(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
