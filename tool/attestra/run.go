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

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gravitational/trace"

	"github.com/attestra/attestra/api/types"
	"github.com/attestra/attestra/lib/audit"
	"github.com/attestra/attestra/lib/config"
	"github.com/attestra/attestra/lib/events"
	"github.com/attestra/attestra/lib/identity"
	"github.com/attestra/attestra/lib/issuance"
	"github.com/attestra/attestra/lib/keystore"
	"github.com/attestra/attestra/lib/ledger"
	"github.com/attestra/attestra/lib/pipeline"
	"github.com/attestra/attestra/lib/policy"
	"github.com/attestra/attestra/lib/sessioncache"
	"github.com/attestra/attestra/lib/verify"
	"github.com/attestra/attestra/lib/web"
	"github.com/attestra/attestra/lib/zkp"
)

// auditConsumerGroup owns the audit projection of issuance events.
const auditConsumerGroup = "attestra-audit"

// run constructs the object graph from the validated configuration and
// serves until ctx is canceled. Construction order follows the signing
// chain: keys first, then the audit log that signs with them, then
// everything that records into it.
func run(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()

	keys, err := keystore.NewManager(keystore.Config{
		IssuerDID:   cfg.IssuerDID,
		GracePeriod: cfg.KeyGracePeriod,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	var auditStorage audit.Storage
	if cfg.AuditFilePath != "" {
		if auditStorage, err = audit.NewFileStorage(cfg.AuditFilePath); err != nil {
			return trace.Wrap(err)
		}
	}
	auditLog, err := audit.NewLog(audit.Config{Signer: keys, Storage: auditStorage})
	if err != nil {
		return trace.Wrap(err)
	}
	keys.SetRecorder(auditLog)

	policies, err := policy.NewRegistry(policy.Config{
		Signer:   keys,
		Recorder: auditLog,
		Minimums: cfg.PolicyMinimums,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	for i := range cfg.Policies {
		if err := policies.Create(&cfg.Policies[i]); err != nil {
			return trace.Wrap(err, "seeding policy %v@%v", cfg.Policies[i].PolicyID, cfg.Policies[i].Version)
		}
	}

	var anchor issuance.Anchor
	switch cfg.LedgerMode {
	case config.LedgerModeFile:
		if anchor, err = ledger.NewStore(ledger.Config{Path: cfg.LedgerFilePath}); err != nil {
			return trace.Wrap(err)
		}
	case config.LedgerModeMemory:
		logger.Warn("Ledger is in memory mode, anchors will not survive a restart.")
		anchor = ledger.NewMemoryStore(nil)
	}

	if cfg.RedisAddr == "" {
		return trace.BadParameter("redis.addr is required to run the identity service")
	}
	cache, err := sessioncache.NewFromAddr(cfg.RedisAddr)
	if err != nil {
		return trace.Wrap(err)
	}

	var store identity.AttestationStore
	if cfg.PostgresDSN != "" {
		pg, err := identity.NewPGStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return trace.Wrap(err)
		}
		defer pg.Close()
		store = pg
	} else {
		logger.Warn("Attestation store is in memory, attestations will not survive a restart.")
		store = identity.NewMemoryStore()
	}

	var publisher events.Publisher
	var bus *events.MemoryBus
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := events.NewKafkaPublisher(cfg.KafkaBrokers)
		if err != nil {
			return trace.Wrap(err)
		}
		defer kafka.Close()
		publisher = kafka
	} else {
		logger.Warn("No kafka brokers configured, using the in-process event bus.")
		bus = events.NewMemoryBus()
		publisher = bus
	}

	if len(cfg.Providers) == 0 {
		return trace.BadParameter("at least one eID provider must be configured")
	}
	providers := make(map[string]identity.Provider, len(cfg.Providers))
	for id, pc := range cfg.Providers {
		hub, err := identity.NewHubClient(pc.Addr, pc.Timeout)
		if err != nil {
			return trace.Wrap(err, "provider %v", id)
		}
		providers[id] = identity.Provider{Client: hub, Mapper: identity.AgeMapper{}}
	}

	identityService, err := identity.NewService(identity.ServiceConfig{
		Providers:  providers,
		Cache:      cache,
		Store:      store,
		Publisher:  publisher,
		SessionTTL: cfg.SessionTTL,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	issuanceService, err := issuance.NewService(issuance.Config{
		Keys:      keys,
		Policies:  policies,
		Ledger:    anchor,
		Store:     store,
		Publisher: publisher,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	var zkpClient zkp.Client
	switch cfg.ZKPBackend {
	case config.ZKPBackendLocal:
		if zkpClient, err = zkp.NewLocalVerifier(cfg.VerificationKeyPath); err != nil {
			return trace.Wrap(err)
		}
	case config.ZKPBackendRemote:
		if zkpClient, err = zkp.NewRemoteVerifier(cfg.ZKPAddr, cfg.ZKPTimeout); err != nil {
			return trace.Wrap(err)
		}
	}

	registry := verify.NewRegistry()
	zkAge, err := verify.NewZKAgeVerifier(verify.ZKAgeConfig{
		Policies: policies,
		Keys:     keys,
		ZKP:      zkpClient,
		Origin:   cfg.Origin,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	if err := registry.Register(zkAge); err != nil {
		return trace.Wrap(err)
	}
	if cfg.AllowBooleanVC {
		logger.Warn("Boolean credential fallback is enabled, presentations will disclose the age claim.")
		boolean, err := verify.NewBooleanVerifier(verify.BooleanConfig{
			Policies: policies,
			Keys:     keys,
			Origin:   cfg.Origin,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		if err := registry.Register(boolean); err != nil {
			return trace.Wrap(err)
		}
	}
	verifyService, err := verify.NewService(verify.Config{
		Registry:  registry,
		Audit:     auditLog,
		Publisher: publisher,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	handler, err := web.NewHandler(web.Config{
		Identity: identityService,
		Issuance: issuanceService,
		Verify:   verifyService,
		Keys:     keys,
		Policies: policies,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	supervisor := pipeline.NewSupervisor(logger)

	issuedConsumer, err := pipeline.NewConsumer(pipeline.ConsumerConfig{
		Topic:       types.TopicCredentialIssued,
		Group:       auditConsumerGroup,
		Decode:      decodeCredentialIssued,
		Handle:      recordIssuance(auditLog),
		DLQ:         publisher,
		DisableDLQ:  !cfg.DLQEnabled,
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		BackoffMax:  cfg.BackoffMax,
		JitterPct:   cfg.JitterPct,
		DLQSuffix:   cfg.DLQTopicSuffix,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	supervisor.Add("credential-issued-audit", func(ctx context.Context) error {
		if bus != nil {
			return trace.Wrap(issuedConsumer.RunMemory(ctx, bus))
		}
		return trace.Wrap(issuedConsumer.RunKafka(ctx, cfg.KafkaBrokers))
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	supervisor.Add("http", func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			logger.Info("Serving the API.", "addr", cfg.ListenAddr)
			errCh <- server.ListenAndServe()
		}()
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return trace.Wrap(server.Shutdown(shutdownCtx))
		case err := <-errCh:
			return trace.Wrap(err)
		}
	})

	return trace.Wrap(supervisor.Run(ctx))
}

func decodeCredentialIssued(payload []byte) (any, error) {
	var event types.CredentialIssued
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, trace.BadParameter("credential.issued payload is not valid JSON: %v", err)
	}
	if event.CredentialHash == "" {
		return nil, trace.BadParameter("credential.issued payload has no credential hash")
	}
	return &event, nil
}

// recordIssuance projects issuance events into the signed audit log. The
// entry carries the issuance timestamps only, never the account
// correlation.
func recordIssuance(log *audit.Log) pipeline.HandleFunc {
	return func(ctx context.Context, msg any) error {
		event, ok := msg.(*types.CredentialIssued)
		if !ok {
			return trace.BadParameter("unexpected message type %T", msg)
		}
		_, err := log.Append(ctx, audit.Entry{
			Topic:   audit.TopicIssuance,
			Outcome: "issued",
			ReasonCodes: []string{
				"expires/" + event.ExpiresAt.UTC().Format(time.RFC3339),
			},
		})
		return trace.Wrap(err)
	}
}
