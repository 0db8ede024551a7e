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

// Package web exposes the platform over HTTP. Handlers are thin
// adapters: decode, call the service, encode. No business rules live
// here.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/attestra/attestra"
	"github.com/attestra/attestra/api/types"
	"github.com/attestra/attestra/lib/identity"
	"github.com/attestra/attestra/lib/issuance"
	"github.com/attestra/attestra/lib/keystore"
	"github.com/attestra/attestra/lib/policy"
	logutils "github.com/attestra/attestra/lib/utils/log"
	"github.com/attestra/attestra/lib/verify"
)

// Config holds the services the API serves.
type Config struct {
	Identity *identity.Service
	Issuance *issuance.Service
	Verify   *verify.Service
	Keys     *keystore.Manager
	Policies *policy.Registry
	Logger   *slog.Logger
}

func (c *Config) checkAndSetDefaults() error {
	if c.Identity == nil || c.Issuance == nil || c.Verify == nil {
		return trace.BadParameter("web handler requires identity, issuance and verify services")
	}
	if c.Keys == nil {
		return trace.BadParameter("missing key manager")
	}
	if c.Policies == nil {
		return trace.BadParameter("missing policy registry")
	}
	if c.Logger == nil {
		c.Logger = logutils.NewPackageLogger(attestra.ComponentKey, attestra.ComponentWeb)
	}
	return nil
}

// Handler is the HTTP API handler.
type Handler struct {
	cfg    Config
	router *httprouter.Router
}

// NewHandler creates the API handler with all routes bound.
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	h := &Handler{cfg: cfg, router: httprouter.New()}

	h.router.POST("/v1/auth/:provider/start", h.startAuth)
	h.router.GET("/v1/auth/:provider/callback", h.authCallback)
	h.router.GET("/v1/auth/session/:id/status", h.sessionStatus)
	h.router.POST("/v1/credentials/issue", h.issueCredential)
	h.router.POST("/v1/verify", h.verifyPresentation)
	h.router.GET("/v1/policies/:id", h.getPolicy)
	h.router.DELETE("/v1/attestations/:provider/:subject", h.eraseAttestation)
	h.router.GET("/.well-known/jwks.json", h.jwks)

	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

type startAuthRequest struct {
	AccountRef string `json:"accountRef"`
}

func (h *Handler) startAuth(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var req startAuthRequest
	if err := readJSON(r, &req); err != nil {
		h.replyError(w, r, err)
		return
	}
	started, err := h.cfg.Identity.Start(r.Context(), p.ByName("provider"), req.AccountRef)
	if err != nil {
		h.replyError(w, r, err)
		return
	}
	replyJSON(w, http.StatusOK, started)
}

func (h *Handler) authCallback(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		h.replyError(w, r, trace.BadParameter("missing sessionId query parameter"))
		return
	}
	result, err := h.cfg.Identity.HandleCallback(r.Context(), sessionID)
	if err != nil {
		h.replyError(w, r, err)
		return
	}
	// The attestation body stays server side; callers only learn the
	// outcome.
	replyJSON(w, http.StatusOK, map[string]string{
		"status":     result.Status,
		"reasonCode": result.ReasonCode,
	})
}

func (h *Handler) sessionStatus(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	status, err := h.cfg.Identity.SessionStatus(r.Context(), p.ByName("id"))
	if err != nil {
		h.replyError(w, r, err)
		return
	}
	replyJSON(w, http.StatusOK, map[string]string{"status": status})
}

type issueRequest struct {
	AccountRef        string `json:"accountRef"`
	PolicyID          string `json:"policyId"`
	SubjectCommitment string `json:"subjectCommitment"`
}

func (h *Handler) issueCredential(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req issueRequest
	if err := readJSON(r, &req); err != nil {
		h.replyError(w, r, err)
		return
	}
	issued, err := h.cfg.Issuance.IssueCredential(r.Context(), req.AccountRef, req.PolicyID, req.SubjectCommitment)
	if err != nil {
		h.replyError(w, r, err)
		return
	}
	replyJSON(w, http.StatusOK, issued)
}

func (h *Handler) verifyPresentation(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req types.VerificationRequest
	if err := readJSON(r, &req); err != nil {
		h.replyError(w, r, err)
		return
	}
	result, err := h.cfg.Verify.Verify(r.Context(), &req)
	if err != nil {
		h.replyError(w, r, err)
		return
	}
	replyJSON(w, http.StatusOK, result)
}

func (h *Handler) getPolicy(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	def, err := h.cfg.Policies.GetPolicy(p.ByName("id"), r.URL.Query().Get("version"))
	if err != nil {
		h.replyError(w, r, err)
		return
	}
	replyJSON(w, http.StatusOK, def)
}

func (h *Handler) eraseAttestation(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if err := h.cfg.Identity.Erase(r.Context(), p.ByName("provider"), p.ByName("subject")); err != nil {
		h.replyError(w, r, err)
		return
	}
	replyJSON(w, http.StatusOK, map[string]string{"status": "erased"})
}

func (h *Handler) jwks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	replyJSON(w, http.StatusOK, h.cfg.Keys.GetJWKS())
}

func readJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return trace.BadParameter("invalid request body: %v", err)
	}
	return nil
}

func replyJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Warn("Failed to encode response.", "error", err)
	}
}

// replyError maps error classes to HTTP statuses.
func (h *Handler) replyError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case trace.IsBadParameter(err):
		status = http.StatusBadRequest
	case trace.IsNotFound(err):
		status = http.StatusNotFound
	case trace.IsAlreadyExists(err):
		status = http.StatusConflict
	case trace.IsAccessDenied(err):
		status = http.StatusForbidden
	case trace.IsConnectionProblem(err):
		status = http.StatusServiceUnavailable
	case trace.IsLimitExceeded(err):
		status = http.StatusTooManyRequests
	}
	if status == http.StatusInternalServerError {
		h.cfg.Logger.ErrorContext(r.Context(), "Request failed.", "path", r.URL.Path, "error", err)
	}
	replyJSON(w, status, map[string]string{"message": trace.UserMessage(err)})
}
