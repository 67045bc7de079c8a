package api

import (
	"encoding/json"
	"net/http"

	"github.com/triage-ai/blinkguard/internal/store"
	"github.com/triage-ai/blinkguard/internal/trust"
	"go.uber.org/zap"
)

func (d *Dependencies) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")
	policy, err := d.Store.GetPolicy(r.Context(), projectID)
	if err != nil {
		d.Logger.Error("failed to get policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get policy"})
		return
	}
	if policy == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Policy not found."})
		return
	}
	writeJSON(w, http.StatusOK, policyToResp(policy))
}

func (d *Dependencies) handleReplacePolicy(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")

	var req UpdatePolicyReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if err := validatePolicyReq(req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	policy, err := d.Store.ReplacePolicy(r.Context(), projectID, store.ReplacePolicyParams{
		SecurityLevel: req.SecurityLevel,
		TrustedHosts:  req.TrustedHosts,
		BlockedHosts:  req.BlockedHosts,
	})
	if err != nil {
		d.Logger.Error("failed to replace policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to replace policy"})
		return
	}
	if policy == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Policy not found."})
		return
	}
	writeJSON(w, http.StatusOK, policyToResp(policy))
}

func (d *Dependencies) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")

	var req UpdatePolicyReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if err := validatePolicyReq(req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	params := store.UpdatePolicyParams{}
	if req.SecurityLevel != nil {
		params.SecurityLevel = &req.SecurityLevel
	}
	if req.TrustedHosts != nil {
		params.TrustedHosts = &req.TrustedHosts
	}
	if req.BlockedHosts != nil {
		params.BlockedHosts = &req.BlockedHosts
	}

	policy, err := d.Store.UpdatePolicy(r.Context(), projectID, params)
	if err != nil {
		d.Logger.Error("failed to update policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update policy"})
		return
	}
	if policy == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Policy not found."})
		return
	}
	writeJSON(w, http.StatusOK, policyToResp(policy))
}

// validatePolicyReq parses the provided fields as a policy document so that
// unknown levels and malformed host lists are rejected before they are stored.
func validatePolicyReq(req UpdatePolicyReq) error {
	p := store.Policy{
		SecurityLevel: req.SecurityLevel,
		TrustedHosts:  req.TrustedHosts,
		BlockedHosts:  req.BlockedHosts,
	}
	_, err := p.Config()
	return err
}

func policyToResp(p *store.Policy) PolicyResp {
	levels := trust.DefaultNormalizedSecurityLevel()
	if cfg, err := p.Config(); err == nil {
		levels = cfg.Levels()
	}
	return PolicyResp{
		ID:            p.ID,
		ProjectID:     p.ProjectID,
		SecurityLevel: p.SecurityLevel,
		TrustedHosts:  orEmptyArray(p.TrustedHosts),
		BlockedHosts:  orEmptyArray(p.BlockedHosts),
		Levels:        levels,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func orEmptyArray(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage(`[]`)
	}
	return raw
}
