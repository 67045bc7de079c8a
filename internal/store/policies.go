package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/triage-ai/blinkguard/internal/trust"
)

// Policy represents a row in the security_policies table.
type Policy struct {
	ID            string
	ProjectID     string
	SecurityLevel json.RawMessage // JSONB: "only-trusted" or {"websites": ..., ...}
	TrustedHosts  json.RawMessage // JSONB string array
	BlockedHosts  json.RawMessage // JSONB string array
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Config decodes the row into a trust policy.
func (p *Policy) Config() (*trust.PolicyConfig, error) {
	doc := map[string]json.RawMessage{}
	if len(p.SecurityLevel) > 0 {
		doc["security_level"] = p.SecurityLevel
	}
	if len(p.TrustedHosts) > 0 {
		doc["trusted_hosts"] = p.TrustedHosts
	}
	if len(p.BlockedHosts) > 0 {
		doc["blocked_hosts"] = p.BlockedHosts
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("Policy.Config: %w", err)
	}
	return trust.ParsePolicyJSON(raw)
}

// UpdatePolicyParams holds optional fields for partial policy updates.
type UpdatePolicyParams struct {
	SecurityLevel *json.RawMessage // nil = don't change
	TrustedHosts  *json.RawMessage // nil = don't change
	BlockedHosts  *json.RawMessage // nil = don't change
}

// ReplacePolicyParams holds fields for a full policy replace.
type ReplacePolicyParams struct {
	SecurityLevel json.RawMessage
	TrustedHosts  json.RawMessage // may be nil
	BlockedHosts  json.RawMessage // may be nil
}

const policyColumns = `id, project_id, security_level,
	COALESCE(trusted_hosts, '[]'::jsonb), COALESCE(blocked_hosts, '[]'::jsonb),
	created_at, updated_at`

func scanPolicy(row interface{ Scan(...any) error }, p *Policy) error {
	return row.Scan(&p.ID, &p.ProjectID, &p.SecurityLevel, &p.TrustedHosts, &p.BlockedHosts,
		&p.CreatedAt, &p.UpdatedAt)
}

// GetPolicy returns the security policy for a project, or nil if not found.
func (s *Store) GetPolicy(ctx context.Context, projectID string) (*Policy, error) {
	var p Policy
	err := scanPolicy(s.db.QueryRowContext(ctx, `
		SELECT `+policyColumns+`
		FROM security_policies WHERE project_id = $1`, projectID,
	), &p)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetPolicy: %w", err)
	}
	return &p, nil
}

// UpdatePolicy applies a partial update to a policy. Only non-nil fields are changed.
func (s *Store) UpdatePolicy(ctx context.Context, projectID string, params UpdatePolicyParams) (*Policy, error) {
	var p Policy
	err := scanPolicy(s.db.QueryRowContext(ctx, `
		UPDATE security_policies SET
			security_level = COALESCE($2, security_level),
			trusted_hosts  = COALESCE($3, trusted_hosts),
			blocked_hosts  = COALESCE($4, blocked_hosts),
			updated_at     = now()
		WHERE project_id = $1
		RETURNING `+policyColumns,
		projectID, nullableJSON(params.SecurityLevel), nullableJSON(params.TrustedHosts), nullableJSON(params.BlockedHosts),
	), &p)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("UpdatePolicy: %w", err)
	}
	return &p, nil
}

// ReplacePolicy fully replaces a policy's configuration.
func (s *Store) ReplacePolicy(ctx context.Context, projectID string, params ReplacePolicyParams) (*Policy, error) {
	level := params.SecurityLevel
	if level == nil {
		level = json.RawMessage(`"` + string(trust.DefaultSecurityLevel) + `"`)
	}

	var p Policy
	err := scanPolicy(s.db.QueryRowContext(ctx, `
		UPDATE security_policies SET
			security_level = $2,
			trusted_hosts  = $3,
			blocked_hosts  = $4,
			updated_at     = now()
		WHERE project_id = $1
		RETURNING `+policyColumns,
		projectID, level, nullableRaw(params.TrustedHosts), nullableRaw(params.BlockedHosts),
	), &p)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ReplacePolicy: %w", err)
	}
	return &p, nil
}

// nullableJSON returns nil (SQL NULL) if the pointer is nil, otherwise the raw bytes.
func nullableJSON(v *json.RawMessage) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// nullableRaw returns nil (SQL NULL) if the raw message is nil or empty.
func nullableRaw(v json.RawMessage) interface{} {
	if v == nil {
		return nil
	}
	return v
}
