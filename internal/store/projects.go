package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Project modes.
const (
	ModeEnforce = "enforce" // blocked blinks never get a transaction
	ModeShadow  = "shadow"  // verdicts are recorded but not enforced
)

// Project represents a row in the projects table.
type Project struct {
	ID           string
	Name         string
	APIKeyHash   string
	APIKeyPrefix string
	Mode         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProjectWithPolicy is a Project joined with its security policy (for auth lookups).
type ProjectWithPolicy struct {
	Project
	Policy Policy
}

// UpdateProjectParams holds optional fields for partial project updates.
type UpdateProjectParams struct {
	Name *string
	Mode *string
}

// APIKeyPrefixLength is the number of leading key characters stored in clear.
const APIKeyPrefixLength = 8

// GenerateAPIKey creates a new bgk_ API key with its bcrypt hash and prefix.
// Returns (fullKey, hash, prefix, error). The fullKey is shown to the user once.
func GenerateAPIKey() (string, string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	fullKey := "bgk_" + hex.EncodeToString(raw) // 68 chars total

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}

	prefix := fullKey[:APIKeyPrefixLength] // "bgk_abcd"
	return fullKey, string(hashBytes), prefix, nil
}

const projectColumns = `id, name, api_key_hash, api_key_prefix, mode, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }, p *Project) error {
	return row.Scan(&p.ID, &p.Name, &p.APIKeyHash, &p.APIKeyPrefix, &p.Mode, &p.CreatedAt, &p.UpdatedAt)
}

// CreateProject inserts a new project and its default security policy in a
// single transaction. Returns the project, policy, and plaintext API key (shown once).
func (s *Store) CreateProject(ctx context.Context, name string) (*Project, *Policy, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, nil, "", fmt.Errorf("CreateProject: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, "", fmt.Errorf("CreateProject: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var p Project
	err = scanProject(tx.QueryRowContext(ctx, `
		INSERT INTO projects (name, api_key_hash, api_key_prefix)
		VALUES ($1, $2, $3)
		RETURNING `+projectColumns,
		name, keyHash, keyPrefix,
	), &p)
	if err != nil {
		return nil, nil, "", fmt.Errorf("CreateProject: %w", err)
	}

	var pol Policy
	err = scanPolicy(tx.QueryRowContext(ctx, `
		INSERT INTO security_policies (project_id)
		VALUES ($1)
		RETURNING `+policyColumns,
		p.ID,
	), &pol)
	if err != nil {
		return nil, nil, "", fmt.Errorf("CreateProject: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, "", fmt.Errorf("CreateProject: %w", err)
	}

	return &p, &pol, fullKey, nil
}

// ListProjects returns all projects ordered by created_at DESC.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ListProjects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var p Project
		if err := scanProject(rows, &p); err != nil {
			return nil, fmt.Errorf("ListProjects: %w", err)
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// GetProject returns a project by ID, or nil if not found.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id), &p)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetProject: %w", err)
	}
	return &p, nil
}

// UpdateProject applies a partial update to a project. Only non-nil fields are changed.
func (s *Store) UpdateProject(ctx context.Context, id string, params UpdateProjectParams) (*Project, error) {
	var p Project
	err := scanProject(s.db.QueryRowContext(ctx, `
		UPDATE projects SET
			name       = COALESCE($2, name),
			mode       = COALESCE($3, mode),
			updated_at = now()
		WHERE id = $1
		RETURNING `+projectColumns,
		id, params.Name, params.Mode,
	), &p)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateProject: %w", err)
	}
	return &p, nil
}

// DeleteProject deletes a project by ID. The security policy cascades.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("DeleteProject: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RotateAPIKey generates a new API key for a project.
// Returns the updated project and the plaintext key (shown once).
func (s *Store) RotateAPIKey(ctx context.Context, id string) (*Project, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}

	var p Project
	err = scanProject(s.db.QueryRowContext(ctx, `
		UPDATE projects SET
			api_key_hash   = $2,
			api_key_prefix = $3,
			updated_at     = now()
		WHERE id = $1
		RETURNING `+projectColumns,
		id, keyHash, keyPrefix,
	), &p)
	if err == sql.ErrNoRows {
		return nil, "", fmt.Errorf("RotateAPIKey: project not found")
	}
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}

	return &p, fullKey, nil
}

// LookupByPrefix finds a project by API key prefix (first 8 chars).
// Used by auth to narrow candidates before bcrypt verify.
func (s *Store) LookupByPrefix(ctx context.Context, prefix string) (*ProjectWithPolicy, error) {
	var pw ProjectWithPolicy
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.api_key_hash, p.api_key_prefix, p.mode, p.created_at, p.updated_at,
		       COALESCE(pol.security_level, '"only-trusted"'::jsonb),
		       COALESCE(pol.trusted_hosts, '[]'::jsonb),
		       COALESCE(pol.blocked_hosts, '[]'::jsonb)
		FROM projects p
		LEFT JOIN security_policies pol ON pol.project_id = p.id
		WHERE p.api_key_prefix = $1`, prefix,
	).Scan(&pw.ID, &pw.Name, &pw.APIKeyHash, &pw.APIKeyPrefix, &pw.Mode, &pw.CreatedAt, &pw.UpdatedAt,
		&pw.Policy.SecurityLevel, &pw.Policy.TrustedHosts, &pw.Policy.BlockedHosts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LookupByPrefix: %w", err)
	}
	pw.Policy.ProjectID = pw.ID
	return &pw, nil
}
