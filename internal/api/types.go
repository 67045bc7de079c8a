package api

import (
	"encoding/json"
	"time"

	"github.com/triage-ai/blinkguard/internal/action"
	"github.com/triage-ai/blinkguard/internal/resolver"
	"github.com/triage-ai/blinkguard/internal/trust"
)

// --- POST /v1/blinks/* request/response ---

// BlinkReq is the JSON body for POST /v1/blinks/resolve and /v1/blinks/inspect.
type BlinkReq struct {
	URL string `json:"url"`
}

// TrustResp is the trust verdict for a resolved blink under the caller's policy.
type TrustResp struct {
	Snapshot       trust.ActionStateWithOrigin   `json:"snapshot"`
	Classification trust.ExtendedActionState     `json:"classification"`
	Levels         trust.NormalizedSecurityLevel `json:"levels"`
	Disclaimer     *trust.Disclaimer             `json:"disclaimer"`
	Allowed        bool                          `json:"allowed"`
	// IsShadow is true when the project runs in shadow mode and the verdict
	// was not enforced.
	IsShadow bool `json:"is_shadow"`
}

// ResolveResp is the response for POST /v1/blinks/resolve.
type ResolveResp struct {
	EventID    string               `json:"event_id"`
	Resolution *resolver.Resolution `json:"resolution"`
	Trust      TrustResp            `json:"trust"`
}

// ComponentResp describes one executable component of an action.
type ComponentResp struct {
	Index      int                `json:"index"`
	Label      string             `json:"label"`
	Kind       string             `json:"kind"`
	Href       string             `json:"href"`
	Parameters []action.Parameter `json:"parameters"`
}

// ActionResp is the display model of a fetched action.
type ActionResp struct {
	URL         string          `json:"url"`
	Icon        string          `json:"icon"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Label       string          `json:"label"`
	Disabled    bool            `json:"disabled"`
	Error       *string         `json:"error"`
	Components  []ComponentResp `json:"components"`
}

// InspectResp is the response for POST /v1/blinks/inspect. Action is nil
// when the blink is blocked or its descriptor could not be fetched.
type InspectResp struct {
	ResolveResp
	Action *ActionResp `json:"action"`
}

// TransactionReq is the JSON body for POST /v1/blinks/transaction.
type TransactionReq struct {
	URL            string            `json:"url"`
	ComponentIndex int               `json:"component_index"`
	Params         map[string]string `json:"params,omitempty"`
	Account        string            `json:"account"`
}

// TransactionResp carries the unsigned transaction returned by the action.
type TransactionResp struct {
	EventID     string    `json:"event_id"`
	Transaction string    `json:"transaction"`
	Message     *string   `json:"message"`
	Trust       TrustResp `json:"trust"`
}

// BlockedResp is returned with 403 when the security check fails.
type BlockedResp struct {
	Detail  string    `json:"detail"`
	EventID string    `json:"event_id"`
	Trust   TrustResp `json:"trust"`
}

// --- Registry ---

// RegistryResp summarizes the current registry snapshot.
type RegistryResp struct {
	Actions       int       `json:"actions"`
	Websites      int       `json:"websites"`
	Interstitials int       `json:"interstitials"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// --- Project CRUD ---

// CreateProjectReq is the JSON body for POST /api/blinks/projects.
type CreateProjectReq struct {
	Name string `json:"name"`
}

// CreateProjectResp includes the plaintext API key (shown once).
type CreateProjectResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKey       string    `json:"api_key"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	Mode         string    `json:"mode"`
	CreatedAt    time.Time `json:"created_at"`
}

// UpdateProjectReq is the JSON body for PATCH /api/blinks/projects/{id}.
type UpdateProjectReq struct {
	Name *string `json:"name,omitempty"`
	Mode *string `json:"mode,omitempty"`
}

// ProjectResp is a project without its key material.
type ProjectResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	Mode         string    `json:"mode"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RotateKeyResp includes the new plaintext API key (shown once).
type RotateKeyResp struct {
	APIKey       string `json:"api_key"`
	APIKeyPrefix string `json:"api_key_prefix"`
}

// --- Security policy CRUD ---

// UpdatePolicyReq is the JSON body for PATCH/PUT policy endpoints.
type UpdatePolicyReq struct {
	SecurityLevel json.RawMessage `json:"security_level,omitempty"`
	TrustedHosts  json.RawMessage `json:"trusted_hosts,omitempty"`
	BlockedHosts  json.RawMessage `json:"blocked_hosts,omitempty"`
}

// PolicyResp is a stored security policy and the thresholds it resolves to.
type PolicyResp struct {
	ID            string                        `json:"id"`
	ProjectID     string                        `json:"project_id"`
	SecurityLevel json.RawMessage               `json:"security_level"`
	TrustedHosts  json.RawMessage               `json:"trusted_hosts"`
	BlockedHosts  json.RawMessage               `json:"blocked_hosts"`
	Levels        trust.NormalizedSecurityLevel `json:"levels"`
	CreatedAt     time.Time                     `json:"created_at"`
	UpdatedAt     time.Time                     `json:"updated_at"`
}

// --- Blink events ---

// EventResp is one recorded blink event.
type EventResp struct {
	EventID        string    `json:"event_id"`
	ProjectID      string    `json:"project_id"`
	Kind           string    `json:"kind"`
	Link           string    `json:"link"`
	ActionURL      string    `json:"action_url"`
	ActionHost     string    `json:"action_host"`
	OriginURL      *string   `json:"origin_url"`
	OriginType     *string   `json:"origin_type"`
	ActionState    string    `json:"action_state"`
	OriginState    *string   `json:"origin_state"`
	Classification string    `json:"classification"`
	Allowed        bool      `json:"allowed"`
	Outcome        string    `json:"outcome"`
	ErrorMessage   *string   `json:"error_message"`
	Account        *string   `json:"account"`
	ComponentLabel *string   `json:"component_label"`
	LatencyMs      float32   `json:"latency_ms"`
	Source         string    `json:"source"`
	Timestamp      time.Time `json:"timestamp"`
}

// EventListResp is a page of blink events.
type EventListResp struct {
	Events   []EventResp `json:"events"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
