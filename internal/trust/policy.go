package trust

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PolicyConfig is a caller's security policy. It is loaded from a YAML file
// (blinkctl, blink-server default policy) or from a project's JSONB policy
// column.
type PolicyConfig struct {
	SecurityLevel LevelSpec `json:"security_level" yaml:"security_level"`
	// TrustedHosts are treated as trusted in every category unless the
	// registry or BlockedHosts marks them malicious.
	TrustedHosts []string `json:"trusted_hosts,omitempty" yaml:"trusted_hosts"`
	// BlockedHosts are treated as malicious in every category.
	BlockedHosts []string `json:"blocked_hosts,omitempty" yaml:"blocked_hosts"`
}

// DefaultPolicy returns the built-in policy: only-trusted everywhere, no
// host overrides.
func DefaultPolicy() *PolicyConfig {
	return &PolicyConfig{SecurityLevel: LevelSpec{NormalizedSecurityLevel: DefaultNormalizedSecurityLevel()}}
}

// Levels returns the normalized thresholds with defaults filled in.
// A nil policy yields the default.
func (p *PolicyConfig) Levels() NormalizedSecurityLevel {
	if p == nil {
		return DefaultNormalizedSecurityLevel()
	}
	return p.SecurityLevel.withDefaults()
}

// Validate checks every configured level name.
func (p *PolicyConfig) Validate() error {
	lv := p.SecurityLevel.NormalizedSecurityLevel
	for name, l := range map[string]SecurityLevel{
		"websites":      lv.Websites,
		"interstitials": lv.Interstitials,
		"actions":       lv.Actions,
	} {
		if l == "" {
			continue
		}
		if _, err := ParseSecurityLevel(string(l)); err != nil {
			return fmt.Errorf("security_level.%s: %w", name, err)
		}
	}
	return nil
}

// LevelSpec accepts either a single level applied to every category or a
// per-category object.
//
//	security_level: only-trusted
//	security_level: {websites: non-malicious, interstitials: all, actions: only-trusted}
type LevelSpec struct {
	NormalizedSecurityLevel `yaml:",inline"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *LevelSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		level, err := ParseSecurityLevel(node.Value)
		if err != nil {
			return err
		}
		l.NormalizedSecurityLevel = Uniform(level)
		return nil
	}
	var n NormalizedSecurityLevel
	if err := node.Decode(&n); err != nil {
		return err
	}
	l.NormalizedSecurityLevel = n
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *LevelSpec) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		level, err := ParseSecurityLevel(s)
		if err != nil {
			return err
		}
		l.NormalizedSecurityLevel = Uniform(level)
		return nil
	}
	var n NormalizedSecurityLevel
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	l.NormalizedSecurityLevel = n
	return nil
}

// MarshalJSON always emits the per-category object.
func (l LevelSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.NormalizedSecurityLevel)
}

// ParsePolicyJSON decodes a JSON policy document. Empty documents yield the
// default policy.
func ParsePolicyJSON(raw []byte) (*PolicyConfig, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "{}" || trimmed == "null" {
		return DefaultPolicy(), nil
	}
	var p PolicyConfig
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPolicyFile reads a YAML policy file.
func LoadPolicyFile(path string) (*PolicyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	var p PolicyConfig
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	return &p, nil
}
