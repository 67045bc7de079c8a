package trust

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/triage-ai/blinkguard/internal/registry"
	"go.uber.org/zap"
)

// RegistrySource provides the current registry snapshot.
// Implemented by *registry.Cache.
type RegistrySource interface {
	Get(ctx context.Context) (*registry.ActionsRegistry, time.Time)
}

// Target identifies what is being evaluated: the action API URL and,
// when the action was reached through a website or interstitial, that
// origin URL and its category.
type Target struct {
	ActionURL  string
	OriginURL  string
	OriginType registry.Source
}

// Evaluator turns registry records and policy host overrides into trust
// snapshots.
type Evaluator struct {
	registry RegistrySource
	logger   *zap.Logger
}

// NewEvaluator creates an Evaluator over a registry source.
func NewEvaluator(src RegistrySource, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{registry: src, logger: logger}
}

// Snapshot computes the current trust snapshot for target. It reads the
// registry on every call so that callers re-checking before a side effect
// see the latest data.
func (e *Evaluator) Snapshot(ctx context.Context, target Target, policy *PolicyConfig) ActionStateWithOrigin {
	reg, _ := e.registry.Get(ctx)

	snap := ActionStateWithOrigin{
		Action: e.stateFor(reg, target.ActionURL, registry.SourceActions, policy),
	}
	if target.OriginURL != "" && target.OriginType != "" {
		snap = snap.WithOrigin(e.stateFor(reg, target.OriginURL, target.OriginType, policy), target.OriginType)
	}
	return snap
}

// SnapshotFunc binds a target and policy so an executor can re-evaluate
// trust before each execution.
func (e *Evaluator) SnapshotFunc(target Target, policy *PolicyConfig) func(ctx context.Context) ActionStateWithOrigin {
	return func(ctx context.Context) ActionStateWithOrigin {
		return e.Snapshot(ctx, target, policy)
	}
}

func (e *Evaluator) stateFor(reg *registry.ActionsRegistry, rawURL string, source registry.Source, policy *PolicyConfig) ExtendedActionState {
	state := FromEntity(reg.Lookup(rawURL, source))
	if policy == nil {
		return state
	}

	host := hostOf(rawURL)
	if host == "" {
		return state
	}
	if containsHost(policy.BlockedHosts, host) {
		e.logger.Debug("host blocked by policy override",
			zap.String("host", host),
			zap.String("source", string(source)),
		)
		return StateMalicious
	}
	if state != StateMalicious && containsHost(policy.TrustedHosts, host) {
		return StateTrusted
	}
	return state
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

func containsHost(hosts []string, host string) bool {
	for _, h := range hosts {
		if strings.EqualFold(strings.TrimSpace(h), host) {
			return true
		}
	}
	return false
}
