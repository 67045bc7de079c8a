package cli

import (
	"context"
	"fmt"
	"net/http"

	"github.com/triage-ai/blinkguard/internal/action"
	"github.com/triage-ai/blinkguard/internal/registry"
	"github.com/triage-ai/blinkguard/internal/resolver"
	"github.com/triage-ai/blinkguard/internal/trust"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// session is the per-invocation wiring built from the global flags.
type session struct {
	logger    *zap.Logger
	registry  *registry.Cache
	resolver  *resolver.Resolver
	evaluator *trust.Evaluator
	actions   *action.Client
	policy    *trust.PolicyConfig
}

// verdict is a resolved link and its trust evaluation.
type verdict struct {
	Resolution     *resolver.Resolution          `json:"resolution"`
	Snapshot       trust.ActionStateWithOrigin   `json:"snapshot"`
	Classification trust.ExtendedActionState     `json:"classification"`
	Levels         trust.NormalizedSecurityLevel `json:"levels"`
	Allowed        bool                          `json:"allowed"`
	Disclaimer     *trust.Disclaimer             `json:"disclaimer"`
}

func (v *verdict) target() trust.Target {
	return trust.Target{
		ActionURL:  v.Resolution.ActionURL,
		OriginURL:  v.Resolution.OriginURL,
		OriginType: v.Resolution.OriginType,
	}
}

func (o *Options) newSession() (*session, error) {
	logger, err := buildLogger(o.LogLevel)
	if err != nil {
		return nil, err
	}
	policy, err := o.loadPolicy()
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: o.Timeout}
	reg := registry.NewCache(registry.CacheConfig{
		RegistryURL: o.RegistryURL,
		HTTPClient:  client,
		Logger:      logger,
	})
	return &session{
		logger:    logger,
		registry:  reg,
		resolver:  resolver.New(resolver.NewManifestClient(client, resolver.DefaultManifestTTL, logger), logger),
		evaluator: trust.NewEvaluator(reg, logger),
		actions:   action.NewClient(action.ClientConfig{HTTPClient: client, Logger: logger}),
		policy:    policy,
	}, nil
}

// loadPolicy reads --policy and applies --security-level on top of it.
func (o *Options) loadPolicy() (*trust.PolicyConfig, error) {
	policy := trust.DefaultPolicy()
	if o.PolicyPath != "" {
		p, err := trust.LoadPolicyFile(o.PolicyPath)
		if err != nil {
			return nil, err
		}
		policy = p
	}
	if o.SecurityLevel != "" {
		level, err := trust.ParseSecurityLevel(o.SecurityLevel)
		if err != nil {
			return nil, err
		}
		policy.SecurityLevel = trust.LevelSpec{NormalizedSecurityLevel: trust.Uniform(level)}
	}
	return policy, nil
}

func (s *session) evaluate(ctx context.Context, link string) (*verdict, error) {
	res, err := s.resolver.Resolve(ctx, link)
	if err != nil {
		return nil, err
	}
	v := &verdict{Resolution: res, Levels: s.policy.Levels()}
	v.Snapshot = s.evaluator.Snapshot(ctx, v.target(), s.policy)
	v.Classification = trust.Classify(v.Snapshot)
	v.Allowed = trust.CheckSecurityFromActionState(v.Snapshot, v.Levels)
	v.Disclaimer = trust.DisclaimerFor(v.Snapshot, v.Levels)
	return v, nil
}

func (s *session) fetchAction(ctx context.Context, apiURL string) (*action.Action, error) {
	a := s.actions.Fetch(ctx, apiURL)
	if a == nil {
		return nil, fmt.Errorf("could not load action at %s", apiURL)
	}
	return a, nil
}

// buildLogger builds a console logger on stderr so command output on stdout
// stays machine readable.
func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true
	return cfg.Build()
}
