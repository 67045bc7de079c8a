package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/triage-ai/blinkguard/internal/cache"
	"github.com/triage-ai/blinkguard/internal/schema"
	"go.uber.org/zap"
)

const (
	// DefaultManifestTTL is how long a fetched actions.json stays fresh.
	DefaultManifestTTL = 10 * time.Minute
	// negativeManifestTTL is how long a failed fetch is remembered.
	negativeManifestTTL = time.Minute

	maxManifestBytes = 1 << 20
)

// ManifestFetcher returns the actions.json rules for an origin.
// Implemented by *ManifestClient.
type ManifestFetcher interface {
	Fetch(ctx context.Context, origin string) (*ActionsJSONConfig, error)
}

// ManifestClient fetches and caches per-origin actions.json manifests.
// Stale entries are served while one goroutine refreshes them.
type ManifestClient struct {
	http   *http.Client
	cache  *cache.TTLCache[*ActionsJSONConfig]
	logger *zap.Logger
}

// NewManifestClient creates a client. A zero ttl uses DefaultManifestTTL.
func NewManifestClient(client *http.Client, ttl time.Duration, logger *zap.Logger) *ManifestClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl == 0 {
		ttl = DefaultManifestTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ManifestClient{
		http:   client,
		cache:  cache.NewTTLCache[*ActionsJSONConfig](ttl),
		logger: logger,
	}
}

var (
	// ErrNoManifest is returned when an origin has no usable actions.json.
	ErrNoManifest = errors.New("no actions.json manifest")
	// errManifestRejected marks a definitive answer: the origin serves no
	// manifest or an invalid one. Other failures are transient.
	errManifestRejected = errors.New("manifest rejected")
)

// Fetch returns the manifest for origin ("https://host").
func (c *ManifestClient) Fetch(ctx context.Context, origin string) (*ActionsJSONConfig, error) {
	res := c.cache.Get(origin)
	if res.Hit {
		if res.NeedsRefresh {
			go c.refresh(origin)
		}
		if !res.Present {
			return nil, ErrNoManifest
		}
		return res.Value, nil
	}

	cfg, err := c.fetch(ctx, origin)
	if err != nil {
		c.logger.Debug("actions.json fetch failed",
			zap.String("origin", origin),
			zap.Error(err),
		)
		c.cache.SetNegative(origin, negativeManifestTTL)
		return nil, fmt.Errorf("%w: %v", ErrNoManifest, err)
	}
	c.cache.Set(origin, cfg)
	return cfg, nil
}

func (c *ManifestClient) refresh(origin string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := c.fetch(ctx, origin)
	if err != nil {
		c.logger.Debug("actions.json background refresh failed",
			zap.String("origin", origin),
			zap.Bool("definitive", errors.Is(err, errManifestRejected)),
			zap.Error(err),
		)
		if errors.Is(err, errManifestRejected) {
			c.cache.SetNegative(origin, negativeManifestTTL)
			return
		}
		// Keep serving the stale manifest; a later Fetch retries.
		c.cache.ReleaseRefresh(origin)
		return
	}
	c.cache.Set(origin, cfg)
}

func (c *ManifestClient) fetch(ctx context.Context, origin string) (*ActionsJSONConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/actions.json", nil)
	if err != nil {
		return nil, fmt.Errorf("fetchManifest: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetchManifest: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("fetchManifest: %w: status %d", errManifestRejected, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("fetchManifest: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return nil, fmt.Errorf("fetchManifest: %w", err)
	}
	if err := schema.Validate(schema.ActionsManifest, body); err != nil {
		return nil, fmt.Errorf("fetchManifest: %w: %v", errManifestRejected, err)
	}

	var cfg ActionsJSONConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("fetchManifest: %w: %v", errManifestRejected, err)
	}
	return &cfg, nil
}
