package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/triage-ai/blinkguard/internal/schema"
	"go.uber.org/zap"
)

// DefaultURL is the public actions security registry.
const DefaultURL = "https://actions-registry.dial.to/all"

// maxRegistryBytes bounds the registry document size.
const maxRegistryBytes = 8 << 20

// Fetch downloads and builds the security registry. It never fails: on any
// network, status, decode or schema error it logs and returns Empty().
func Fetch(ctx context.Context, client *http.Client, registryURL string, logger *zap.Logger) *ActionsRegistry {
	reg, err := fetch(ctx, client, registryURL)
	if err != nil {
		if logger != nil {
			logger.Warn("security registry fetch failed, treating all hosts as unknown",
				zap.String("registry_url", registryURL),
				zap.Error(err),
			)
		}
		return Empty()
	}
	return reg
}

func fetch(ctx context.Context, client *http.Client, registryURL string) (*ActionsRegistry, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, registryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetchRegistry: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetchRegistry: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetchRegistry: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRegistryBytes))
	if err != nil {
		return nil, fmt.Errorf("fetchRegistry: %w", err)
	}
	if err := schema.Validate(schema.Registry, body); err != nil {
		return nil, fmt.Errorf("fetchRegistry: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("fetchRegistry: %w", err)
	}
	return Build(doc), nil
}
