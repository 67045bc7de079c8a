package action

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/triage-ai/blinkguard/internal/schema"
	"go.uber.org/zap"
)

// DefaultDescriptorTTL is how long a fetched descriptor is reused.
const DefaultDescriptorTTL = 30 * time.Second

const maxDescriptorBytes = 1 << 20

// Action is an immutable fetched descriptor with its derived components.
// A re-fetch produces a new Action.
type Action struct {
	url        string
	descriptor Descriptor
	components []*Component
}

// New builds an Action from a descriptor fetched from apiURL. Without
// linked actions it has a single component posting to apiURL.
func New(apiURL string, d Descriptor, client *http.Client) (*Action, error) {
	u, err := url.Parse(apiURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid action url %q", apiURL)
	}
	origin := u.Scheme + "://" + u.Host

	a := &Action{url: apiURL, descriptor: d}
	if d.Links == nil || len(d.Links.Actions) == 0 {
		a.components = []*Component{NewComponent(a, d.Label, apiURL, nil, client)}
		return a, nil
	}
	for _, la := range d.Links.Actions {
		a.components = append(a.components, NewComponent(a, la.Label, resolveHref(la.Href, origin), la.Parameters, client))
	}
	return a, nil
}

// resolveHref makes a linked href absolute. String joining keeps {name}
// placeholders unescaped.
func resolveHref(href, origin string) string {
	if strings.HasPrefix(href, "http") {
		return href
	}
	if strings.HasPrefix(href, "/") {
		return origin + href
	}
	return origin + "/" + href
}

func (a *Action) URL() string              { return a.url }
func (a *Action) Icon() string             { return a.descriptor.Icon }
func (a *Action) Label() string            { return a.descriptor.Label }
func (a *Action) Title() string            { return a.descriptor.Title }
func (a *Action) Description() string      { return a.descriptor.Description }
func (a *Action) Disabled() bool           { return a.descriptor.Disabled }
func (a *Action) Descriptor() Descriptor   { return a.descriptor }
func (a *Action) Components() []*Component { return a.components }

// ErrorMessage returns the server-declared error message, or "".
func (a *Action) ErrorMessage() string {
	if a.descriptor.Error == nil {
		return ""
	}
	return a.descriptor.Error.Message
}

// Component returns the i-th component, or nil when out of range.
func (a *Action) Component(i int) *Component {
	if i < 0 || i >= len(a.components) {
		return nil
	}
	return a.components[i]
}

// Client fetches action descriptors.
type Client struct {
	http    *http.Client
	cache   DescriptorCache
	logger  *zap.Logger
	onFetch func(ok bool)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	HTTPClient *http.Client
	// Cache defaults to an in-memory cache with DefaultDescriptorTTL.
	Cache  DescriptorCache
	Logger *zap.Logger
	// OnFetch observes every network fetch outcome.
	OnFetch func(ok bool)
}

// NewClient creates a descriptor client.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		http:    cfg.HTTPClient,
		cache:   cfg.Cache,
		logger:  cfg.Logger,
		onFetch: cfg.OnFetch,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 10 * time.Second}
	}
	if c.cache == nil {
		c.cache = NewMemoryCache(DefaultDescriptorTTL)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Fetch returns the Action at apiURL, or nil when it cannot be fetched,
// decoded or validated. Failures are logged, never returned.
func (c *Client) Fetch(ctx context.Context, apiURL string) *Action {
	if d, ok := c.cache.Get(ctx, apiURL); ok {
		a, err := New(apiURL, *d, c.http)
		if err == nil {
			return a
		}
	}

	d, err := c.fetchDescriptor(ctx, apiURL)
	if c.onFetch != nil {
		c.onFetch(err == nil)
	}
	if err != nil {
		c.logger.Warn("action descriptor fetch failed",
			zap.String("action_url", apiURL),
			zap.Error(err),
		)
		return nil
	}

	a, err := New(apiURL, *d, c.http)
	if err != nil {
		c.logger.Warn("invalid action", zap.String("action_url", apiURL), zap.Error(err))
		return nil
	}
	c.cache.Set(ctx, apiURL, d)
	return a
}

func (c *Client) fetchDescriptor(ctx context.Context, apiURL string) (*Descriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetchAction: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetchAction: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetchAction: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDescriptorBytes))
	if err != nil {
		return nil, fmt.Errorf("fetchAction: %w", err)
	}
	if err := schema.Validate(schema.Action, body); err != nil {
		return nil, fmt.Errorf("fetchAction: %w", err)
	}

	var d Descriptor
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("fetchAction: %w", err)
	}
	return &d, nil
}
