package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// ComponentKind is derived once from the parameter count.
type ComponentKind int

const (
	KindButton      ComponentKind = iota // no parameters
	KindSingleInput                      // one parameter
	KindForm                             // more than one parameter
)

func (k ComponentKind) String() string {
	switch k {
	case KindButton:
		return "button"
	case KindSingleInput:
		return "single-input"
	case KindForm:
		return "form"
	default:
		return "unknown"
	}
}

func kindOf(params []Parameter) ComponentKind {
	switch len(params) {
	case 0:
		return KindButton
	case 1:
		return KindSingleInput
	default:
		return KindForm
	}
}

// maxPostResponseBytes bounds a transaction response.
const maxPostResponseBytes = 1 << 20

// Component is one invocable operation of an Action. Parameter values are
// mutable; the parameter list and kind are fixed at construction.
type Component struct {
	parent     *Action
	label      string
	href       string
	parameters []Parameter
	kind       ComponentKind
	client     *http.Client

	mu     sync.Mutex
	values map[string]string
}

// NewComponent creates a standalone component. parent may be nil.
func NewComponent(parent *Action, label, href string, params []Parameter, client *http.Client) *Component {
	if client == nil {
		client = http.DefaultClient
	}
	p := make([]Parameter, len(params))
	copy(p, params)
	return &Component{
		parent:     parent,
		label:      label,
		href:       href,
		parameters: p,
		kind:       kindOf(p),
		client:     client,
		values:     make(map[string]string),
	}
}

func (c *Component) Parent() *Action     { return c.parent }
func (c *Component) Label() string       { return c.label }
func (c *Component) Kind() ComponentKind { return c.kind }

// Parameters returns a copy of the parameter list.
func (c *Component) Parameters() []Parameter {
	p := make([]Parameter, len(c.parameters))
	copy(p, c.parameters)
	return p
}

// Template returns the href before parameter substitution.
func (c *Component) Template() string {
	return c.href
}

// Href resolves the href template with the current parameter values. Each
// {name} is replaced by the trimmed, URL-encoded value, or "" when unset.
func (c *Component) Href() string {
	if len(c.parameters) == 0 {
		return c.href
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	href := c.href
	for _, p := range c.parameters {
		v := encodeURIComponent(strings.TrimSpace(c.values[p.Name]))
		href = strings.ReplaceAll(href, "{"+p.Name+"}", v)
	}
	return href
}

// SetValue sets the value of parameter name. Unknown names are ignored.
func (c *Component) SetValue(value, name string) {
	if !c.hasParameter(name) {
		return
	}
	c.mu.Lock()
	c.values[name] = value
	c.mu.Unlock()
}

// Value returns the current value of parameter name.
func (c *Component) Value(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[name]
}

// Reset clears all parameter values.
func (c *Component) Reset() {
	c.mu.Lock()
	c.values = make(map[string]string)
	c.mu.Unlock()
}

// Validate checks that every required parameter has a non-blank value.
func (c *Component) Validate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.parameters {
		if p.Required && strings.TrimSpace(c.values[p.Name]) == "" {
			name := p.Label
			if name == "" {
				name = p.Name
			}
			return fmt.Errorf("%w: %s", ErrMissingParameter, name)
		}
	}
	return nil
}

func (c *Component) hasParameter(name string) bool {
	for _, p := range c.parameters {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Post requests a transaction for account from the resolved href.
// A non-2xx response yields an *ActionError.
func (c *Component) Post(ctx context.Context, account string) (*PostResponse, error) {
	body, err := json.Marshal(PostRequest{Account: account})
	if err != nil {
		return nil, fmt.Errorf("postAction: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Href(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("postAction: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("postAction: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPostResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("postAction: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &msg)
		if msg.Message == "" {
			msg.Message = http.StatusText(resp.StatusCode)
		}
		return nil, &ActionError{Message: msg.Message, StatusCode: resp.StatusCode}
	}

	var out PostResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("postAction: decode response: %w", err)
	}
	if out.Transaction == "" {
		return nil, fmt.Errorf("postAction: response has no transaction")
	}
	return &out, nil
}

// uriComponentUnreserved restores the marks QueryEscape escapes but
// encodeURIComponent keeps literal.
var uriComponentUnreserved = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// encodeURIComponent escapes every byte except A-Z a-z 0-9 and -_.!~*'().
func encodeURIComponent(s string) string {
	return uriComponentUnreserved.Replace(url.QueryEscape(s))
}
