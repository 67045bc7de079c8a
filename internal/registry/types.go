package registry

import (
	"net/url"
	"strings"
)

// State is the reputation stored for a host. The registry only ever stores
// trusted or malicious; a host without a record is unknown.
type State string

const (
	StateTrusted   State = "trusted"
	StateMalicious State = "malicious"
)

// Valid reports whether s is one of the two storable states.
func (s State) Valid() bool {
	return s == StateTrusted || s == StateMalicious
}

// Source names the registry category a host is looked up in.
type Source string

const (
	SourceActions       Source = "actions"
	SourceWebsites      Source = "websites"
	SourceInterstitials Source = "interstitials"
)

// RegisteredEntity is one reputation record for a DNS host.
type RegisteredEntity struct {
	Host  string `json:"host"`
	State State  `json:"state"`
}

// ActionsRegistry is an immutable snapshot of the security registry.
// Built once per fetch and replaced wholesale on refresh.
type ActionsRegistry struct {
	Actions       map[string]RegisteredEntity
	Websites      map[string]RegisteredEntity
	Interstitials map[string]RegisteredEntity
}

// Document is the wire format of the security registry endpoint.
type Document struct {
	Actions       []RegisteredEntity `json:"actions"`
	Websites      []RegisteredEntity `json:"websites"`
	Interstitials []RegisteredEntity `json:"interstitials"`
}

// Empty returns a structurally valid registry with no records.
// Callers treat it as "every host unknown".
func Empty() *ActionsRegistry {
	return &ActionsRegistry{
		Actions:       map[string]RegisteredEntity{},
		Websites:      map[string]RegisteredEntity{},
		Interstitials: map[string]RegisteredEntity{},
	}
}

// Build converts a registry document into host-keyed maps.
// The last entry for a duplicate host wins. Entries with an unsupported
// state are skipped.
func Build(doc Document) *ActionsRegistry {
	r := Empty()
	fill(r.Actions, doc.Actions)
	fill(r.Websites, doc.Websites)
	fill(r.Interstitials, doc.Interstitials)
	return r
}

func fill(dst map[string]RegisteredEntity, entities []RegisteredEntity) {
	for _, e := range entities {
		if !e.State.Valid() || e.Host == "" {
			continue
		}
		host := normalizeHost(e.Host)
		dst[host] = RegisteredEntity{Host: host, State: e.State}
	}
}

func (r *ActionsRegistry) table(source Source) map[string]RegisteredEntity {
	if r == nil {
		return nil
	}
	switch source {
	case SourceActions:
		return r.Actions
	case SourceWebsites:
		return r.Websites
	case SourceInterstitials:
		return r.Interstitials
	default:
		return nil
	}
}

// Lookup returns the record for the host of rawURL in the given category,
// or nil when the host is unknown or rawURL cannot be parsed.
func (r *ActionsRegistry) Lookup(rawURL string, source Source) *RegisteredEntity {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return r.LookupHost(u.Host, source)
}

// LookupHost returns the record for host in the given category, or nil.
func (r *ActionsRegistry) LookupHost(host string, source Source) *RegisteredEntity {
	e, ok := r.table(source)[normalizeHost(host)]
	if !ok {
		return nil
	}
	return &e
}

// Len returns the number of records in a category.
func (r *ActionsRegistry) Len(source Source) int {
	return len(r.table(source))
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}
