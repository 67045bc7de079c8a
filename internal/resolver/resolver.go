package resolver

import (
	"context"

	"github.com/triage-ai/blinkguard/internal/registry"
	"go.uber.org/zap"
)

// Resolution is where a user-supplied link points.
// OriginURL and OriginType are empty when the link is a direct action URL.
type Resolution struct {
	ActionURL  string          `json:"action_url"`
	OriginURL  string          `json:"origin_url,omitempty"`
	OriginType registry.Source `json:"origin_type,omitempty"`
}

// Resolver turns arbitrary links into action API URLs.
type Resolver struct {
	manifests ManifestFetcher
	logger    *zap.Logger
}

// New creates a Resolver. A nil manifests disables website mapping.
func New(manifests ManifestFetcher, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{manifests: manifests, logger: logger}
}

// Resolve maps link to its action URL. Resolution order:
//  1. solana-action: / solana: prefixed link → inner URL, no origin
//  2. interstitial link → wrapped URL, origin = the interstitial
//  3. website with an actions.json rule → mapped URL, origin = the website
//  4. anything else → the link itself as a direct action URL
//
// Returns a *ParseError only when link is not a usable URL at all.
func (r *Resolver) Resolve(ctx context.Context, link string) (*Resolution, error) {
	if inner, ok := StripActionScheme(link); ok {
		u, err := parseAbsolute(inner)
		if err != nil {
			return nil, parseErr(link, "invalid action url", err)
		}
		return &Resolution{ActionURL: u.String()}, nil
	}

	u, err := parseAbsolute(link)
	if err != nil {
		return nil, parseErr(link, "invalid url", err)
	}

	if res := IsInterstitial(link); res.IsInterstitial {
		return &Resolution{
			ActionURL:  res.DecodedActionURL,
			OriginURL:  link,
			OriginType: registry.SourceInterstitials,
		}, nil
	}

	if r.manifests != nil {
		cfg, err := r.manifests.Fetch(ctx, originOf(u))
		if err == nil {
			if mapped, ok := NewActionsURLMapper(cfg).MapURL(link); ok {
				return &Resolution{
					ActionURL:  mapped,
					OriginURL:  link,
					OriginType: registry.SourceWebsites,
				}, nil
			}
		} else {
			r.logger.Debug("no actions.json for origin, treating link as direct action",
				zap.String("origin", originOf(u)),
			)
		}
	}

	return &Resolution{ActionURL: u.String()}, nil
}
