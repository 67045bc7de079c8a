package resolver

import (
	"net/url"
	"regexp"
	"unicode/utf8"
)

// actionSchemePrefix matches the Solana Actions / Pay URL schemes.
var actionSchemePrefix = regexp.MustCompile(`^(solana-action:|solana:)`)

// InterstitialResult is the outcome of IsInterstitial.
// DecodedActionURL is only set when IsInterstitial is true.
type InterstitialResult struct {
	IsInterstitial   bool
	DecodedActionURL string
}

// IsInterstitial reports whether rawURL wraps another action URL in its
// "action" query parameter. Any decoding failure yields IsInterstitial=false.
func IsInterstitial(rawURL string) InterstitialResult {
	decoded, err := decodeInterstitial(rawURL)
	if err != nil {
		return InterstitialResult{}
	}
	return InterstitialResult{IsInterstitial: true, DecodedActionURL: decoded}
}

// decodeInterstitial extracts and validates the wrapped action URL.
func decodeInterstitial(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", parseErr(rawURL, "invalid url", err)
	}

	param := u.Query().Get("action")
	if param == "" {
		return "", parseErr(rawURL, "no action parameter", nil)
	}

	// The query value is already form-decoded once; wrapped links are
	// commonly encoded twice.
	unescaped, err := url.PathUnescape(param)
	if err != nil {
		return "", parseErr(rawURL, "malformed action encoding", err)
	}
	if !utf8.ValidString(unescaped) {
		return "", parseErr(rawURL, "malformed action encoding", nil)
	}

	inner, ok := StripActionScheme(unescaped)
	if !ok {
		return "", parseErr(rawURL, "action parameter is not a solana action url", nil)
	}

	innerURL, err := parseAbsolute(inner)
	if err != nil {
		return "", parseErr(rawURL, "wrapped action url is not absolute", err)
	}
	return innerURL.String(), nil
}

// StripActionScheme removes a leading "solana-action:" or "solana:" prefix.
// The bool is false when neither prefix is present.
func StripActionScheme(s string) (string, bool) {
	loc := actionSchemePrefix.FindStringIndex(s)
	if loc == nil {
		return s, false
	}
	return s[loc[1]:], true
}

// parseAbsolute parses s and requires both a scheme and a host.
func parseAbsolute(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, parseErr(s, "missing scheme or host", nil)
	}
	return u, nil
}
