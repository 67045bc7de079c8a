package resolver

import (
	"net/url"
	"regexp"
	"strings"
)

// ActionRule maps a website path pattern to an action API path.
type ActionRule struct {
	PathPattern string `json:"pathPattern"`
	APIPath     string `json:"apiPath"`
}

// ActionsJSONConfig is the body of an origin's actions.json manifest.
type ActionsJSONConfig struct {
	Rules []ActionRule `json:"rules"`
}

// placeholder matches a run of '*' in an apiPath template.
var placeholder = regexp.MustCompile(`\*+`)

// compiledRule pairs a rule with its matching expression.
type compiledRule struct {
	rule     ActionRule
	re       *regexp.Regexp
	matchURL bool // true = match against the full URL, false = pathname only
}

// ActionsURLMapper maps website URLs to action API URLs using the rules of an
// actions.json manifest. Rules are evaluated in declaration order and the
// first match wins.
type ActionsURLMapper struct {
	rules []compiledRule
}

// NewActionsURLMapper compiles the manifest rules. Rules whose pattern cannot
// be compiled are kept for exact matching only.
func NewActionsURLMapper(cfg *ActionsJSONConfig) *ActionsURLMapper {
	m := &ActionsURLMapper{}
	if cfg == nil {
		return m
	}
	for _, r := range cfg.Rules {
		re, _ := compilePattern(r.PathPattern)
		m.rules = append(m.rules, compiledRule{
			rule:     r,
			re:       re,
			matchURL: strings.HasPrefix(r.PathPattern, "http"),
		})
	}
	return m
}

// compilePattern turns a path pattern into an anchored regexp:
// "**" captures anything, "/*" captures a single path segment and everything
// else is matched literally.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); {
		switch {
		case strings.HasPrefix(pattern[i:], "**"):
			b.WriteString("(.*)")
			i += 2
		case strings.HasPrefix(pattern[i:], "/*") && !strings.HasPrefix(pattern[i:], "/**"):
			b.WriteString("/([^/]+)")
			i += 2
		default:
			b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
			i++
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// MapURL returns the action API URL for websiteURL, or false when no rule
// matches or the input is not a valid URL.
func (m *ActionsURLMapper) MapURL(websiteURL string) (string, bool) {
	mapped, err := m.mapURL(websiteURL)
	if err != nil || mapped == "" {
		return "", false
	}
	return mapped, true
}

func (m *ActionsURLMapper) mapURL(websiteURL string) (string, error) {
	u, err := parseAbsolute(websiteURL)
	if err != nil {
		return "", parseErr(websiteURL, "invalid website url", err)
	}

	origin := originOf(u)
	pathname := pathnameOf(u)
	query := searchOf(u)

	for _, cr := range m.rules {
		if cr.rule.PathPattern == origin+pathname {
			return m.exact(cr.rule.APIPath, origin, query)
		}
		if cr.re == nil {
			continue
		}

		target := pathname
		if cr.matchURL {
			target = u.String()
		}
		match := cr.re.FindStringSubmatch(target)
		if match == nil {
			continue
		}
		return constructMappedURL(cr.rule.APIPath, match[1:], query, origin)
	}
	return "", nil
}

// exact returns apiPath with the original query appended; relative apiPaths
// are resolved against the request origin.
func (m *ActionsURLMapper) exact(apiPath, origin, query string) (string, error) {
	if _, err := parseAbsolute(apiPath); err == nil {
		return apiPath + query, nil
	}
	base, err := url.Parse(origin)
	if err != nil {
		return "", parseErr(origin, "invalid origin", err)
	}
	ref, err := url.Parse(apiPath)
	if err != nil {
		return "", parseErr(apiPath, "invalid api path", err)
	}
	resolved := base.ResolveReference(ref)
	return originOf(resolved) + pathnameOf(resolved) + query, nil
}

// constructMappedURL substitutes captures into the '*' placeholders of
// apiPath left to right, one capture per placeholder.
func constructMappedURL(apiPath string, captures []string, query, origin string) (string, error) {
	next := 0
	mappedPath := placeholder.ReplaceAllStringFunc(apiPath, func(string) string {
		if next >= len(captures) {
			return ""
		}
		c := captures[next]
		next++
		return c
	})

	base, err := url.Parse(origin)
	if err != nil {
		return "", parseErr(origin, "invalid origin", err)
	}
	ref, err := url.Parse(mappedPath)
	if err != nil {
		return "", parseErr(mappedPath, "invalid mapped path", err)
	}
	resolved := base.ResolveReference(ref)
	return originOf(resolved) + pathnameOf(resolved) + query, nil
}

func originOf(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

func pathnameOf(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		return "/"
	}
	return p
}

func searchOf(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}
	return "?" + u.RawQuery
}
