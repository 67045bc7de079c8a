package resolver

import "testing"

func TestMapURL_SingleSegmentWildcardPreservesQuery(t *testing.T) {
	m := NewActionsURLMapper(&ActionsJSONConfig{Rules: []ActionRule{
		{PathPattern: "https://x.com/*", APIPath: "https://api.x.com/action/*"},
	}})

	got, ok := m.MapURL("https://x.com/foo?ref=1")
	if !ok {
		t.Fatal("expected a match")
	}
	if got != "https://api.x.com/action/foo?ref=1" {
		t.Fatalf("unexpected mapping %s", got)
	}
}

func TestMapURL_ExactMatch(t *testing.T) {
	m := NewActionsURLMapper(&ActionsJSONConfig{Rules: []ActionRule{
		{PathPattern: "https://x.com/donate", APIPath: "https://api.x.com/donate"},
	}})

	got, ok := m.MapURL("https://x.com/donate?amount=2")
	if !ok {
		t.Fatal("expected a match")
	}
	if got != "https://api.x.com/donate?amount=2" {
		t.Fatalf("unexpected mapping %s", got)
	}
}

func TestMapURL_ExactMatchRelativeAPIPath(t *testing.T) {
	m := NewActionsURLMapper(&ActionsJSONConfig{Rules: []ActionRule{
		{PathPattern: "https://x.com/donate", APIPath: "/api/donate"},
	}})

	got, ok := m.MapURL("https://x.com/donate")
	if !ok {
		t.Fatal("expected a match")
	}
	if got != "https://x.com/api/donate" {
		t.Fatalf("unexpected mapping %s", got)
	}
}

func TestMapURL_PathnamePatternRelativeAPIPath(t *testing.T) {
	m := NewActionsURLMapper(&ActionsJSONConfig{Rules: []ActionRule{
		{PathPattern: "/buy/*", APIPath: "/api/actions/buy/*"},
	}})

	got, ok := m.MapURL("https://shop.example/buy/sku-42?ref=abc")
	if !ok {
		t.Fatal("expected a match")
	}
	if got != "https://shop.example/api/actions/buy/sku-42?ref=abc" {
		t.Fatalf("unexpected mapping %s", got)
	}
}

func TestMapURL_DoubleWildcard(t *testing.T) {
	m := NewActionsURLMapper(&ActionsJSONConfig{Rules: []ActionRule{
		{PathPattern: "/**", APIPath: "https://api.example.com/**"},
	}})

	got, ok := m.MapURL("https://site.example/a/b/c")
	if !ok {
		t.Fatal("expected a match")
	}
	if got != "https://api.example.com/a/b/c" {
		t.Fatalf("unexpected mapping %s", got)
	}
}

func TestMapURL_MultipleCapturesInOrder(t *testing.T) {
	m := NewActionsURLMapper(&ActionsJSONConfig{Rules: []ActionRule{
		{PathPattern: "/u/*/post/*", APIPath: "/api/*/tip/*"},
	}})

	got, ok := m.MapURL("https://site.example/u/alice/post/99")
	if !ok {
		t.Fatal("expected a match")
	}
	if got != "https://site.example/api/alice/tip/99" {
		t.Fatalf("unexpected mapping %s", got)
	}
}

func TestMapURL_FirstMatchWins(t *testing.T) {
	m := NewActionsURLMapper(&ActionsJSONConfig{Rules: []ActionRule{
		{PathPattern: "/a/*", APIPath: "/first/*"},
		{PathPattern: "/a/**", APIPath: "/second/**"},
	}})

	got, ok := m.MapURL("https://site.example/a/x")
	if !ok {
		t.Fatal("expected a match")
	}
	if got != "https://site.example/first/x" {
		t.Fatalf("expected first rule to win, got %s", got)
	}
}

func TestMapURL_SingleSegmentDoesNotCrossSlash(t *testing.T) {
	m := NewActionsURLMapper(&ActionsJSONConfig{Rules: []ActionRule{
		{PathPattern: "/a/*", APIPath: "/api/*"},
	}})
	if _, ok := m.MapURL("https://site.example/a/b/c"); ok {
		t.Fatal("expected no match across path segments")
	}
}

func TestMapURL_LiteralDotsAreEscaped(t *testing.T) {
	m := NewActionsURLMapper(&ActionsJSONConfig{Rules: []ActionRule{
		{PathPattern: "https://x.com/*", APIPath: "https://api.x.com/*"},
	}})
	if _, ok := m.MapURL("https://xacom.evil/foo"); ok {
		t.Fatal("expected '.' in pattern to match only a literal dot")
	}
}

func TestMapURL_NoMatch(t *testing.T) {
	m := NewActionsURLMapper(&ActionsJSONConfig{Rules: []ActionRule{
		{PathPattern: "/donate", APIPath: "/api/donate"},
	}})
	if _, ok := m.MapURL("https://site.example/other"); ok {
		t.Fatal("expected no match")
	}
}

func TestMapURL_InvalidInput(t *testing.T) {
	m := NewActionsURLMapper(&ActionsJSONConfig{Rules: []ActionRule{
		{PathPattern: "/**", APIPath: "/api/**"},
	}})
	if _, ok := m.MapURL("not a url"); ok {
		t.Fatal("expected invalid input to yield no mapping")
	}
	if _, ok := NewActionsURLMapper(nil).MapURL("https://site.example/"); ok {
		t.Fatal("expected empty mapper to yield no mapping")
	}
}

func BenchmarkMapURL(b *testing.B) {
	m := NewActionsURLMapper(&ActionsJSONConfig{Rules: []ActionRule{
		{PathPattern: "/a/*", APIPath: "/api/a/*"},
		{PathPattern: "/b/**", APIPath: "/api/b/**"},
		{PathPattern: "https://x.com/*", APIPath: "https://api.x.com/action/*"},
	}})
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		m.MapURL("https://x.com/foo?ref=1")
	}
}
