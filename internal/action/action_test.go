package action

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func descriptorServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("expected Accept: application/json, got %q", r.Header.Get("Accept"))
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestNew_NoLinksSingleComponent(t *testing.T) {
	a, err := New("https://dial.to/api/donate", Descriptor{
		Icon: "i", Label: "Donate", Title: "t", Description: "d",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Components()) != 1 {
		t.Fatalf("expected 1 component, got %d", len(a.Components()))
	}
	c := a.Component(0)
	if len(c.Parameters()) != 0 || c.Kind() != KindButton {
		t.Fatalf("expected parameterless button, got %s", c.Kind())
	}
	if c.Href() != "https://dial.to/api/donate" || c.Label() != "Donate" {
		t.Fatalf("unexpected legacy component %s %s", c.Href(), c.Label())
	}
	if c.Parent() != a {
		t.Fatal("expected component parent to be the action")
	}
}

func TestNew_LinkedActionsResolveHref(t *testing.T) {
	a, err := New("https://dial.to/api/donate?x=1", Descriptor{
		Links: &Links{Actions: []LinkedAction{
			{Href: "/api/donate/1", Label: "1 SOL"},
			{Href: "https://other.example/api/{amount}", Label: "Custom", Parameters: []Parameter{{Name: "amount"}}},
			{Href: "api/form?a={a}&b={b}", Label: "Form", Parameters: []Parameter{{Name: "a"}, {Name: "b"}}},
		}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	comps := a.Components()
	if len(comps) != 3 {
		t.Fatalf("expected 3 components, got %d", len(comps))
	}
	if comps[0].Href() != "https://dial.to/api/donate/1" {
		t.Fatalf("unexpected relative href %s", comps[0].Href())
	}
	if comps[1].Template() != "https://other.example/api/{amount}" || comps[1].Kind() != KindSingleInput {
		t.Fatalf("unexpected absolute href %s", comps[1].Template())
	}
	if comps[2].Template() != "https://dial.to/api/form?a={a}&b={b}" || comps[2].Kind() != KindForm {
		t.Fatalf("unexpected form href %s", comps[2].Template())
	}
	if a.Component(3) != nil || a.Component(-1) != nil {
		t.Fatal("expected nil for out-of-range component")
	}
}

func TestNew_InvalidURL(t *testing.T) {
	if _, err := New("/relative", Descriptor{}, nil); err == nil {
		t.Fatal("expected relative action url to fail")
	}
}

func TestClient_FetchAndCache(t *testing.T) {
	srv, hits := descriptorServer(t, http.StatusOK,
		`{"icon":"https://i.example/x.png","label":"Go","title":"T","description":"D","disabled":true,"error":{"message":"paused"}}`)

	var fetches atomic.Int32
	c := NewClient(ClientConfig{HTTPClient: srv.Client(), OnFetch: func(bool) { fetches.Add(1) }})
	a := c.Fetch(context.Background(), srv.URL)
	if a == nil {
		t.Fatal("expected action")
	}
	if a.Title() != "T" || !a.Disabled() || a.ErrorMessage() != "paused" || a.Icon() == "" {
		t.Fatalf("unexpected descriptor %+v", a.Descriptor())
	}

	b := c.Fetch(context.Background(), srv.URL)
	if b == nil || b == a {
		t.Fatal("expected a new Action built from the cached descriptor")
	}
	if hits.Load() != 1 || fetches.Load() != 1 {
		t.Fatalf("expected a single network fetch, got %d", hits.Load())
	}
}

func TestClient_FetchFailuresReturnNil(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"non-2xx":     {http.StatusNotFound, `{"icon":"i","title":"t","description":"d"}`},
		"bad json":    {http.StatusOK, `{not json`},
		"schema fail": {http.StatusOK, `{"title":"missing icon"}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv, _ := descriptorServer(t, tc.status, tc.body)
			c := NewClient(ClientConfig{HTTPClient: srv.Client()})
			if a := c.Fetch(context.Background(), srv.URL); a != nil {
				t.Fatal("expected nil action")
			}
		})
	}
}

func TestClient_NetworkErrorReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(ClientConfig{HTTPClient: &http.Client{Timeout: time.Second}})
	if a := c.Fetch(context.Background(), url); a != nil {
		t.Fatal("expected nil action on network error")
	}
}

func TestMemoryCache_Expires(t *testing.T) {
	m := NewMemoryCache(time.Millisecond)
	m.Set(context.Background(), "k", &Descriptor{Title: "x"})
	time.Sleep(5 * time.Millisecond)
	if _, ok := m.Get(context.Background(), "k"); ok {
		t.Fatal("expected expired descriptor to be a miss")
	}
}
