package tenant

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"example.com/access/internal/domain"
)

func TestSubdomain(t *testing.T) {
	cases := []struct {
		host string
		want string
	}{
		{"lrsj.portal.example.com", "lrsj"},
		{"LRSJ.portal.example.com", "lrsj"},
		{"portal.example.com", ""},
		{"www.portal.example.com", ""},
		{"a.b.portal.example.com", ""},
		{"other.example.com", ""},
		{"lrsj.portal.example.com:443", "lrsj"},
		{"portal.example.com:8080", ""},
		{"", ""},
	}

	for _, tc := range cases {
		if got := Subdomain(tc.host, "portal.example.com"); got != tc.want {
			t.Fatalf("Subdomain(%q) = %q, want %q", tc.host, got, tc.want)
		}
	}
}

func TestSubdomainIgnoresRootDomainPort(t *testing.T) {
	cases := []struct {
		host string
		want string
	}{
		{"central.localhost", "central"},
		{"central.localhost:8080", "central"},
		{"localhost:8080", ""},
		{"localhost", ""},
	}

	for _, tc := range cases {
		if got := Subdomain(tc.host, "localhost:8080"); got != tc.want {
			t.Fatalf("Subdomain(%q) = %q, want %q", tc.host, got, tc.want)
		}
	}
}

type stubResolver struct {
	academy *domain.Academy
	err     error
	slug    string
}

func (s *stubResolver) FindAcademyBySlug(_ context.Context, slug string) (*domain.Academy, error) {
	s.slug = slug
	return s.academy, s.err
}

func TestWrapResolvesTenant(t *testing.T) {
	resolver := &stubResolver{academy: &domain.Academy{ID: "aca-1", Slug: "lrsj"}}
	mw := NewMiddleware(resolver, "portal.example.com")

	var seen *domain.Academy
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "http://lrsj.portal.example.com/v1/history", nil)
	mw.Wrap(next).ServeHTTP(httptest.NewRecorder(), req)

	if resolver.slug != "lrsj" {
		t.Fatalf("expected resolver called with lrsj, got %q", resolver.slug)
	}
	if seen == nil || seen.ID != "aca-1" {
		t.Fatalf("expected academy aca-1 on context, got %+v", seen)
	}
}

func TestWrapPassesThroughUnknownSlug(t *testing.T) {
	resolver := &stubResolver{}
	mw := NewMiddleware(resolver, "portal.example.com")

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := FromContext(r.Context()); ok {
			t.Fatalf("expected no academy on context")
		}
	})

	req := httptest.NewRequest(http.MethodGet, "http://ghost.portal.example.com/v1/history", nil)
	mw.Wrap(next).ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Fatalf("expected next handler to run")
	}
}

func TestWrapPassesThroughRootDomain(t *testing.T) {
	resolver := &stubResolver{}
	mw := NewMiddleware(resolver, "portal.example.com")

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodGet, "http://portal.example.com/v1/history", nil)
	mw.Wrap(next).ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Fatalf("expected next handler to run")
	}
	if resolver.slug != "" {
		t.Fatalf("resolver should not be called for root domain, got %q", resolver.slug)
	}
}
