// Package tenant resolves the academy behind a request's subdomain.
package tenant

import (
	"context"
	"net"
	"net/http"
	"strings"

	"example.com/access/internal/domain"
)

type contextKey string

const academyKey contextKey = "access-tenant-academy"

// Resolver looks up an academy by its subdomain slug.
type Resolver interface {
	FindAcademyBySlug(ctx context.Context, slug string) (*domain.Academy, error)
}

// Middleware seeds the request context with the academy matching the Host
// subdomain. Requests on the root domain (or unknown slugs) pass through
// without a tenant; handlers fall back to explicit parameters.
type Middleware struct {
	resolver   Resolver
	rootDomain string
}

// NewMiddleware constructs a Middleware for the given root domain
// (e.g. "portal.example.com" matches hosts like "lrsj.portal.example.com").
func NewMiddleware(resolver Resolver, rootDomain string) Middleware {
	return Middleware{resolver: resolver, rootDomain: rootDomain}
}

// Wrap attaches tenant resolution to an http.Handler.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slug := Subdomain(r.Host, m.rootDomain)
		if slug == "" {
			next.ServeHTTP(w, r)
			return
		}

		academy, err := m.resolver.FindAcademyBySlug(r.Context(), slug)
		if err != nil || academy == nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := WithAcademy(r.Context(), academy)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Subdomain extracts the tenant slug from a host, or "" when the host is the
// root domain itself, www, or unrelated to the root domain. Ports are ignored
// on both sides so hosts behind proxies still resolve.
func Subdomain(host, rootDomain string) string {
	host = stripPort(strings.ToLower(strings.TrimSpace(host)))
	rootDomain = stripPort(strings.ToLower(strings.TrimSpace(rootDomain)))
	if host == "" || rootDomain == "" || host == rootDomain {
		return ""
	}

	suffix := "." + rootDomain
	if !strings.HasSuffix(host, suffix) {
		return ""
	}

	slug := strings.TrimSuffix(host, suffix)
	if slug == "" || slug == "www" || strings.Contains(slug, ".") {
		return ""
	}
	return slug
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// WithAcademy stores the resolved academy on the context.
func WithAcademy(ctx context.Context, academy *domain.Academy) context.Context {
	return context.WithValue(ctx, academyKey, academy)
}

// FromContext retrieves the academy resolved by the middleware.
func FromContext(ctx context.Context) (*domain.Academy, bool) {
	academy, ok := ctx.Value(academyKey).(*domain.Academy)
	return academy, ok
}
