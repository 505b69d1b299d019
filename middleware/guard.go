package middleware

import (
	"context"
	"net/http"
	"path"
	"strings"

	"github.com/MrEthical07/farmauth"
)

// SessionChecker answers whether a session is active. *farmauth.Engine implements it.
type SessionChecker interface {
	IsActive(ctx context.Context) bool
}

// Decision is the outcome of [RouteGuard.CanEnter]. Redirect is set only when
// Allowed is false.
type Decision struct {
	Allowed  bool
	Redirect string
}

// RouteGuard admits or redirects navigation into protected route prefixes.
type RouteGuard struct {
	sessions  SessionChecker
	entry     string
	protected []string
	metrics   *farmauth.Metrics
}

// GuardOption customizes a RouteGuard.
type GuardOption func(*RouteGuard)

func WithGuardMetrics(m *farmauth.Metrics) GuardOption {
	return func(g *RouteGuard) { g.metrics = m }
}

// NewRouteGuard builds a guard over the prefixes in cfg.
func NewRouteGuard(sessions SessionChecker, cfg farmauth.GuardConfig, opts ...GuardOption) *RouteGuard {
	entry := cfg.EntryPath
	if entry == "" {
		entry = "/"
	}
	g := &RouteGuard{
		sessions: sessions,
		entry:    entry,
	}
	for _, p := range cfg.ProtectedPrefixes {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
		g.protected = append(g.protected, p)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// EntryPath is the public page denied navigation is sent to.
func (g *RouteGuard) EntryPath() string {
	return g.entry
}

// Protected reports whether route falls under a protected prefix. Prefixes
// match whole path segments: "/dashboard" covers "/dashboard/flocks" but not
// "/dashboards".
func (g *RouteGuard) Protected(route string) bool {
	route = cleanRoute(route)
	for _, p := range g.protected {
		if p == "/" || route == p || strings.HasPrefix(route, p+"/") {
			return true
		}
	}
	return false
}

// CanEnter decides a navigation to route. Protected routes are allowed only
// while a session is active; the check runs every time.
func (g *RouteGuard) CanEnter(ctx context.Context, route string) Decision {
	if g == nil {
		return Decision{Redirect: "/"}
	}
	if !g.Protected(route) {
		return Decision{Allowed: true}
	}

	if g.sessions != nil && g.sessions.IsActive(ctx) {
		g.metrics.Inc(farmauth.MetricGuardAllowed)
		return Decision{Allowed: true}
	}
	g.metrics.Inc(farmauth.MetricGuardDenied)
	return Decision{Redirect: g.entry}
}

func cleanRoute(route string) string {
	if i := strings.IndexAny(route, "?#"); i >= 0 {
		route = route[:i]
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return path.Clean(route)
}

// Guard redirects denied requests to the entry page with 302 Found.
func Guard(g *RouteGuard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := g.CanEnter(r.Context(), r.URL.Path)
			if !d.Allowed {
				http.Redirect(w, r, d.Redirect, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
