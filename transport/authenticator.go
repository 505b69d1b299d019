package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/MrEthical07/farmauth"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// SessionSource is the session manager as seen by the authenticator.
// *farmauth.Engine implements it.
type SessionSource interface {
	Session(ctx context.Context) (farmauth.Session, bool)
	TerminateIfAbsent(ctx context.Context) error
	TerminateIfCurrent(ctx context.Context, token string) (bool, error)
}

// Authenticator is the request authenticator.
type Authenticator struct {
	base     http.RoundTripper
	sessions SessionSource

	scheme     string
	host       string
	userHeader string
	invalidate bool

	metrics *farmauth.Metrics
	logger  logrus.FieldLogger
}

// Option customizes an Authenticator.
type Option func(*Authenticator)

// WithBase sets the wrapped transport. The default is http.DefaultTransport,
// traced with otelhttp when Transport.Tracing is set.
func WithBase(rt http.RoundTripper) Option {
	return func(a *Authenticator) {
		if rt != nil {
			a.base = rt
		}
	}
}

func WithMetrics(m *farmauth.Metrics) Option {
	return func(a *Authenticator) { a.metrics = m }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Authenticator) {
		if l != nil {
			a.logger = l
		}
	}
}

// New builds an Authenticator for the backend named in cfg.Backend.BaseURL.
func New(sessions SessionSource, cfg farmauth.Config, opts ...Option) (*Authenticator, error) {
	if sessions == nil {
		return nil, errors.New("transport: session source required")
	}
	u, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("transport: invalid backend url %q", cfg.Backend.BaseURL)
	}

	var base http.RoundTripper = http.DefaultTransport
	if cfg.Transport.Tracing {
		base = otelhttp.NewTransport(base)
	}

	a := &Authenticator{
		base:       base,
		sessions:   sessions,
		scheme:     strings.ToLower(u.Scheme),
		host:       strings.ToLower(u.Host),
		userHeader: cfg.Backend.UserEmailHeader,
		invalidate: cfg.Transport.InvalidateOnUnauthorized,
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// NewClient returns an http.Client whose transport is an Authenticator.
func NewClient(sessions SessionSource, cfg farmauth.Config, opts ...Option) (*http.Client, error) {
	a, err := New(sessions, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: a, Timeout: cfg.Backend.Timeout}, nil
}

func (a *Authenticator) forBackend(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, a.scheme) && strings.EqualFold(u.Host, a.host)
}

// RoundTrip implements http.RoundTripper. The caller's request is never modified.
func (a *Authenticator) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil || !a.forBackend(req.URL) {
		return a.base.RoundTrip(req)
	}

	ctx := req.Context()
	out := req.Clone(ctx)
	out.Header.Del("Authorization")
	if a.userHeader != "" {
		out.Header.Del(a.userHeader)
	}

	s, ok := a.sessions.Session(ctx)
	if !ok {
		a.metrics.Inc(farmauth.MetricRequestUnauthenticated)
		if err := a.sessions.TerminateIfAbsent(ctx); err != nil {
			a.logger.WithError(err).Warn("transport: terminate on missing token")
		}
		return a.base.RoundTrip(out)
	}

	out.Header.Set("Authorization", "Bearer "+s.Token)
	if a.userHeader != "" {
		out.Header.Set(a.userHeader, s.UserEmail)
	}
	a.metrics.Inc(farmauth.MetricRequestAuthenticated)

	resp, err := a.base.RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || !a.invalidate {
		return resp, err
	}

	cleared, terr := a.sessions.TerminateIfCurrent(ctx, s.Token)
	switch {
	case terr != nil:
		a.logger.WithError(terr).Warn("transport: terminate on 401")
	case cleared:
		a.logger.WithField("path", req.URL.Path).Info("transport: session rejected by backend, terminated")
	}
	return resp, nil
}
