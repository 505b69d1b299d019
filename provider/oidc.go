package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/MrEthical07/farmauth"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const callbackPath = "/callback"

// OIDCPopup signs the user in through the provider's hosted page. It listens
// on a loopback port for the redirect and exchanges the code with PKCE.
type OIDCPopup struct {
	oauth    oauth2.Config
	verifier *oidc.IDTokenVerifier

	listenAddr string
	open       func(authURL string) error
	logger     logrus.FieldLogger
}

// PopupOption customizes an OIDCPopup.
type PopupOption func(*OIDCPopup)

// WithOpener sets how the authorization URL is shown to the user. The default
// logs it.
func WithOpener(open func(authURL string) error) PopupOption {
	return func(p *OIDCPopup) {
		if open != nil {
			p.open = open
		}
	}
}

// WithListenAddr sets the loopback listener address (default 127.0.0.1:0).
func WithListenAddr(addr string) PopupOption {
	return func(p *OIDCPopup) { p.listenAddr = addr }
}

func WithPopupLogger(l logrus.FieldLogger) PopupOption {
	return func(p *OIDCPopup) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewOIDCPopup discovers the issuer in cfg.
func NewOIDCPopup(ctx context.Context, cfg farmauth.FederatedConfig, opts ...PopupOption) (*OIDCPopup, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" {
		return nil, errors.New("oidc popup config missing required fields")
	}

	oidcProvider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover oidc provider: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	p := &OIDCPopup{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oidcProvider.Endpoint(),
			Scopes:       scopes,
		},
		verifier:   oidcProvider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		listenAddr: "127.0.0.1:0",
	}
	p.logger = logrus.StandardLogger()
	p.open = func(authURL string) error {
		p.logger.WithField("url", authURL).Info("provider: open this URL to sign in")
		return nil
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Verifier returns the ID token verifier bound to the discovered issuer.
func (p *OIDCPopup) Verifier() *oidc.IDTokenVerifier {
	return p.verifier
}

type callbackResult struct {
	code string
	err  error
}

// SignIn blocks until the provider redirects back or ctx ends. A cancelled ctx
// or an access_denied redirect is reported as [ErrPopupClosed].
func (p *OIDCPopup) SignIn(ctx context.Context) (Credential, error) {
	ln, err := net.Listen("tcp", p.listenAddr)
	if err != nil {
		return Credential{}, fmt.Errorf("listen for redirect: %w", err)
	}

	conf := p.oauth
	conf.RedirectURL = "http://" + ln.Addr().String() + callbackPath

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	results := make(chan callbackResult, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}

		var res callbackResult
		switch {
		case q.Get("error") == "access_denied":
			res.err = ErrPopupClosed
		case q.Get("error") != "":
			res.err = fmt.Errorf("provider returned %s: %s", q.Get("error"), q.Get("error_description"))
		case q.Get("code") == "":
			res.err = errors.New("missing authorization code")
		default:
			res.code = q.Get("code")
		}

		select {
		case results <- res:
		default:
		}
		_, _ = w.Write([]byte("You can close this window."))
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.WithError(err).Warn("provider: redirect listener stopped")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
	if err := p.open(authURL); err != nil {
		return Credential{}, fmt.Errorf("open provider page: %w", err)
	}

	var res callbackResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return Credential{}, fmt.Errorf("%w: %w", ErrPopupClosed, ctx.Err())
	}
	if res.err != nil {
		return Credential{}, res.err
	}

	token, err := conf.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return Credential{}, fmt.Errorf("token exchange failed: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Credential{}, errors.New("provider did not return id_token")
	}
	return Credential{IDToken: rawIDToken}, nil
}
