package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/farmauth"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/sirupsen/logrus"
)

// ErrPopupClosed is returned by a [Popup] when the user dismisses it.
var ErrPopupClosed = errors.New("provider popup closed")

// Credential is what the popup hands back: the provider's short-lived,
// verifiable identity token.
type Credential struct {
	IDToken string
}

// Popup runs the provider's interactive sign-in.
type Popup interface {
	SignIn(ctx context.Context) (Credential, error)
}

// Exchanger trades a provider credential for an application session.
type Exchanger interface {
	FederatedLogin(ctx context.Context, credential string) (farmauth.IdentityAssertion, error)
}

// Federated is the federated identity adapter.
type Federated struct {
	popup    Popup
	verifier *oidc.IDTokenVerifier
	exchange Exchanger
	logger   logrus.FieldLogger
}

// FederatedOption customizes a Federated adapter.
type FederatedOption func(*Federated)

// WithVerifier checks the ID token signature, issuer, audience and expiry
// before it is sent to the backend.
func WithVerifier(v *oidc.IDTokenVerifier) FederatedOption {
	return func(f *Federated) { f.verifier = v }
}

func WithFederatedLogger(l logrus.FieldLogger) FederatedOption {
	return func(f *Federated) {
		if l != nil {
			f.logger = l
		}
	}
}

func NewFederated(popup Popup, exchange Exchanger, opts ...FederatedOption) *Federated {
	f := &Federated{
		popup:    popup,
		exchange: exchange,
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SignIn runs the popup and exchanges its credential. A dismissed popup
// returns an error matching both [farmauth.ErrProvider] and
// [farmauth.ErrProviderCancelled]. Backend refusals come back unchanged as
// [*farmauth.RejectionError].
func (f *Federated) SignIn(ctx context.Context) (farmauth.IdentityAssertion, error) {
	if f == nil || f.popup == nil || f.exchange == nil {
		return farmauth.IdentityAssertion{}, farmauth.ErrEngineNotReady
	}

	cred, err := f.popup.SignIn(ctx)
	if err != nil {
		if errors.Is(err, ErrPopupClosed) || errors.Is(err, context.Canceled) {
			return farmauth.IdentityAssertion{}, &farmauth.ProviderError{
				Op:  "popup",
				Err: fmt.Errorf("%w: %w", farmauth.ErrProviderCancelled, err),
			}
		}
		return farmauth.IdentityAssertion{}, &farmauth.ProviderError{Op: "popup", Err: err}
	}
	if cred.IDToken == "" {
		return farmauth.IdentityAssertion{}, &farmauth.ProviderError{Op: "popup", Err: errors.New("no identity token returned")}
	}

	if f.verifier != nil {
		if err := f.verify(ctx, cred.IDToken); err != nil {
			return farmauth.IdentityAssertion{}, err
		}
	}

	a, err := f.exchange.FederatedLogin(ctx, cred.IDToken)
	if err != nil {
		return farmauth.IdentityAssertion{}, err
	}
	a.Provider = farmauth.ProviderFederated
	return a, nil
}

func (f *Federated) verify(ctx context.Context, raw string) error {
	idToken, err := f.verifier.Verify(ctx, raw)
	if err != nil {
		return &farmauth.ProviderError{Op: "verify", Err: err}
	}

	var claims struct {
		Subject       string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return &farmauth.ProviderError{Op: "verify", Err: fmt.Errorf("parse claims: %w", err)}
	}
	if claims.Subject == "" || claims.Email == "" {
		return &farmauth.ProviderError{Op: "verify", Err: errors.New("id_token missing required claims")}
	}

	f.logger.WithFields(logrus.Fields{
		"issuer":         idToken.Issuer,
		"email_verified": claims.EmailVerified,
		"expiry_unix":    idToken.Expiry.Unix(),
	}).Debug("provider: federated identity verified")
	return nil
}
