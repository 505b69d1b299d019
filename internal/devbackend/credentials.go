package devbackend

import (
	"context"
	"errors"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// ErrEmailNotVerified is returned when the provider has not verified the address.
var ErrEmailNotVerified = errors.New("provider email not verified")

// CredentialVerifier turns a provider credential into a verified email.
type CredentialVerifier interface {
	Verify(ctx context.Context, credential string) (email, name string, err error)
}

// OIDCCredentials verifies provider ID tokens with go-oidc.
type OIDCCredentials struct {
	Verifier *oidc.IDTokenVerifier
}

func (c OIDCCredentials) Verify(ctx context.Context, credential string) (string, string, error) {
	if c.Verifier == nil {
		return "", "", errors.New("oidc verifier not configured")
	}
	idToken, err := c.Verifier.Verify(ctx, credential)
	if err != nil {
		return "", "", err
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", "", err
	}
	if strings.TrimSpace(claims.Email) == "" {
		return "", "", errors.New("id token has no email claim")
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return "", "", ErrEmailNotVerified
	}
	return claims.Email, claims.Name, nil
}
