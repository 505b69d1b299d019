package provider

import (
	"context"
	"strings"

	"github.com/MrEthical07/farmauth"
)

// OTPBackend is the subset of the backend client used by [BackendOTP].
type OTPBackend interface {
	Register(ctx context.Context, email, username string) error
	VerifyAndCreate(ctx context.Context, email, code, username string) (farmauth.IdentityAssertion, error)
	Login(ctx context.Context, email string) (farmauth.IdentityAssertion, error)
}

// BackendOTP is the backend identity adapter: single-step sign-in for a
// returning user, and register + verification code for a new one.
type BackendOTP struct {
	backend OTPBackend
}

func NewBackendOTP(b OTPBackend) *BackendOTP {
	return &BackendOTP{backend: b}
}

// SignIn asks the backend for a session for a registered email.
func (o *BackendOTP) SignIn(ctx context.Context, email string) (farmauth.IdentityAssertion, error) {
	if o == nil || o.backend == nil {
		return farmauth.IdentityAssertion{}, farmauth.ErrEngineNotReady
	}
	a, err := o.backend.Login(ctx, strings.TrimSpace(email))
	if err != nil {
		return farmauth.IdentityAssertion{}, err
	}
	a.Provider = farmauth.ProviderBackendOTP
	return a, nil
}

// RequestCode starts sign-up; the backend delivers a code out of band.
func (o *BackendOTP) RequestCode(ctx context.Context, email, username string) error {
	if o == nil || o.backend == nil {
		return farmauth.ErrEngineNotReady
	}
	return o.backend.Register(ctx, strings.TrimSpace(email), strings.TrimSpace(username))
}

// Confirm completes sign-up with the delivered code.
func (o *BackendOTP) Confirm(ctx context.Context, email, code, username string) (farmauth.IdentityAssertion, error) {
	if o == nil || o.backend == nil {
		return farmauth.IdentityAssertion{}, farmauth.ErrEngineNotReady
	}
	a, err := o.backend.VerifyAndCreate(ctx, strings.TrimSpace(email), strings.TrimSpace(code), strings.TrimSpace(username))
	if err != nil {
		return farmauth.IdentityAssertion{}, err
	}
	a.Provider = farmauth.ProviderBackendOTP
	return a, nil
}
