package loginflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/farmauth"
)

type fakeSessions struct {
	mu    sync.Mutex
	calls []farmauth.IdentityAssertion
	err   error
}

func (s *fakeSessions) Establish(_ context.Context, a farmauth.IdentityAssertion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, a)
	return nil
}

func (s *fakeSessions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// fakeOTP answers immediately unless gate is set, in which case every call
// waits for a value on gate first.
type fakeOTP struct {
	mu            sync.Mutex
	signIns       int
	registers     int
	confirms      int
	lastConfirm   [3]string
	gate          chan struct{}
	signInErr     error
	registerErr   error
	confirmErr    error
	panicOnSignIn bool
}

func (o *fakeOTP) wait(ctx context.Context) error {
	if o.gate == nil {
		return nil
	}
	select {
	case <-o.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *fakeOTP) SignIn(ctx context.Context, email string) (farmauth.IdentityAssertion, error) {
	o.mu.Lock()
	o.signIns++
	o.mu.Unlock()
	if o.panicOnSignIn {
		panic("adapter exploded")
	}
	if err := o.wait(ctx); err != nil {
		return farmauth.IdentityAssertion{}, err
	}
	if o.signInErr != nil {
		return farmauth.IdentityAssertion{}, o.signInErr
	}
	return farmauth.IdentityAssertion{
		SubjectEmail: email,
		OpaqueToken:  "T1",
		Provider:     farmauth.ProviderBackendOTP,
		IssuedAt:     time.Now(),
	}, nil
}

func (o *fakeOTP) RequestCode(ctx context.Context, email, username string) error {
	o.mu.Lock()
	o.registers++
	o.mu.Unlock()
	if err := o.wait(ctx); err != nil {
		return err
	}
	return o.registerErr
}

func (o *fakeOTP) Confirm(ctx context.Context, email, code, username string) (farmauth.IdentityAssertion, error) {
	o.mu.Lock()
	o.confirms++
	o.lastConfirm = [3]string{email, code, username}
	o.mu.Unlock()
	if err := o.wait(ctx); err != nil {
		return farmauth.IdentityAssertion{}, err
	}
	if o.confirmErr != nil {
		return farmauth.IdentityAssertion{}, o.confirmErr
	}
	return farmauth.IdentityAssertion{
		SubjectEmail: email,
		OpaqueToken:  "T2",
		Provider:     farmauth.ProviderBackendOTP,
		IssuedAt:     time.Now(),
	}, nil
}

func (o *fakeOTP) counts() (signIns, registers, confirms int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.signIns, o.registers, o.confirms
}

type federatedFunc func(ctx context.Context) (farmauth.IdentityAssertion, error)

func (f federatedFunc) SignIn(ctx context.Context) (farmauth.IdentityAssertion, error) {
	return f(ctx)
}

type recordingAudit struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingAudit) EmitAudit(_ context.Context, eventType string, _ bool, _ string, _ farmauth.ProviderKind, _ error) {
	r.mu.Lock()
	r.events = append(r.events, eventType)
	r.mu.Unlock()
}

func (r *recordingAudit) has(eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == eventType {
			return true
		}
	}
	return false
}

func waitForState(t *testing.T, f *Flow, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.Snapshot().State == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, have %s", want, f.Snapshot().State)
}
