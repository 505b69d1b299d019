package loginflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/farmauth"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrBusy is returned by a submit while a step is already pending.
	ErrBusy = errors.New("loginflow: a request is already pending")
	// ErrClosed is returned when the flow is not open.
	ErrClosed = errors.New("loginflow: flow is not open")
	// ErrStale is returned to a caller whose result arrived after the flow
	// was closed, cancelled or reopened. The result was discarded.
	ErrStale = errors.New("loginflow: attempt superseded")
	// ErrUnexpectedState is returned for an operation the current state does not offer.
	ErrUnexpectedState = errors.New("loginflow: operation not available in current state")
	// ErrFederatedUnavailable is returned by ChooseFederated when no federated adapter is configured.
	ErrFederatedUnavailable = errors.New("loginflow: federated sign-in not configured")
)

// SessionEstablisher stores the session on success. *farmauth.Engine implements it.
type SessionEstablisher interface {
	Establish(ctx context.Context, a farmauth.IdentityAssertion) error
}

// FederatedProvider is the federated adapter.
type FederatedProvider interface {
	SignIn(ctx context.Context) (farmauth.IdentityAssertion, error)
}

// OTPProvider is the backend adapter.
type OTPProvider interface {
	SignIn(ctx context.Context, email string) (farmauth.IdentityAssertion, error)
	RequestCode(ctx context.Context, email, username string) error
	Confirm(ctx context.Context, email, code, username string) (farmauth.IdentityAssertion, error)
}

// Auditor records flow events. *farmauth.Engine implements it.
type Auditor interface {
	EmitAudit(ctx context.Context, eventType string, success bool, userEmail string, provider farmauth.ProviderKind, err error)
}

// Option customizes a Flow.
type Option func(*Flow)

func WithLogger(l logrus.FieldLogger) Option {
	return func(f *Flow) {
		if l != nil {
			f.logger = l
		}
	}
}

func WithMetrics(m *farmauth.Metrics) Option {
	return func(f *Flow) { f.metrics = m }
}

func WithAudit(a Auditor) Option {
	return func(f *Flow) { f.audit = a }
}

// WithCloseGrace sets how long Close keeps the last state visible before
// discarding it.
func WithCloseGrace(d time.Duration) Option {
	return func(f *Flow) {
		if d >= 0 {
			f.closeGrace = d
		}
	}
}

// WithClock overrides the clock stamping pending registrations.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) {
		if now != nil {
			f.now = now
		}
	}
}

// Flow is one login UI instance.
type Flow struct {
	sessions  SessionEstablisher
	federated FederatedProvider
	otp       OTPProvider

	logger     logrus.FieldLogger
	metrics    *farmauth.Metrics
	audit      Auditor
	closeGrace time.Duration
	now        func() time.Time

	mu         sync.Mutex
	gen        uint64
	id         string
	open       bool
	state      State
	view       View
	emails     map[View]string
	username   string
	code       string
	codeSent   bool
	pending    *PendingRegistration
	errMsg     string
	lastErr    error
	closeTimer *time.Timer
}

// New returns an idle flow. federated may be nil when the popup path is not offered.
func New(sessions SessionEstablisher, federated FederatedProvider, otp OTPProvider, opts ...Option) *Flow {
	f := &Flow{
		sessions:   sessions,
		federated:  federated,
		otp:        otp,
		logger:     logrus.StandardLogger(),
		closeGrace: 300 * time.Millisecond,
		now:        time.Now,
		emails:     make(map[View]string, 2),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

/*
====================================
LIFECYCLE
====================================
*/

// Open starts a fresh attempt at ProviderChoice and returns its identifier.
// Opening discards whatever a previous attempt left behind.
func (f *Flow) Open() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stopCloseTimerLocked()
	f.resetLocked()
	f.id = uuid.NewString()
	f.open = true
	f.state = StateProviderChoice
	return f.id
}

// Close hides the flow. Results of calls still in flight are ignored from now
// on; the visible state is discarded after the close grace delay. The session
// is never touched.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open {
		return
	}
	f.open = false
	f.gen++
	f.emitLocked(farmauth.AuditEventFlowClosed, true, nil)

	f.stopCloseTimerLocked()
	if f.closeGrace <= 0 {
		f.resetLocked()
		return
	}

	closedAt := f.gen
	f.closeTimer = time.AfterFunc(f.closeGrace, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.gen == closedAt && !f.open {
			f.resetLocked()
		}
	})
}

// Cancel discards the flow immediately.
func (f *Flow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stopCloseTimerLocked()
	f.resetLocked()
}

func (f *Flow) stopCloseTimerLocked() {
	if f.closeTimer != nil {
		f.closeTimer.Stop()
		f.closeTimer = nil
	}
}

func (f *Flow) resetLocked() {
	f.gen++
	f.id = ""
	f.open = false
	f.state = StateIdle
	f.view = ViewSignIn
	f.emails = make(map[View]string, 2)
	f.username = ""
	f.code = ""
	f.codeSent = false
	f.pending = nil
	f.clearErrorLocked()
}

// Snapshot returns a copy of the current state.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := Snapshot{
		FlowID:   f.id,
		Open:     f.open,
		State:    f.state,
		View:     f.view,
		Email:    f.emails[f.view],
		Username: f.username,
		Code:     f.code,
		CodeSent: f.codeSent,
		Busy:     f.state.Busy(),
		Error:    f.errMsg,
		Err:      f.lastErr,
	}
	if f.pending != nil {
		p := *f.pending
		s.Pending = &p
	}
	return s
}

/*
====================================
NAVIGATION & DRAFTS
====================================
*/

// ChooseBackend moves from ProviderChoice to the email form in view.
func (f *Flow) ChooseBackend(view View) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkLocked(StateProviderChoice); err != nil {
		return err
	}
	f.view = view
	f.state = StateCredentialEntry
	f.clearErrorLocked()
	return nil
}

// SwitchView toggles between sign-in and sign-up. The code, the sent flag and
// any pending registration are dropped and the error banner is cleared. Each
// view keeps the email typed into it.
func (f *Flow) SwitchView(view View) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkLocked(StateCredentialEntry, StateOtpEntryPending); err != nil {
		return err
	}
	if view == f.view && f.state == StateCredentialEntry {
		return nil
	}
	f.view = view
	f.state = StateCredentialEntry
	f.code = ""
	f.codeSent = false
	f.pending = nil
	f.clearErrorLocked()
	return nil
}

// Back steps out of the current form: code entry returns to the sign-up form
// and the email form returns to ProviderChoice.
func (f *Flow) Back() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkLocked(StateCredentialEntry, StateOtpEntryPending); err != nil {
		return err
	}
	if f.state == StateOtpEntryPending {
		f.state = StateCredentialEntry
	} else {
		f.state = StateProviderChoice
	}
	f.code = ""
	f.codeSent = false
	f.pending = nil
	f.clearErrorLocked()
	return nil
}

// SetEmail edits the email draft of the current view. Ignored while busy.
func (f *Flow) SetEmail(email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open && !f.state.Busy() {
		f.emails[f.view] = email
	}
}

// SetUsername edits the username draft. Ignored while busy.
func (f *Flow) SetUsername(username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open && !f.state.Busy() {
		f.username = username
	}
}

// SetCode edits the verification code. Ignored while busy.
func (f *Flow) SetCode(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open && !f.state.Busy() {
		f.code = code
	}
}

/*
====================================
SUBMITS
====================================
*/

// ChooseFederated runs the federated popup and, on success, establishes the
// session. Failure returns to ProviderChoice.
func (f *Flow) ChooseFederated(ctx context.Context) error {
	f.mu.Lock()
	if err := f.checkLocked(StateProviderChoice); err != nil {
		f.mu.Unlock()
		return err
	}
	if f.federated == nil {
		f.failLocked(StateProviderChoice, ErrFederatedUnavailable)
		f.mu.Unlock()
		return ErrFederatedUnavailable
	}
	gen, id := f.beginLocked(StateFederatedPending)
	f.mu.Unlock()

	var a farmauth.IdentityAssertion
	err := f.guard(id, "federated sign-in", func() (err error) {
		a, err = f.federated.SignIn(farmauth.WithFlowID(ctx, id))
		return err
	})
	return f.finish(ctx, gen, StateProviderChoice, a, err)
}

// SubmitSignIn signs a returning user in with the email of the sign-in view.
func (f *Flow) SubmitSignIn(ctx context.Context) error {
	f.mu.Lock()
	if err := f.checkLocked(StateCredentialEntry); err != nil {
		f.mu.Unlock()
		return err
	}
	if f.view != ViewSignIn {
		f.mu.Unlock()
		return ErrUnexpectedState
	}
	if f.otp == nil {
		f.mu.Unlock()
		return farmauth.ErrEngineNotReady
	}
	email := strings.TrimSpace(f.emails[ViewSignIn])
	if email == "" {
		err := f.rejectLocked("email")
		f.mu.Unlock()
		return err
	}
	gen, id := f.beginLocked(StateVerifying)
	f.mu.Unlock()

	var a farmauth.IdentityAssertion
	err := f.guard(id, "sign-in", func() (err error) {
		a, err = f.otp.SignIn(farmauth.WithFlowID(ctx, id), email)
		return err
	})
	return f.finish(ctx, gen, StateCredentialEntry, a, err)
}

// RequestCode asks the backend to send a verification code for the sign-up
// email and username. It may be called again from code entry to resend.
func (f *Flow) RequestCode(ctx context.Context) error {
	f.mu.Lock()
	if err := f.checkLocked(StateCredentialEntry, StateOtpEntryPending); err != nil {
		f.mu.Unlock()
		return err
	}
	if f.view != ViewSignUp {
		f.mu.Unlock()
		return ErrUnexpectedState
	}
	if f.otp == nil {
		f.mu.Unlock()
		return farmauth.ErrEngineNotReady
	}
	origin := f.state
	email := strings.TrimSpace(f.emails[ViewSignUp])
	username := strings.TrimSpace(f.username)
	if f.pending != nil {
		email, username = f.pending.Email, f.pending.Username
	}
	switch {
	case email == "":
		err := f.rejectLocked("email")
		f.mu.Unlock()
		return err
	case username == "":
		err := f.rejectLocked("username")
		f.mu.Unlock()
		return err
	}
	gen, id := f.beginLocked(StateOtpRequestPending)
	f.mu.Unlock()

	err := f.guard(id, "request code", func() error {
		return f.otp.RequestCode(farmauth.WithFlowID(ctx, id), email, username)
	})

	f.mu.Lock()
	defer f.mu.Unlock()

	if stale := f.staleLocked(gen, "request code"); stale != nil {
		return stale
	}
	if err != nil {
		f.failLocked(origin, err)
		f.emitLocked(farmauth.AuditEventVerificationRequest, false, err)
		return err
	}

	f.state = StateOtpEntryPending
	f.codeSent = true
	f.code = ""
	f.pending = &PendingRegistration{Email: email, Username: username, RequestedAt: f.now()}
	f.metricInc(farmauth.MetricVerificationRequested)
	f.emitLocked(farmauth.AuditEventVerificationRequest, true, nil)
	return nil
}

// SubmitCode confirms the delivered code and creates the account. Failure
// stays on code entry with the registration kept and the code cleared.
func (f *Flow) SubmitCode(ctx context.Context) error {
	f.mu.Lock()
	if err := f.checkLocked(StateOtpEntryPending); err != nil {
		f.mu.Unlock()
		return err
	}
	code := strings.TrimSpace(f.code)
	if code == "" {
		err := f.rejectLocked("code")
		f.mu.Unlock()
		return err
	}
	if f.pending == nil || f.otp == nil {
		f.mu.Unlock()
		return ErrUnexpectedState
	}
	reg := *f.pending
	gen, id := f.beginLocked(StateVerifying)
	f.mu.Unlock()

	var a farmauth.IdentityAssertion
	err := f.guard(id, "confirm code", func() (err error) {
		a, err = f.otp.Confirm(farmauth.WithFlowID(ctx, id), reg.Email, code, reg.Username)
		return err
	})
	if err = f.finish(ctx, gen, StateOtpEntryPending, a, err); err != nil && !errors.Is(err, ErrStale) {
		f.metricInc(farmauth.MetricVerificationFailure)
	}
	return err
}

/*
====================================
INTERNALS
====================================
*/

// checkLocked verifies the flow is open, idle and in one of allowed.
func (f *Flow) checkLocked(allowed ...State) error {
	if !f.open {
		return ErrClosed
	}
	if f.state.Busy() {
		f.metricInc(farmauth.MetricDuplicateSubmit)
		return ErrBusy
	}
	for _, s := range allowed {
		if f.state == s {
			return nil
		}
	}
	return ErrUnexpectedState
}

func (f *Flow) beginLocked(pending State) (uint64, string) {
	f.state = pending
	f.clearErrorLocked()
	return f.gen, f.id
}

func (f *Flow) rejectLocked(field string) error {
	err := &farmauth.ValidationError{Field: field}
	f.metricInc(farmauth.MetricValidationRejected)
	f.setErrorLocked(err)
	return err
}

// failLocked returns to origin with err shown. Codes never survive a failure.
func (f *Flow) failLocked(origin State, err error) {
	f.state = origin
	f.code = ""
	f.setErrorLocked(err)
	f.metricInc(farmauth.MetricLoginFailure)
	if errors.Is(err, farmauth.ErrProviderCancelled) {
		f.metricInc(farmauth.MetricFederatedCancelled)
	}
}

func (f *Flow) setErrorLocked(err error) {
	f.lastErr = err
	f.errMsg = Message(err)
}

func (f *Flow) clearErrorLocked() {
	f.lastErr = nil
	f.errMsg = ""
}

// staleLocked reports ErrStale when the attempt started under gen is no
// longer the active one.
func (f *Flow) staleLocked(gen uint64, op string) error {
	if gen == f.gen && f.open {
		return nil
	}
	f.metricInc(farmauth.MetricStaleResultDropped)
	f.logger.WithField("op", op).Debug("loginflow: discarding result of superseded attempt")
	if f.audit != nil {
		f.audit.EmitAudit(context.Background(), farmauth.AuditEventStaleResultDiscarded, true, "", 0, nil)
	}
	return ErrStale
}

// finish applies the outcome of a session-yielding call.
func (f *Flow) finish(ctx context.Context, gen uint64, origin State, a farmauth.IdentityAssertion, err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if stale := f.staleLocked(gen, "finish"); stale != nil {
		return stale
	}

	if err == nil {
		err = a.Validate()
	}
	if err == nil {
		// Held under the lock so a concurrent Close cannot slip between the
		// generation check and the store write.
		err = f.sessions.Establish(farmauth.WithFlowID(ctx, f.id), a)
	}
	if err != nil {
		f.failLocked(origin, err)
		if errors.Is(err, farmauth.ErrProviderCancelled) {
			f.emitLocked(farmauth.AuditEventProviderCancelled, false, err)
		} else {
			f.emitProviderLocked(farmauth.AuditEventLoginFailure, false, a.SubjectEmail, providerFor(origin), err)
		}
		return err
	}

	f.state = StateSuccess
	f.code = ""
	f.codeSent = false
	f.pending = nil
	f.clearErrorLocked()
	f.metricInc(farmauth.MetricLoginSuccess)
	f.emitProviderLocked(farmauth.AuditEventLoginSuccess, true, a.SubjectEmail, a.Provider, nil)
	return nil
}

func providerFor(origin State) farmauth.ProviderKind {
	if origin == StateProviderChoice {
		return farmauth.ProviderFederated
	}
	return farmauth.ProviderBackendOTP
}

// guard runs an adapter call and turns a panic into an error.
func (f *Flow) guard(flowID, op string, call func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.WithFields(logrus.Fields{
				"op":      op,
				"flow_id": flowID,
				"panic":   r,
				"stack":   string(debug.Stack()),
			}).Error("loginflow: adapter panicked")
			err = fmt.Errorf("loginflow: %s panicked: %v", op, r)
		}
	}()
	return call()
}

func (f *Flow) metricInc(id farmauth.MetricID) {
	if f.metrics != nil {
		f.metrics.Inc(id)
	}
}

func (f *Flow) emitLocked(eventType string, success bool, err error) {
	f.emitProviderLocked(eventType, success, f.emails[f.view], 0, err)
}

func (f *Flow) emitProviderLocked(eventType string, success bool, email string, provider farmauth.ProviderKind, err error) {
	if f.audit == nil {
		return
	}
	f.audit.EmitAudit(farmauth.WithFlowID(context.Background(), f.id), eventType, success, email, provider, err)
}
