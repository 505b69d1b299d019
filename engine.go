package farmauth

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	internalaudit "github.com/MrEthical07/farmauth/internal/audit"
	"github.com/MrEthical07/farmauth/tokenstore"
	"github.com/sirupsen/logrus"
)

// Engine is the session manager. It turns identity assertions into the stored
// session and answers "is a session active" for every dependent.
//
// Engine holds no session state of its own; every query reads the token store,
// so a change made by another process sharing the profile is seen on the next call.
type Engine struct {
	config  Config
	store   tokenstore.Store
	closers []io.Closer
	audit   *internalaudit.Dispatcher
	metrics *Metrics
	logger  logrus.FieldLogger
	now     func() time.Time

	// mu orders writes so subscribers observe events in store order.
	mu sync.Mutex

	subMu       sync.RWMutex
	subscribers map[uint64]func(SessionEvent)
	nextSub     uint64
}

// Close stops the audit dispatcher and releases stores opened by the builder.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			e.logger.WithError(err).Warn("farmauth: close store")
		}
	}
	e.closers = nil
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	if e == nil {
		return defaultConfig()
	}
	return cloneConfig(e.config)
}

// Logger returns the engine logger for components assembled around it.
func (e *Engine) Logger() logrus.FieldLogger {
	if e == nil || e.logger == nil {
		return logrus.StandardLogger()
	}
	return e.logger
}

// Metrics returns the engine's metric registry, shared with the login flow,
// the route guard and the request authenticator.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

/*
====================================
QUERIES
====================================
*/

// IsActive reports whether the profile holds a session. A storage failure
// reports false.
func (e *Engine) IsActive(ctx context.Context) bool {
	_, ok := e.Session(ctx)
	return ok
}

// Session returns the stored session. The token and email always come from
// one consistent read.
func (e *Engine) Session(ctx context.Context) (Session, bool) {
	if e == nil || e.store == nil {
		return Session{}, false
	}

	rec, ok, err := e.store.Load(ctx)
	if err != nil {
		e.storageFailed(ctx, "load", err)
		return Session{}, false
	}
	if !ok || rec.Token == "" {
		return Session{}, false
	}
	return Session{Token: rec.Token, UserEmail: rec.Email}, true
}

// CurrentUser returns the email of the active session.
func (e *Engine) CurrentUser(ctx context.Context) (string, bool) {
	s, ok := e.Session(ctx)
	if !ok {
		return "", false
	}
	return s.UserEmail, true
}

// Token returns the bearer token of the active session.
func (e *Engine) Token(ctx context.Context) (string, bool) {
	s, ok := e.Session(ctx)
	if !ok {
		return "", false
	}
	return s.Token, true
}

/*
====================================
LIFECYCLE
====================================
*/

// Establish stores the assertion's token and email, replacing any previous
// session. It returns [ErrInvalidAssertion] for an empty token or email and an
// error matching [ErrStorageUnavailable] when the store cannot be written.
func (e *Engine) Establish(ctx context.Context, a IdentityAssertion) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if err := a.Validate(); err != nil {
		e.emitAudit(ctx, auditEventSessionRejected, false, a.SubjectEmail, a.Provider, err, nil)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.Save(ctx, a.OpaqueToken, a.SubjectEmail); err != nil {
		e.storageFailed(ctx, "save", err)
		e.emitAudit(ctx, auditEventSessionEstablished, false, a.SubjectEmail, a.Provider, err, nil)
		return storageError("save", err)
	}

	e.metricInc(MetricSessionEstablished)
	e.emitAudit(ctx, auditEventSessionEstablished, true, a.SubjectEmail, a.Provider, nil, nil)
	e.notify(SessionEvent{
		Kind:      EventEstablished,
		UserEmail: a.SubjectEmail,
		Provider:  a.Provider,
		At:        e.now(),
	})
	return nil
}

// Terminate clears the session (logout). Calls already in flight with the old
// token are not cancelled; only new calls stop being authorized.
func (e *Engine) Terminate(ctx context.Context) error {
	return e.TerminateWithReason(ctx, ReasonLogout)
}

// TerminateWithReason clears the session and reports reason to subscribers.
// Clearing an empty store is not an error; subscribers are only told about a
// non-logout termination when a session actually existed.
func (e *Engine) TerminateWithReason(ctx context.Context, reason string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.terminateLocked(ctx, reason, "")
	return err
}

// TerminateIfCurrent clears the session only while the stored token still
// equals token. It reports whether a session was cleared. A rejection for a
// token that has since been replaced therefore leaves the newer session alone.
func (e *Engine) TerminateIfCurrent(ctx context.Context, token string) (bool, error) {
	if e == nil || e.store == nil {
		return false, ErrEngineNotReady
	}
	if token == "" {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.terminateLocked(ctx, ReasonUnauthorized, token)
}

// TerminateIfAbsent clears the profile only while it holds no session, wiping
// half-written leftovers such as an email without a token. The check and the
// clear run under the write lock, so a login finishing concurrently in this
// process survives. No event is raised.
func (e *Engine) TerminateIfAbsent(ctx context.Context) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok, err := e.store.Load(ctx)
	if err != nil {
		e.storageFailed(ctx, "load", err)
		return storageError("load", err)
	}
	if ok && rec.Token != "" {
		return nil
	}

	if err := e.store.Clear(ctx); err != nil {
		e.storageFailed(ctx, "clear", err)
		return storageError("clear", err)
	}
	return nil
}

func (e *Engine) terminateLocked(ctx context.Context, reason, expectToken string) (bool, error) {
	rec, had, err := e.store.Load(ctx)
	if err != nil {
		// Clear anyway: a store that cannot be read must not keep a session alive.
		e.storageFailed(ctx, "load", err)
		had = false
	}
	if expectToken != "" && (!had || rec.Token != expectToken) {
		return false, nil
	}

	if err := e.store.Clear(ctx); err != nil {
		e.storageFailed(ctx, "clear", err)
		e.emitAudit(ctx, auditEventSessionTerminated, false, rec.Email, 0, err, reasonMetadata(reason))
		return false, storageError("clear", err)
	}

	if !had && reason != ReasonLogout {
		return false, nil
	}

	e.metricInc(MetricSessionTerminated)
	if reason == ReasonUnauthorized {
		e.metricInc(MetricSessionUnauthorized)
	}
	e.emitAudit(ctx, auditEventSessionTerminated, true, rec.Email, 0, nil, reasonMetadata(reason))
	e.notify(SessionEvent{
		Kind:      EventTerminated,
		UserEmail: rec.Email,
		Reason:    reason,
		At:        e.now(),
	})
	return had, nil
}

func reasonMetadata(reason string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"reason": reason}
	}
}

func (e *Engine) storageFailed(ctx context.Context, op string, err error) {
	e.metricInc(MetricStorageUnavailable)
	e.logger.WithError(err).WithField("op", op).Warn("farmauth: token store unavailable")
	e.emitAudit(ctx, auditEventStorageUnavailable, false, "", 0, err, func() map[string]string {
		return map[string]string{"op": op}
	})
}

/*
====================================
SUBSCRIBERS
====================================
*/

// Subscribe registers fn for session events raised by this engine. Events from
// other processes sharing the profile are not delivered. fn runs synchronously
// after the store write; a panicking subscriber is logged and skipped.
func (e *Engine) Subscribe(fn func(SessionEvent)) (cancel func()) {
	if e == nil || fn == nil {
		return func() {}
	}

	e.subMu.Lock()
	if e.subscribers == nil {
		e.subscribers = make(map[uint64]func(SessionEvent))
	}
	e.nextSub++
	id := e.nextSub
	e.subscribers[id] = fn
	e.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subMu.Lock()
			delete(e.subscribers, id)
			e.subMu.Unlock()
		})
	}
}

func (e *Engine) notify(ev SessionEvent) {
	e.subMu.RLock()
	fns := make([]func(SessionEvent), 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		fns = append(fns, fn)
	}
	e.subMu.RUnlock()

	for _, fn := range fns {
		e.deliver(fn, ev)
	}
}

func (e *Engine) deliver(fn func(SessionEvent), ev SessionEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithField("panic", r).WithField("event", ev.Kind.String()).
				Error("farmauth: session subscriber panicked")
		}
	}()
	fn(ev)
}

// IsStorageUnavailable reports whether err came from an unreachable token store.
func IsStorageUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, tokenstore.ErrUnavailable)
}
