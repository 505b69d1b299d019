package farmauth

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func buildMemoryEngine(t *testing.T) *Engine {
	t.Helper()

	logger, _ := test.NewNullLogger()
	engine, err := New().WithLogger(logger).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func buildRedisEngine(t *testing.T, rdb redis.UniversalClient, profile string) (*Engine, *test.Hook) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Store.Driver = StoreRedis
	cfg.Session.Profile = profile

	logger, hook := test.NewNullLogger()
	engine, err := New().WithConfig(cfg).WithRedis(rdb).WithLogger(logger).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, hook
}

func assertion(email, token string) IdentityAssertion {
	return IdentityAssertion{SubjectEmail: email, OpaqueToken: token, Provider: ProviderBackendOTP}
}

func TestEstablishThenActive(t *testing.T) {
	engine := buildMemoryEngine(t)
	ctx := context.Background()

	if engine.IsActive(ctx) {
		t.Fatal("fresh engine must have no session")
	}
	if err := engine.Establish(ctx, assertion("grower@farm.test", "T1")); err != nil {
		t.Fatalf("Establish failed: %v", err)
	}

	if !engine.IsActive(ctx) {
		t.Fatal("expected active session after Establish")
	}
	s, ok := engine.Session(ctx)
	if !ok || s.Token != "T1" || s.UserEmail != "grower@farm.test" {
		t.Fatalf("unexpected session: %+v ok=%v", s, ok)
	}
	if user, _ := engine.CurrentUser(ctx); user != "grower@farm.test" {
		t.Fatalf("unexpected current user %q", user)
	}
	if tok, _ := engine.Token(ctx); tok != "T1" {
		t.Fatalf("unexpected token %q", tok)
	}
}

func TestEstablishRejectsIncompleteAssertion(t *testing.T) {
	engine := buildMemoryEngine(t)
	ctx := context.Background()

	for _, a := range []IdentityAssertion{
		assertion("grower@farm.test", ""),
		assertion("", "T1"),
	} {
		if err := engine.Establish(ctx, a); !errors.Is(err, ErrInvalidAssertion) {
			t.Fatalf("expected ErrInvalidAssertion for %+v, got %v", a, err)
		}
	}
	if engine.IsActive(ctx) {
		t.Fatal("rejected assertion must not create a session")
	}
}

func TestEstablishLastWriteWins(t *testing.T) {
	engine := buildMemoryEngine(t)
	ctx := context.Background()

	_ = engine.Establish(ctx, assertion("a@farm.test", "TA"))
	_ = engine.Establish(ctx, assertion("b@farm.test", "TB"))

	s, ok := engine.Session(ctx)
	if !ok || s.Token != "TB" || s.UserEmail != "b@farm.test" {
		t.Fatalf("expected second session to win, got %+v", s)
	}
}

func TestTerminateClearsTokenAndEmail(t *testing.T) {
	mr, rdb := newTestRedis(t)
	engine, _ := buildRedisEngine(t, rdb, "default")
	ctx := context.Background()

	if err := engine.Establish(ctx, assertion("grower@farm.test", "T1")); err != nil {
		t.Fatalf("Establish failed: %v", err)
	}
	if !mr.Exists("farmtrak:default:token") || !mr.Exists("farmtrak:default:user") {
		t.Fatal("expected both keys written")
	}

	if err := engine.Terminate(ctx); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if mr.Exists("farmtrak:default:token") || mr.Exists("farmtrak:default:user") {
		t.Fatal("expected both keys removed")
	}
	if engine.IsActive(ctx) {
		t.Fatal("expected no session after Terminate")
	}
}

func TestTerminateWithoutSessionIsNoop(t *testing.T) {
	engine := buildMemoryEngine(t)
	ctx := context.Background()

	var events []SessionEvent
	engine.Subscribe(func(ev SessionEvent) { events = append(events, ev) })

	if err := engine.Terminate(ctx); err != nil {
		t.Fatalf("Terminate on empty store failed: %v", err)
	}
	if err := engine.TerminateWithReason(ctx, ReasonMissingToken); err != nil {
		t.Fatalf("TerminateWithReason on empty store failed: %v", err)
	}

	if len(events) != 1 || events[0].Reason != ReasonLogout {
		t.Fatalf("expected only the logout to be announced, got %+v", events)
	}
}

func TestTerminateIfCurrent(t *testing.T) {
	engine := buildMemoryEngine(t)
	ctx := context.Background()

	_ = engine.Establish(ctx, assertion("a@farm.test", "OLD"))
	_ = engine.Establish(ctx, assertion("b@farm.test", "NEW"))

	cleared, err := engine.TerminateIfCurrent(ctx, "OLD")
	if err != nil || cleared {
		t.Fatalf("stale token must not clear: cleared=%v err=%v", cleared, err)
	}
	if tok, _ := engine.Token(ctx); tok != "NEW" {
		t.Fatalf("newer session must survive, got %q", tok)
	}

	var got SessionEvent
	engine.Subscribe(func(ev SessionEvent) { got = ev })

	cleared, err = engine.TerminateIfCurrent(ctx, "NEW")
	if err != nil || !cleared {
		t.Fatalf("current token must clear: cleared=%v err=%v", cleared, err)
	}
	if engine.IsActive(ctx) {
		t.Fatal("expected session cleared")
	}
	if got.Kind != EventTerminated || got.Reason != ReasonUnauthorized || got.UserEmail != "b@farm.test" {
		t.Fatalf("unexpected event: %+v", got)
	}
	if n := engine.Metrics().Value(MetricSessionUnauthorized); n != 1 {
		t.Fatalf("expected unauthorized metric 1, got %d", n)
	}

	if cleared, _ := engine.TerminateIfCurrent(ctx, ""); cleared {
		t.Fatal("empty token must never clear")
	}
}

func TestStorageUnavailableFailsClosed(t *testing.T) {
	mr, rdb := newTestRedis(t)
	engine, hook := buildRedisEngine(t, rdb, "default")
	ctx := context.Background()

	if err := engine.Establish(ctx, assertion("grower@farm.test", "T1")); err != nil {
		t.Fatalf("Establish failed: %v", err)
	}
	mr.Close()

	if engine.IsActive(ctx) {
		t.Fatal("unreachable store must report no session")
	}
	err := engine.Establish(ctx, assertion("grower@farm.test", "T2"))
	if !IsStorageUnavailable(err) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
	if n := engine.Metrics().Value(MetricStorageUnavailable); n < 2 {
		t.Fatalf("expected storage failures counted, got %d", n)
	}

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, "token store unavailable") {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected a warning for the store failure")
	}
}

func TestProfilesShareAndIsolate(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	first, _ := buildRedisEngine(t, rdb, "field")
	second, _ := buildRedisEngine(t, rdb, "field")
	other, _ := buildRedisEngine(t, rdb, "barn")

	if err := first.Establish(ctx, assertion("grower@farm.test", "T1")); err != nil {
		t.Fatalf("Establish failed: %v", err)
	}
	if user, ok := second.CurrentUser(ctx); !ok || user != "grower@farm.test" {
		t.Fatalf("same profile must see the session, got %q ok=%v", user, ok)
	}
	if other.IsActive(ctx) {
		t.Fatal("other profile must not see the session")
	}

	if err := second.Terminate(ctx); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if first.IsActive(ctx) {
		t.Fatal("logout in one process must be seen by the other on next read")
	}
}

func TestSubscribersReceiveEventsInOrder(t *testing.T) {
	engine := buildMemoryEngine(t)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		kinds []EventKind
	)
	engine.Subscribe(func(SessionEvent) { panic("broken subscriber") })
	cancel := engine.Subscribe(func(ev SessionEvent) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})

	_ = engine.Establish(ctx, IdentityAssertion{SubjectEmail: "g@farm.test", OpaqueToken: "T", Provider: ProviderFederated})
	_ = engine.Terminate(ctx)
	cancel()
	_ = engine.Establish(ctx, assertion("g@farm.test", "T2"))

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 2 || kinds[0] != EventEstablished || kinds[1] != EventTerminated {
		t.Fatalf("unexpected events: %v", kinds)
	}
	if !engine.IsActive(ctx) {
		t.Fatal("a panicking subscriber must not undo the store write")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New()
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestBuilderRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Driver = "etcd"
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected unsupported driver to fail")
	}
}

func TestBuilderSQLiteDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Driver = StoreSQLite
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "profile.db")

	engine, err := New().WithConfig(cfg).Build()
	if err != nil && strings.Contains(err.Error(), "CGO_ENABLED") {
		t.Skipf("sqlite driver unavailable: %v", err)
	}
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	ctx := context.Background()
	if err := engine.Establish(ctx, assertion("grower@farm.test", "T1")); err != nil {
		t.Fatalf("Establish failed: %v", err)
	}
	engine.Close()

	reopened, err := New().WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	if tok, ok := reopened.Token(ctx); !ok || tok != "T1" {
		t.Fatalf("session must survive restart, got %q ok=%v", tok, ok)
	}
}

func TestNilEngineIsInert(t *testing.T) {
	var e *Engine
	ctx := context.Background()

	if e.IsActive(ctx) {
		t.Fatal("nil engine must report no session")
	}
	if err := e.Establish(ctx, assertion("a@farm.test", "T")); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if err := e.Terminate(ctx); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	e.Close()
	if e.Metrics() != nil || e.AuditDropped() != 0 {
		t.Fatal("nil engine must expose no metrics")
	}
}

func TestTerminateIfAbsent(t *testing.T) {
	mr, rdb := newTestRedis(t)
	engine, _ := buildRedisEngine(t, rdb, "default")
	ctx := context.Background()

	var events []SessionEvent
	engine.Subscribe(func(ev SessionEvent) { events = append(events, ev) })

	// an email left behind without a token is not a session
	if err := mr.Set("farmtrak:default:user", "ghost@farm.test"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := engine.TerminateIfAbsent(ctx); err != nil {
		t.Fatalf("TerminateIfAbsent failed: %v", err)
	}
	if mr.Exists("farmtrak:default:user") {
		t.Fatal("expected leftover email removed")
	}

	if err := engine.Establish(ctx, assertion("grower@farm.test", "T1")); err != nil {
		t.Fatalf("Establish failed: %v", err)
	}
	if err := engine.TerminateIfAbsent(ctx); err != nil {
		t.Fatalf("TerminateIfAbsent failed: %v", err)
	}
	if tok, ok := engine.Token(ctx); !ok || tok != "T1" {
		t.Fatalf("present session must survive, got %q ok=%v", tok, ok)
	}
	if len(events) != 1 || events[0].Kind != EventEstablished {
		t.Fatalf("expected only the establish event, got %+v", events)
	}

	mr.Close()
	if err := engine.TerminateIfAbsent(ctx); !IsStorageUnavailable(err) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
}
