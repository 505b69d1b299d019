package tokenstore

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestRedisStoreSharedAcrossClients(t *testing.T) {
	first, mr := newRedisStoreTest(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	second := NewRedisStore(rdb, "farmtrak", "test")
	ctx := context.Background()

	if err := first.Save(ctx, "T1", "a@x.com"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if tok, ok, _ := second.Token(ctx); !ok || tok != "T1" {
		t.Fatalf("second client should see T1, got %q ok=%v", tok, ok)
	}

	if err := second.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := first.Token(ctx); ok {
		t.Fatalf("first client should see the clear")
	}
}

func TestRedisStoreProfilesAreIsolated(t *testing.T) {
	alice, mr := newRedisStoreTest(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	bob := NewRedisStore(rdb, "farmtrak", "bob")
	ctx := context.Background()

	if err := alice.Save(ctx, "T1", "a@x.com"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok, _ := bob.Load(ctx); ok {
		t.Fatalf("profile bob must not see alice's session")
	}
}

func TestRedisStoreHalfWrittenPairIsAbsent(t *testing.T) {
	s, mr := newRedisStoreTest(t)
	ctx := context.Background()

	if err := mr.Set(s.Keys().Token, "orphan"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, ok, err := s.Load(ctx); err != nil || ok {
		t.Fatalf("token without email must load as absent, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := s.Token(ctx); ok {
		t.Fatalf("token accessor must agree with Load")
	}
}

func TestRedisStoreClearRemovesBothKeys(t *testing.T) {
	s, mr := newRedisStoreTest(t)
	ctx := context.Background()

	if err := s.Save(ctx, "T1", "a@x.com"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if mr.Exists(s.Keys().Token) || mr.Exists(s.Keys().User) {
		t.Fatalf("expected both keys removed")
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	s, mr := newRedisStoreTest(t)
	ctx := context.Background()
	mr.Close()

	if _, _, err := s.Load(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on load, got %v", err)
	}
	if err := s.Save(ctx, "T1", "a@x.com"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on save, got %v", err)
	}
	if err := s.Clear(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on clear, got %v", err)
	}
}
