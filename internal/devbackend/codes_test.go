package devbackend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCodeStore(t *testing.T) (*CodeStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCodeStore(rdb, "test:otp"), mr
}

func savePending(t *testing.T, store *CodeStore, email, code string) {
	t.Helper()
	rec := &PendingRegistration{
		Username:  "hen keeper",
		CodeHash:  hashCode(code),
		ExpiresAt: time.Now().Add(10 * time.Minute).Unix(),
	}
	if err := store.Save(context.Background(), email, rec, 10*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

func TestCodeStoreConsumeSuccessDeletesRecord(t *testing.T) {
	store, mr := newTestCodeStore(t)
	savePending(t, store, "Grower@Farm.test", "123456")

	rec, err := store.Consume(context.Background(), "grower@farm.test", "123456", 5)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if rec.Username != "hen keeper" {
		t.Fatalf("expected username to round-trip, got %q", rec.Username)
	}
	if mr.Exists("test:otp:grower@farm.test") {
		t.Fatal("expected record to be deleted after success")
	}

	if _, err := store.Consume(context.Background(), "grower@farm.test", "123456", 5); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound on reuse, got %v", err)
	}
}

func TestCodeStoreMismatchCountsAttempts(t *testing.T) {
	store, mr := newTestCodeStore(t)
	savePending(t, store, "a@farm.test", "123456")

	for i := 0; i < 2; i++ {
		if _, err := store.Consume(context.Background(), "a@farm.test", "000000", 3); !errors.Is(err, ErrCodeMismatch) {
			t.Fatalf("attempt %d: expected ErrCodeMismatch, got %v", i+1, err)
		}
	}
	if !mr.Exists("test:otp:a@farm.test") {
		t.Fatal("record must survive attempts below the cap")
	}
	if ttl := mr.TTL("test:otp:a@farm.test"); ttl <= 0 {
		t.Fatalf("expected TTL preserved after mismatch, got %v", ttl)
	}

	if _, err := store.Consume(context.Background(), "a@farm.test", "000000", 3); !errors.Is(err, ErrCodeAttemptsExceeded) {
		t.Fatalf("expected ErrCodeAttemptsExceeded, got %v", err)
	}
	if mr.Exists("test:otp:a@farm.test") {
		t.Fatal("expected record deleted at attempt cap")
	}
}

func TestCodeStoreCorrectCodeAfterMismatch(t *testing.T) {
	store, _ := newTestCodeStore(t)
	savePending(t, store, "b@farm.test", "654321")

	if _, err := store.Consume(context.Background(), "b@farm.test", "111111", 5); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	rec, err := store.Consume(context.Background(), "b@farm.test", "654321", 5)
	if err != nil {
		t.Fatalf("expected success after one miss, got %v", err)
	}
	if rec.Attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", rec.Attempts)
	}
}

func TestCodeStoreExpiredRecord(t *testing.T) {
	store, _ := newTestCodeStore(t)
	savePending(t, store, "c@farm.test", "123456")

	store.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	if _, err := store.Consume(context.Background(), "c@farm.test", "123456", 5); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound for expired code, got %v", err)
	}
}

func TestCodeStoreTTLExpiry(t *testing.T) {
	store, mr := newTestCodeStore(t)
	savePending(t, store, "d@farm.test", "123456")

	mr.FastForward(11 * time.Minute)
	if _, err := store.Consume(context.Background(), "d@farm.test", "123456", 5); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound after TTL, got %v", err)
	}
}

func TestCodeStoreUnavailable(t *testing.T) {
	store, mr := newTestCodeStore(t)
	mr.Close()

	if _, err := store.Consume(context.Background(), "e@farm.test", "123456", 5); !errors.Is(err, ErrCodeStoreUnavailable) {
		t.Fatalf("expected ErrCodeStoreUnavailable, got %v", err)
	}
}

func TestNewCodeDigits(t *testing.T) {
	code, err := newCode(6)
	if err != nil {
		t.Fatalf("newCode failed: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6 digits, got %q", code)
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			t.Fatalf("expected decimal code, got %q", code)
		}
	}
	if _, err := newCode(2); err == nil {
		t.Fatal("expected error for too few digits")
	}
}
