package tokenstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable wraps every backend failure.
	ErrUnavailable = errors.New("token store unavailable")
	// ErrEmptyRecord is returned by Save when the token or email is empty.
	ErrEmptyRecord = errors.New("token store: empty token or email")
)

// Record is the persisted session pair.
type Record struct {
	Token string
	Email string
}

// Store is the durable home of the session. Save overwrites unconditionally;
// Clear removes token and email together.
type Store interface {
	Save(ctx context.Context, token, email string) error
	Clear(ctx context.Context) error
	Token(ctx context.Context) (string, bool, error)
	UserEmail(ctx context.Context) (string, bool, error)
	Load(ctx context.Context) (Record, bool, error)
}

// Keys is the key layout of a profile in key-value backends.
type Keys struct {
	Token string
	User  string
}

// KeyLayout returns "<prefix>:<profile>:token" and "<prefix>:<profile>:user".
func KeyLayout(prefix, profile string) Keys {
	if prefix == "" {
		prefix = "farmtrak"
	}
	if profile == "" {
		profile = "default"
	}
	base := prefix + ":" + profile + ":"
	return Keys{
		Token: base + "token",
		User:  base + "user",
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

func checkRecord(token, email string) error {
	if token == "" || email == "" {
		return ErrEmptyRecord
	}
	return nil
}

// tokenOf and emailOf derive single fields from one consistent Load so both
// accessors agree with each other.
func tokenOf(ctx context.Context, s Store) (string, bool, error) {
	rec, ok, err := s.Load(ctx)
	if err != nil || !ok {
		return "", false, err
	}
	return rec.Token, true, nil
}

func emailOf(ctx context.Context, s Store) (string, bool, error) {
	rec, ok, err := s.Load(ctx)
	if err != nil || !ok {
		return "", false, err
	}
	return rec.Email, true, nil
}
