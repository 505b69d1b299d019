package devbackend

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrEmailTaken is returned by Create when the email already has an account.
var ErrEmailTaken = errors.New("email already used")

// User is a registered account.
type User struct {
	Email     string    `json:"email"`
	Username  string    `json:"username,omitempty"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

// UserStore persists accounts keyed by normalized email.
type UserStore interface {
	Create(ctx context.Context, u User) error
	Get(ctx context.Context, email string) (User, bool, error)
}

// MemoryUsers is an in-process [UserStore].
type MemoryUsers struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{users: make(map[string]User)}
}

func (m *MemoryUsers) Create(_ context.Context, u User) error {
	key := normalizeEmail(u.Email)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[key]; ok {
		return ErrEmailTaken
	}
	m.users[key] = u
	return nil
}

func (m *MemoryUsers) Get(_ context.Context, email string) (User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[normalizeEmail(email)]
	return u, ok, nil
}
