package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS farmtrak_session (
	profile TEXT PRIMARY KEY,
	token TEXT NOT NULL,
	email TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`
	upsertSQL = `INSERT INTO farmtrak_session (profile, token, email, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(profile) DO UPDATE SET token = excluded.token, email = excluded.email, updated_at = excluded.updated_at`
	deleteSQL = `DELETE FROM farmtrak_session WHERE profile = ?`
	selectSQL = `SELECT token, email FROM farmtrak_session WHERE profile = ?`
)

// SQLStore keeps one row per profile. The row holds both values, so a save or a
// clear can never leave them out of step.
type SQLStore struct {
	db      *sql.DB
	profile string
	now     func() time.Time
}

// NewSQLStore wraps an open database. Call [SQLStore.Migrate] once before use.
func NewSQLStore(db *sql.DB, profile string) *SQLStore {
	if profile == "" {
		profile = "default"
	}
	return &SQLStore{
		db:      db,
		profile: profile,
		now:     time.Now,
	}
}

// OpenSQLite opens (creating if needed) the profile database at path.
func OpenSQLite(ctx context.Context, path, profile string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open profile %s: %w", path, err)
	}
	s := NewSQLStore(db, profile)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the session table when missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return unavailable("migrate", err)
	}
	return nil
}

func (s *SQLStore) Save(ctx context.Context, token, email string) error {
	if err := checkRecord(token, email); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertSQL, s.profile, token, email, s.now().Unix()); err != nil {
		return unavailable("save", err)
	}
	return nil
}

func (s *SQLStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, deleteSQL, s.profile); err != nil {
		return unavailable("clear", err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context) (Record, bool, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx, selectSQL, s.profile).Scan(&rec.Token, &rec.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, unavailable("load", err)
	}
	if rec.Token == "" || rec.Email == "" {
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (s *SQLStore) Token(ctx context.Context) (string, bool, error) {
	return tokenOf(ctx, s)
}

func (s *SQLStore) UserEmail(ctx context.Context) (string, bool, error) {
	return emailOf(ctx, s)
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
