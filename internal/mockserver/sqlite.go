package mockserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"

	ncerr "authclient/internal/errors"
)

const accountSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id   TEXT PRIMARY KEY,
	user_name TEXT NOT NULL DEFAULT '',
	role      TEXT NOT NULL DEFAULT '',
	hash      BLOB NOT NULL
);`

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	hasher
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the account database at path.
// ":memory:" gives a private in-memory database.
func OpenSQLite(path string, cost int) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: SQLite has a single writer, and ":memory:" is
	// per-connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", accountSchema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
	}
	return &SQLiteStore{hasher: newHasher(cost), db: db}, nil
}

func (s *SQLiteStore) Add(ctx context.Context, acct Account, password string) error {
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, user_name, role, hash) VALUES (?, ?, ?, ?)`,
		acct.UserID, acct.UserName, acct.Role, hash)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ncerr.ErrDuplicateAccount, acct.UserID)
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Verify(ctx context.Context, userID, password string) (Account, error) {
	var (
		acct Account
		hash []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, user_name, role, hash FROM accounts WHERE user_id = ?`, userID).
		Scan(&acct.UserID, &acct.UserName, &acct.Role, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ncerr.ErrInvalidCredential
	}
	if err != nil {
		return Account{}, fmt.Errorf("query account: %w", err)
	}
	if err := s.check(hash, password); err != nil {
		return Account{}, err
	}
	return acct, nil
}

func (s *SQLiteStore) SetPassword(ctx context.Context, userID, password string) error {
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET hash = ? WHERE user_id = ?`, hash, userID)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ncerr.ErrUnknownAccount, userID)
	}
	return nil
}

func (s *SQLiteStore) Lookup(ctx context.Context, userID string) (Account, error) {
	var acct Account
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, user_name, role FROM accounts WHERE user_id = ?`, userID).
		Scan(&acct.UserID, &acct.UserName, &acct.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, fmt.Errorf("%w: %s", ncerr.ErrUnknownAccount, userID)
	}
	if err != nil {
		return Account{}, fmt.Errorf("query account: %w", err)
	}
	return acct, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
