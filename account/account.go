// Package account stores local users.
//
// Passwords are kept as lowercase SHA-256 hex digests, the format of the
// records already held by the deployed app.
package account

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/user/ventana-link/logger"
	"github.com/user/ventana-link/store"
)

var (
	ErrEmptyCredentials   = errors.New("account: username and password are required")
	ErrUserExists         = errors.New("account: user already exists")
	ErrInvalidCredentials = errors.New("account: invalid username or password")
)

// HashPassword returns the hex SHA-256 of password
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// User is a stored account
type User struct {
	ID        int64
	Username  string
	CreatedAt time.Time
}

// Store manages users in SQLite
type Store struct {
	db *store.DB
}

// NewStore wraps a migrated database
func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

func normalize(username string) string {
	return strings.TrimSpace(username)
}

// Register creates a user. Duplicate usernames are rejected.
func (s *Store) Register(ctx context.Context, username, password string) (User, error) {
	username = normalize(username)
	if username == "" || password == "" {
		return User{}, ErrEmptyCredentials
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, HashPassword(password), now.Unix())
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return User{}, ErrUserExists
		}
		return User{}, errors.Wrap(err, "account: register")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, errors.Wrap(err, "account: register")
	}

	logger.Info("account", "👤 registered %s", username)
	return User{ID: id, Username: username, CreatedAt: time.Unix(now.Unix(), 0)}, nil
}

// Login checks the credentials
func (s *Store) Login(ctx context.Context, username, password string) (User, error) {
	username = normalize(username)
	if username == "" || password == "" {
		return User{}, ErrEmptyCredentials
	}

	var (
		u       User
		hash    string
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username, &hash, &created)
	if err == sql.ErrNoRows {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, errors.Wrap(err, "account: login")
	}

	if subtle.ConstantTimeCompare([]byte(hash), []byte(HashPassword(password))) != 1 {
		logger.Warn("account", "🔒 failed login for %s", username)
		return User{}, ErrInvalidCredentials
	}
	u.CreatedAt = time.Unix(created, 0)
	return u, nil
}

// List returns every user ordered by name
func (s *Store) List(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, errors.Wrap(err, "account: list")
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var (
			u       User
			created int64
		)
		if err := rows.Scan(&u.ID, &u.Username, &created); err != nil {
			return nil, errors.Wrap(err, "account: list")
		}
		u.CreatedAt = time.Unix(created, 0)
		out = append(out, u)
	}
	return out, rows.Err()
}
