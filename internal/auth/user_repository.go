package auth

import (
	"errors"
	"strings"
)

// UserRepository defines operations for account persistence and retrieval.
// Implementations exist for MariaDB, MongoDB and in-memory (tests and
// single-instance development servers).
type UserRepository interface {
	// FindByUsername returns a user by username (case-insensitive). If the user
	// is not found, (nil, ErrUserNotFound) should be returned.
	FindByUsername(username string) (*User, error)

	// CreateUser creates a new account with the supplied data and returns the
	// stored user instance. Caller is expected to pass a bcrypt-hashed password.
	// Implementations must enforce unique usernames (case-insensitive) and
	// return ErrUserExists on conflict.
	CreateUser(username string, passwordHash string, color string) (*User, error)

	// RecordLogin updates the account's last_login timestamp.
	RecordLogin(username string) error

	// GetColor returns the persisted cow color, DefaultColor if unset or the
	// account does not exist.
	GetColor(username string) (string, error)

	// SetColor persists the cow color for an existing account.
	SetColor(username string, color string) error
}

// Domain-level errors returned by the repository.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// Identity приводит имя к ключу идентичности (lowercase). Под этим
// ключом хранятся аккаунт и прогресс; исходное написание имени
// сохраняется только для отображения.
func Identity(username string) string {
	return strings.ToLower(username)
}

func normalize(username string) string {
	return Identity(username)
}
