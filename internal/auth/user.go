package auth

import "time"

// User represents a registered player account.
// Username keeps the original casing for display; lookups are always
// case-insensitive (see normalize).
type User struct {
	ID           uint64    // Unique immutable identifier (0 for backends without sequences)
	Username     string    // Display name, original casing preserved
	PasswordHash string    // bcrypt hashed password (60 chars)
	CreatedAt    time.Time // Account creation timestamp (server time)
	LastLogin    time.Time // Last successful login
	Color        string    // Persisted cow color, hex string like #ff0000
}

// DefaultColor назначается аккаунтам без сохраненного цвета.
const DefaultColor = "#ffffff"
