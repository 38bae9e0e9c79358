/*
Package auth handles user accounts, credentials, and bearer tokens.

PURPOSE:
  Registration with Argon2id password hashing, login issuing a signed JWT,
  and token verification for the request middleware. Login attempts are
  rate limited to slow down credential stuffing.

SEE ALSO:
  - password.go: Hashing and verification
  - api/middleware.go: Token extraction per request
*/
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Role separates patrons from staff. Staff can mutate the catalog and
// manage other users' issues.
type Role string

const (
	RolePatron Role = "patron"
	RoleStaff  Role = "staff"
)

// User is a registered account. PasswordHash is never serialized.
type User struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Sentinel errors. Use with errors.Is().
var (
	// ErrEmailExists is returned when registering an email that is taken.
	ErrEmailExists = errors.New("email already exists")

	// ErrInvalidInput is returned for malformed registration fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidCredentials is returned for unknown email or wrong password.
	// Deliberately the same error for both cases.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrInvalidToken is returned for missing, malformed, or expired tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUserNotFound is returned when a referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrRateLimited is returned when login attempts come too fast.
	ErrRateLimited = errors.New("too many attempts, try again later")
)

// UserStore handles persistence of user accounts.
type UserStore interface {
	// SaveUser inserts a new user. Returns ErrEmailExists on a duplicate email.
	SaveUser(ctx context.Context, user *User) error

	// GetUser returns a user by ID, or ErrUserNotFound.
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)

	// GetUserByEmail returns a user by email, or ErrUserNotFound.
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}
