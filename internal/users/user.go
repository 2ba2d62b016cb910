// Package users stores chat accounts. Repositories are provided for
// PostgreSQL, MongoDB and process memory.
package users

import (
	"context"
	"errors"
	"regexp"
	"time"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("users: not found")
	// ErrEmailTaken is returned when the email is already registered.
	ErrEmailTaken = errors.New("users: email already exists")
	// ErrUsernameTaken is returned when the username is already registered.
	ErrUsernameTaken = errors.New("users: username already exists")
)

// User is a registered account.
type User struct {
	ID           string    `json:"id" bson:"_id"`
	Username     string    `json:"username" bson:"username"`
	Email        string    `json:"email" bson:"email"`
	PasswordHash string    `json:"-" bson:"password_hash"`
	ProfilePic   string    `json:"profile_pic" bson:"profile_pic"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`
}

// Repository persists users. Create expects ID and timestamps to be set by
// the caller.
type Repository interface {
	Create(ctx context.Context, u User) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	// ListExcept returns every user but id, ordered by username.
	ListExcept(ctx context.Context, id string) ([]User, error)
	UpdateProfilePic(ctx context.Context, id, url string, at time.Time) (User, error)
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// ValidUsername reports whether name is non-empty and alphanumeric.
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}
