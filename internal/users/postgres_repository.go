package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const userColumns = `id, username, email, password_hash, profile_pic, created_at, updated_at`

// PostgresRepository stores users in the users table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repository on db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, u User) (User, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.ProfilePic, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return User{}, mapUniqueViolation(err)
	}
	return u, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (r *PostgresRepository) ListExcept(ctx context.Context, id string) ([]User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id <> $1 ORDER BY username`, id)
	if err != nil {
		return nil, fmt.Errorf("users: db error: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("users: db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) UpdateProfilePic(ctx context.Context, id, url string, at time.Time) (User, error) {
	return r.getOne(ctx,
		`UPDATE users SET profile_pic = $2, updated_at = $3 WHERE id = $1 RETURNING `+userColumns,
		id, url, at)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (User, error) {
	var u User
	err := s.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.ProfilePic, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, err
	}
	if err != nil {
		return User{}, fmt.Errorf("users: db error: %w", err)
	}
	return u, nil
}

// mapUniqueViolation converts unique-constraint failures into the matching
// sentinel error.
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		if strings.Contains(pqErr.Constraint, "email") {
			return ErrEmailTaken
		}
		return ErrUsernameTaken
	}
	return fmt.Errorf("users: db error: %w", err)
}
