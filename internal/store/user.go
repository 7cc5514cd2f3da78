package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gotours/apiserver/types"
	"github.com/lib/pq"
)

// uniqueViolation is the Postgres error code for unique constraint hits.
const uniqueViolation = "23505"

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// userColumns excludes password and reset material; those are only read by
// the credential-checking queries below.
const userColumns = `id, name, email, role, password_changed_at, active, created_at, updated_at`

func scanUser(row *sql.Row) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Role,
		&user.PasswordChangedAt,
		&user.Active,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

// GetByID retrieves an active user. Soft-deleted accounts read as absent.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1 AND active`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves an active user by case-insensitive email, without
// credential material.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE lower(email) = $1 AND active`
	return scanUser(r.db.QueryRowContext(ctx, query, types.NormalizeEmail(email)))
}

// GetByEmailWithPassword is the credential-checking read used by login and
// password updates. It is the only email lookup that returns the hash.
func (r *UserRepository) GetByEmailWithPassword(ctx context.Context, email string) (types.User, error) {
	const query = `
		SELECT id, name, email, role, password_hash, password_changed_at, active, created_at, updated_at
		FROM users
		WHERE lower(email) = $1 AND active`
	var user types.User
	err := r.db.QueryRowContext(ctx, query, types.NormalizeEmail(email)).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Role,
		&user.PasswordHash,
		&user.PasswordChangedAt,
		&user.Active,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

// GetByIDWithPassword is the credential-checking read used by password
// updates for an already-authenticated user.
func (r *UserRepository) GetByIDWithPassword(ctx context.Context, id uuid.UUID) (types.User, error) {
	const query = `
		SELECT id, name, email, role, password_hash, password_changed_at, active, created_at, updated_at
		FROM users
		WHERE id = $1 AND active`
	var user types.User
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Role,
		&user.PasswordHash,
		&user.PasswordChangedAt,
		&user.Active,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

// GetByResetTokenHash resolves an outstanding, unexpired reset token in a
// single query. Matching on hash alone and checking expiry afterwards
// would briefly treat expired tokens as valid; the condition is atomic on
// purpose.
func (r *UserRepository) GetByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE password_reset_hash = $1
		  AND password_reset_expires_at > $2
		  AND active`
	return scanUser(r.db.QueryRowContext(ctx, query, tokenHash, now))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now()
	user.ID = uuid.New()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Email = types.NormalizeEmail(user.Email)
	user.Active = true

	const query = `
		INSERT INTO users (id, name, email, role, password_hash, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Name,
		user.Email,
		user.Role,
		user.PasswordHash,
		user.Active,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrDuplicateEmail
		}
		return types.User{}, err
	}
	return user, nil
}

// Update persists profile fields. Credential material is written only
// through the dedicated methods below.
func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	user.UpdatedAt = time.Now()
	user.Email = types.NormalizeEmail(user.Email)

	const query = `
		UPDATE users
		SET name = $1,
			email = $2,
			role = $3,
			updated_at = $4
		WHERE id = $5 AND active`
	result, err := r.db.ExecContext(
		ctx,
		query,
		user.Name,
		user.Email,
		user.Role,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrDuplicateEmail
		}
		return types.User{}, err
	}
	if err := requireAffected(result); err != nil {
		return types.User{}, err
	}
	return user, nil
}

// UpdatePassword stores a new hash and the password-changed watermark, and
// clears any outstanding reset token in the same statement.
func (r *UserRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string, changedAt time.Time) error {
	const query = `
		UPDATE users
		SET password_hash = $1,
			password_changed_at = $2,
			password_reset_hash = NULL,
			password_reset_expires_at = NULL,
			updated_at = $3
		WHERE id = $4 AND active`
	result, err := r.db.ExecContext(ctx, query, passwordHash, changedAt, time.Now(), id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// SetResetToken records the hash and expiry of a freshly issued reset
// token. A later call overwrites an earlier one: last request wins.
func (r *UserRepository) SetResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	const query = `
		UPDATE users
		SET password_reset_hash = $1,
			password_reset_expires_at = $2,
			updated_at = $3
		WHERE id = $4 AND active`
	result, err := r.db.ExecContext(ctx, query, tokenHash, expiresAt, time.Now(), id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// ClearResetToken removes any outstanding reset token state. Unlike the
// other mutators it carries no active filter: the rollback after a failed
// reset delivery must clear the half-issued token even if the account was
// deactivated mid-flow.
func (r *UserRepository) ClearResetToken(ctx context.Context, id uuid.UUID) error {
	const query = `
		UPDATE users
		SET password_reset_hash = NULL,
			password_reset_expires_at = NULL,
			updated_at = $1
		WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// Deactivate soft-deletes a user. The row stays; normal reads skip it.
func (r *UserRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	const query = `
		UPDATE users
		SET active = FALSE,
			updated_at = $1
		WHERE id = $2 AND active`
	result, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// List returns all active users, newest first.
func (r *UserRepository) List(ctx context.Context) ([]types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE active
		ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []types.User
	for rows.Next() {
		var user types.User
		if err := rows.Scan(
			&user.ID,
			&user.Name,
			&user.Email,
			&user.Role,
			&user.PasswordChangedAt,
			&user.Active,
			&user.CreatedAt,
			&user.UpdatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
