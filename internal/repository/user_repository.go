package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/gurkanbulca/taskboard/internal/database"
)

var userColumns = []string{
	"id", "email", "password_hash", "display_name",
	"refresh_token", "refresh_token_expires_at", "last_login",
	"failed_login_attempts", "account_locked_until",
	"password_reset_token", "password_reset_expires_at", "password_reset_attempts",
	"password_reset_at", "password_changed_at",
	"created_at", "updated_at",
}

// User is a registered account.
type User struct {
	ID                     string     `db:"id"`
	Email                  string     `db:"email"`
	PasswordHash           string     `db:"password_hash"`
	DisplayName            string     `db:"display_name"`
	RefreshToken           *string    `db:"refresh_token"`
	RefreshTokenExpiresAt  *time.Time `db:"refresh_token_expires_at"`
	LastLogin              *time.Time `db:"last_login"`
	FailedLoginAttempts    int        `db:"failed_login_attempts"`
	AccountLockedUntil     *time.Time `db:"account_locked_until"`
	PasswordResetToken     *string    `db:"password_reset_token"`
	PasswordResetExpiresAt *time.Time `db:"password_reset_expires_at"`
	PasswordResetAttempts  int        `db:"password_reset_attempts"`
	PasswordResetAt        *time.Time `db:"password_reset_at"`
	PasswordChangedAt      *time.Time `db:"password_changed_at"`
	CreatedAt              time.Time  `db:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at"`
}

// IsLocked reports whether the account is locked at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.AccountLockedUntil != nil && now.Before(*u.AccountLockedUntil)
}

func (u *User) normalize() {
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	for _, t := range []*time.Time{
		u.RefreshTokenExpiresAt, u.LastLogin, u.AccountLockedUntil,
		u.PasswordResetExpiresAt, u.PasswordResetAt, u.PasswordChangedAt,
	} {
		if t != nil {
			*t = t.UTC()
		}
	}
}

type UserRepository struct {
	db  *database.DB
	now func() time.Time
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db, now: time.Now}
}

func (r *UserRepository) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.db.Dialect())
}

// Create registers a new account. The email must already be normalized.
func (r *UserRepository) Create(ctx context.Context, email, passwordHash, displayName string) (*User, error) {
	now := dbTime(r.now())
	u := &User{
		ID:                uuid.NewString(),
		Email:             email,
		PasswordHash:      passwordHash,
		DisplayName:       displayName,
		PasswordChangedAt: &now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	sel := r.builder().Select("id").From(entsql.Table(database.UsersTable))
	sel.Where(entsql.EQ(sel.C("email"), email))
	query, args := sel.Query()

	var existing string
	switch err := tx.GetContext(ctx, &existing, query, args...); {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, rollback(tx, fmt.Errorf("check email: %w", err))
	default:
		return nil, rollback(tx, ErrEmailTaken)
	}

	query, args = r.builder().Insert(database.UsersTable).
		Columns(userColumns...).
		Values(userValues(u)...).
		Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, rollback(tx, fmt.Errorf("create user: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) getBy(ctx context.Context, column string, value any) (*User, error) {
	sel := r.builder().Select(userColumns...).From(entsql.Table(database.UsersTable))
	sel.Where(entsql.EQ(sel.C(column), value))
	query, args := sel.Query()

	var u User
	if err := r.db.GetContext(ctx, &u, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by %s: %w", column, err)
	}
	u.normalize()
	return &u, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return r.getBy(ctx, "id", id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getBy(ctx, "email", email)
}

func (r *UserRepository) GetByResetToken(ctx context.Context, token string) (*User, error) {
	return r.getBy(ctx, "password_reset_token", token)
}

// Save writes every mutable column of u and bumps UpdatedAt.
func (r *UserRepository) Save(ctx context.Context, u *User) error {
	u.UpdatedAt = dbTime(r.now())
	query, args := r.builder().Update(database.UsersTable).
		Set("password_hash", u.PasswordHash).
		Set("display_name", u.DisplayName).
		Set("refresh_token", u.RefreshToken).
		Set("refresh_token_expires_at", dbTimePtr(u.RefreshTokenExpiresAt)).
		Set("last_login", dbTimePtr(u.LastLogin)).
		Set("failed_login_attempts", u.FailedLoginAttempts).
		Set("account_locked_until", dbTimePtr(u.AccountLockedUntil)).
		Set("password_reset_token", u.PasswordResetToken).
		Set("password_reset_expires_at", dbTimePtr(u.PasswordResetExpiresAt)).
		Set("password_reset_attempts", u.PasswordResetAttempts).
		Set("password_reset_at", dbTimePtr(u.PasswordResetAt)).
		Set("password_changed_at", dbTimePtr(u.PasswordChangedAt)).
		Set("updated_at", u.UpdatedAt).
		Where(entsql.EQ("id", u.ID)).
		Query()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearExpiredResetTokens removes reset tokens that expired before now and
// returns how many were cleared. The expiry and the attempt count stay, since
// the request cooldown and the daily limit are measured from them.
func (r *UserRepository) ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	query, args := r.builder().Update(database.UsersTable).
		SetNull("password_reset_token").
		Where(entsql.And(
			entsql.NotNull("password_reset_token"),
			entsql.LT("password_reset_expires_at", dbTime(now)),
		)).
		Query()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clear expired reset tokens: %w", err)
	}
	return res.RowsAffected()
}

func userValues(u *User) []any {
	return []any{
		u.ID, u.Email, u.PasswordHash, u.DisplayName,
		u.RefreshToken, dbTimePtr(u.RefreshTokenExpiresAt), dbTimePtr(u.LastLogin),
		u.FailedLoginAttempts, dbTimePtr(u.AccountLockedUntil),
		u.PasswordResetToken, dbTimePtr(u.PasswordResetExpiresAt), u.PasswordResetAttempts,
		dbTimePtr(u.PasswordResetAt), dbTimePtr(u.PasswordChangedAt),
		u.CreatedAt, u.UpdatedAt,
	}
}
