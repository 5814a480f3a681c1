package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/isdelr/storefront-be/internal/common"
	"github.com/isdelr/storefront-be/internal/models"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// UserRepository persists user records.
type UserRepository interface {
	Create(ctx context.Context, user models.User) error
	GetActiveByEmail(ctx context.Context, email string) (models.User, error)
	GetActiveByID(ctx context.Context, id string) (models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) (int64, error)
	FlagExpiredGuests(ctx context.Context, createdBefore time.Time) (int64, error)
	PurgeFlagged(ctx context.Context, limit int) (int64, error)
}

// SQLUserRepository is the database/sql implementation of UserRepository.
type SQLUserRepository struct {
	db      DBTX
	dialect Dialect
}

// NewUserRepository creates a repository using the statements for dialect.
func NewUserRepository(db DBTX, dialect Dialect) *SQLUserRepository {
	return &SQLUserRepository{db: db, dialect: dialect}
}

const userColumns = "id, first_name, last_name, email, password_hash, is_guest, is_deleted, created_at, stripe_id"

// Create inserts a new user. A clash with another active account's email
// yields common.ErrDuplicateEmail.
func (r *SQLUserRepository) Create(ctx context.Context, user models.User) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		user.ID, user.FirstName, user.LastName, NormalizeEmail(user.Email), user.PasswordHash,
		user.IsGuest, false, user.CreatedAt.UTC().Truncate(time.Millisecond), user.PaymentCustomerRef)
	if err != nil {
		if isUniqueViolation(err) {
			return common.ErrDuplicateEmail
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetActiveByEmail looks up a non-deleted user by normalized email.
func (r *SQLUserRepository) GetActiveByEmail(ctx context.Context, email string) (models.User, error) {
	return r.getOne(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ? AND is_deleted = 0 LIMIT 2",
		NormalizeEmail(email))
}

// GetActiveByID looks up a non-deleted user by id.
func (r *SQLUserRepository) GetActiveByID(ctx context.Context, id string) (models.User, error) {
	return r.getOne(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ? AND is_deleted = 0 LIMIT 2",
		id)
}

// getOne expects exactly one row; zero rows and more than one row are
// reported as different errors.
func (r *SQLUserRepository) getOne(ctx context.Context, query string, args ...any) (models.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return models.User{}, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash,
			&u.IsGuest, &u.IsDeleted, &u.CreatedAt, &u.PaymentCustomerRef); err != nil {
			return models.User{}, fmt.Errorf("db error: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return models.User{}, fmt.Errorf("db error: %w", err)
	}

	switch len(users) {
	case 0:
		return models.User{}, common.ErrNotFound
	case 1:
		return users[0], nil
	default:
		return models.User{}, common.ErrMultipleRows
	}
}

// UpdatePassword replaces the hash of a non-deleted user and reports the
// number of rows changed.
func (r *SQLUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE users SET password_hash = ? WHERE id = ? AND is_deleted = 0",
		passwordHash, id)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

// FlagExpiredGuests soft-deletes every active guest created strictly before
// createdBefore in a single statement.
func (r *SQLUserRepository) FlagExpiredGuests(ctx context.Context, createdBefore time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE users SET is_deleted = 1 WHERE is_guest = 1 AND is_deleted = 0 AND created_at < ?",
		createdBefore.UTC().Truncate(time.Millisecond))
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

// PurgeFlagged removes at most limit flagged users in a single statement.
func (r *SQLUserRepository) PurgeFlagged(ctx context.Context, limit int) (int64, error) {
	query := "DELETE FROM users WHERE id IN (SELECT id FROM users WHERE is_deleted = 1 LIMIT ?)"
	if r.dialect == DialectMySQL {
		// MySQL rejects LIMIT inside an IN subquery but supports DELETE ... LIMIT
		query = "DELETE FROM users WHERE is_deleted = 1 LIMIT ?"
	}
	res, err := r.db.ExecContext(ctx, query, limit)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDuplicateEntry
	}
	return false
}
