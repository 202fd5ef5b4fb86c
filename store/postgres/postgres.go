// Package postgres implements store.Records on PostgreSQL through the pgx
// database/sql driver. Schema lives in the embedded goose migrations.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const userColumns = `id, email, password_hash, role, workspace_id, first_name, last_name,
       email_verified, reset_token_hash, reset_token_expiry, last_login_at,
       external_provider, external_subject, created_at, updated_at`

// Store is a store.Records backed by *sql.DB.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindUserByEmail looks a user up by email.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.findUser(ctx, s.db, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// FindUserByID looks a user up by primary key.
func (s *Store) FindUserByID(ctx context.Context, id string) (*store.User, error) {
	return s.findUser(ctx, s.db, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindUserByResetToken looks a user up by pending reset token hash.
func (s *Store) FindUserByResetToken(ctx context.Context, tokenHash string) (*store.User, error) {
	if tokenHash == "" {
		return nil, store.ErrNotFound
	}
	return s.findUser(ctx, s.db, `SELECT `+userColumns+` FROM users WHERE reset_token_hash = $1`, tokenHash)
}

// FindUserByExternalIdentity looks a user up by federated linkage.
func (s *Store) FindUserByExternalIdentity(ctx context.Context, provider, subject string) (*store.User, error) {
	return s.findUser(ctx, s.db,
		`SELECT `+userColumns+` FROM users WHERE external_provider = $1 AND external_subject = $2`,
		provider, subject)
}

// WorkspaceSlugExists reports whether slug is taken.
func (s *Store) WorkspaceSlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM workspaces WHERE slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

// CreateUserAndWorkspace inserts the user, workspace and subscription in one
// transaction. The users.workspace_id foreign key is deferred so the owner
// row can be written first.
func (s *Store) CreateUserAndWorkspace(ctx context.Context, user *store.User, workspace *store.Workspace, subscription *store.Subscription) error {
	err := WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		provider, subject := externalColumns(user.External)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, email, password_hash, role, workspace_id, first_name, last_name,
			                    email_verified, external_provider, external_subject, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			user.ID, user.Email, nullString(user.PasswordHash), string(user.Role), user.WorkspaceID,
			user.FirstName, user.LastName, user.EmailVerified, provider, subject,
			user.CreatedAt, user.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO workspaces (id, name, slug, created_at) VALUES ($1, $2, $3, $4)`,
			workspace.ID, workspace.Name, workspace.Slug, workspace.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert workspace: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO subscriptions (id, workspace_id, plan, status, trial_ends_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			subscription.ID, subscription.WorkspaceID, subscription.Plan, subscription.Status,
			subscription.TrialEndsAt, subscription.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert subscription: %w", err)
		}
		return nil
	})
	return mapError(err)
}

// RecordLogin stamps last_login_at.
func (s *Store) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	return s.execOne(ctx, "record login",
		`UPDATE users SET last_login_at = $2, updated_at = now() WHERE id = $1`,
		userID, at)
}

// UpdatePasswordHash is a compare-and-set on password_hash.
func (s *Store) UpdatePasswordHash(ctx context.Context, userID, expectedHash, newHash string) error {
	return s.execOne(ctx, "update password",
		`UPDATE users SET password_hash = $3, updated_at = now()
		  WHERE id = $1 AND password_hash IS NOT DISTINCT FROM $2`,
		userID, nullString(expectedHash), newHash)
}

// SetResetToken records a pending reset, replacing any previous one.
func (s *Store) SetResetToken(ctx context.Context, userID, tokenHash string, expiry time.Time) error {
	return s.execOne(ctx, "set reset token",
		`UPDATE users SET reset_token_hash = $2, reset_token_expiry = $3, updated_at = now() WHERE id = $1`,
		userID, tokenHash, expiry)
}

// ClearResetToken is a no-op when tokenHash is no longer pending.
func (s *Store) ClearResetToken(ctx context.Context, userID, tokenHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET reset_token_hash = NULL, reset_token_expiry = NULL, updated_at = now()
		  WHERE id = $1 AND reset_token_hash = $2`,
		userID, tokenHash)
	if err != nil {
		return fmt.Errorf("clear reset token: %w", err)
	}
	return nil
}

// RedeemResetToken consumes an unexpired reset token and sets the new
// hash in a single UPDATE ... RETURNING.
func (s *Store) RedeemResetToken(ctx context.Context, tokenHash, newHash string, now time.Time) (string, error) {
	if tokenHash == "" {
		return "", store.ErrNotFound
	}
	var id string
	err := s.db.QueryRowContext(ctx,
		`UPDATE users
		    SET password_hash = $2, reset_token_hash = NULL, reset_token_expiry = NULL, updated_at = now()
		  WHERE reset_token_hash = $1 AND reset_token_expiry > $3
		RETURNING id`,
		tokenHash, newHash, now).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("redeem reset token: %w", err)
	}
	return id, nil
}

// LinkExternalIdentity links an unlinked user and marks its email verified.
func (s *Store) LinkExternalIdentity(ctx context.Context, userID string, ident store.ExternalIdentity) error {
	return s.execOne(ctx, "link identity",
		`UPDATE users
		    SET external_provider = $2, external_subject = $3, email_verified = TRUE, updated_at = now()
		  WHERE id = $1 AND external_provider IS NULL`,
		userID, ident.Provider, ident.Subject)
}

// execOne runs a single-row update; no matching row is ErrNotFound.
func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(fmt.Errorf("%s: %w", op, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) findUser(ctx context.Context, db DBTX, query string, args ...any) (*store.User, error) {
	var (
		u              store.User
		role           string
		passwordHash   sql.NullString
		resetHash      sql.NullString
		resetExpiry    sql.NullTime
		lastLogin      sql.NullTime
		externalProv   sql.NullString
		externalSubjct sql.NullString
	)
	err := db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Email, &passwordHash, &role, &u.WorkspaceID, &u.FirstName, &u.LastName,
		&u.EmailVerified, &resetHash, &resetExpiry, &lastLogin,
		&externalProv, &externalSubjct, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	u.Role = store.Role(role)
	u.PasswordHash = passwordHash.String
	if resetHash.Valid && resetExpiry.Valid {
		u.SetResetToken(resetHash.String, resetExpiry.Time)
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	if externalProv.Valid && externalSubjct.Valid {
		u.External = &store.ExternalIdentity{Provider: externalProv.String, Subject: externalSubjct.String}
	}
	return &u, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func externalColumns(ext *store.ExternalIdentity) (sql.NullString, sql.NullString) {
	if ext == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return nullString(ext.Provider), nullString(ext.Subject)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
