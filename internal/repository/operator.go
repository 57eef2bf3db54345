package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/savegress/optimizer/backend/internal/models"
)

// OperatorRepository persists Operator accounts and the session artifacts
// (refresh tokens, password resets) backing the admin bearer-token web
// layer's auth flow.
type OperatorRepository struct {
	db *PostgresDB
}

func NewOperatorRepository(db *PostgresDB) *OperatorRepository {
	return &OperatorRepository{db: db}
}

func (r *OperatorRepository) Create(ctx context.Context, o *models.Operator) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO operators (id, email, password_hash, name, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, o.ID, o.Email, o.PasswordHash, o.Name, o.Role, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create operator: %w", err)
	}
	return nil
}

func (r *OperatorRepository) GetByEmail(ctx context.Context, email string) (*models.Operator, error) {
	var o models.Operator
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, email, password_hash, name, role, created_at, updated_at, last_login_at
		FROM operators WHERE email = $1
	`, email).Scan(&o.ID, &o.Email, &o.PasswordHash, &o.Name, &o.Role, &o.CreatedAt, &o.UpdatedAt, &o.LastLoginAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get operator by email: %w", err)
	}
	return &o, nil
}

func (r *OperatorRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Operator, error) {
	var o models.Operator
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, email, password_hash, name, role, created_at, updated_at, last_login_at
		FROM operators WHERE id = $1
	`, id).Scan(&o.ID, &o.Email, &o.PasswordHash, &o.Name, &o.Role, &o.CreatedAt, &o.UpdatedAt, &o.LastLoginAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get operator: %w", err)
	}
	return &o, nil
}

func (r *OperatorRepository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.Pool().Exec(ctx, `UPDATE operators SET last_login_at = $1 WHERE id = $2`, at, id)
	return err
}

func (r *OperatorRepository) CreateRefreshToken(ctx context.Context, t *models.RefreshToken) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO refresh_tokens (id, operator_id, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, t.ID, t.OperatorID, t.Token, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

func (r *OperatorRepository) GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	var t models.RefreshToken
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, operator_id, token, expires_at, revoked_at, created_at
		FROM refresh_tokens WHERE token = $1
	`, token).Scan(&t.ID, &t.OperatorID, &t.Token, &t.ExpiresAt, &t.RevokedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	return &t, nil
}

func (r *OperatorRepository) RevokeRefreshToken(ctx context.Context, token string, at time.Time) error {
	_, err := r.db.Pool().Exec(ctx, `UPDATE refresh_tokens SET revoked_at = $1 WHERE token = $2`, at, token)
	return err
}

func (r *OperatorRepository) RevokeAllRefreshTokens(ctx context.Context, operatorID uuid.UUID, at time.Time) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $1 WHERE operator_id = $2 AND revoked_at IS NULL
	`, at, operatorID)
	return err
}

func (r *OperatorRepository) UpdatePassword(ctx context.Context, operatorID uuid.UUID, passwordHash string, at time.Time) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE operators SET password_hash = $1, updated_at = $2 WHERE id = $3
	`, passwordHash, at, operatorID)
	return err
}

func (r *OperatorRepository) CreatePasswordReset(ctx context.Context, p *models.PasswordReset) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO password_resets (id, operator_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.OperatorID, p.TokenHash, p.ExpiresAt, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

// GetPasswordReset returns the most recently issued, still-unused reset
// row for operatorID. The caller verifies the plaintext token against
// TokenHash with bcrypt before trusting it.
func (r *OperatorRepository) GetPasswordReset(ctx context.Context, operatorID uuid.UUID) (*models.PasswordReset, error) {
	var p models.PasswordReset
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, operator_id, token_hash, expires_at, used_at, created_at
		FROM password_resets WHERE operator_id = $1 AND used_at IS NULL
		ORDER BY created_at DESC LIMIT 1
	`, operatorID).Scan(&p.ID, &p.OperatorID, &p.TokenHash, &p.ExpiresAt, &p.UsedAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get password reset: %w", err)
	}
	return &p, nil
}

func (r *OperatorRepository) MarkPasswordResetUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.Pool().Exec(ctx, `UPDATE password_resets SET used_at = $1 WHERE id = $2`, at, id)
	return err
}
