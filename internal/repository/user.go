package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/savegress/optimizer/backend/internal/models"
)

// UserRepository persists directory users synced from a tenant's Azure AD.
type UserRepository struct {
	db *PostgresDB
}

func NewUserRepository(db *PostgresDB) *UserRepository {
	return &UserRepository{db: db}
}

// Upsert inserts or updates a directory user keyed on (tenant_id, directory_user_id).
func (r *UserRepository) Upsert(ctx context.Context, tx pgx.Tx, u *models.User) error {
	_, err := target(r.db, tx).Exec(ctx, `
		INSERT INTO users (id, tenant_id, directory_user_id, principal_name, display_name, department, account_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, directory_user_id) DO UPDATE SET
			principal_name = EXCLUDED.principal_name,
			display_name = EXCLUDED.display_name,
			department = EXCLUDED.department,
			account_enabled = EXCLUDED.account_enabled,
			updated_at = EXCLUDED.updated_at
	`, u.ID, u.TenantID, u.DirectoryUserID, u.PrincipalName, u.DisplayName, u.Department, u.AccountEnabled, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// DeleteMissing hard-deletes directory users for a tenant whose
// directory_user_id is not in keep. This is the resolved behavior for the
// "scoped delete on sync" open question: the source directory is the
// authority, so a user no longer returned by Graph is removed outright
// along with their assignments (ON DELETE CASCADE).
func (r *UserRepository) DeleteMissing(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, keep []string) (int64, error) {
	tag, err := target(r.db, tx).Exec(ctx, `
		DELETE FROM users WHERE tenant_id = $1 AND NOT (directory_user_id = ANY($2))
	`, tenantID, keep)
	if err != nil {
		return 0, fmt.Errorf("delete missing users: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *UserRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.User, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, tenant_id, directory_user_id, principal_name, display_name, COALESCE(department, ''), account_enabled, created_at, updated_at
		FROM users WHERE tenant_id = $1 ORDER BY principal_name
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.TenantID, &u.DirectoryUserID, &u.PrincipalName, &u.DisplayName, &u.Department, &u.AccountEnabled, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, tenant_id, directory_user_id, principal_name, display_name, COALESCE(department, ''), account_enabled, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.TenantID, &u.DirectoryUserID, &u.PrincipalName, &u.DisplayName, &u.Department, &u.AccountEnabled, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
