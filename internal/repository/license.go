package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/savegress/optimizer/backend/internal/models"
)

// LicenseRepository persists license assignments synced from the
// directory's subscribedSkus/assignedLicenses data.
type LicenseRepository struct {
	db *PostgresDB
}

func NewLicenseRepository(db *PostgresDB) *LicenseRepository {
	return &LicenseRepository{db: db}
}

func (r *LicenseRepository) Upsert(ctx context.Context, tx pgx.Tx, a *models.LicenseAssignment) error {
	_, err := target(r.db, tx).Exec(ctx, `
		INSERT INTO license_assignments (id, tenant_id, user_id, directory_sku_id, status, source, assigned_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, directory_sku_id) DO UPDATE SET
			status = EXCLUDED.status,
			source = EXCLUDED.source,
			assigned_at = EXCLUDED.assigned_at,
			updated_at = EXCLUDED.updated_at
	`, a.ID, a.TenantID, a.UserID, a.DirectorySkuID, a.Status, a.Source, a.AssignedAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert license assignment: %w", err)
	}
	return nil
}

// DeleteMissingForUser hard-deletes assignments for a user not present in
// keep. Matches the resolved "hard delete on scoped sync" decision.
func (r *LicenseRepository) DeleteMissingForUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID, keep []string) (int64, error) {
	tag, err := target(r.db, tx).Exec(ctx, `
		DELETE FROM license_assignments WHERE user_id = $1 AND NOT (directory_sku_id = ANY($2))
	`, userID, keep)
	if err != nil {
		return 0, fmt.Errorf("delete missing assignments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *LicenseRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.LicenseAssignment, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, tenant_id, user_id, directory_sku_id, status, source, assigned_at, created_at, updated_at
		FROM license_assignments WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list license assignments: %w", err)
	}
	defer rows.Close()

	assignments := make([]models.LicenseAssignment, 0)
	for rows.Next() {
		var a models.LicenseAssignment
		if err := rows.Scan(&a.ID, &a.TenantID, &a.UserID, &a.DirectorySkuID, &a.Status, &a.Source, &a.AssignedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, nil
}

func (r *LicenseRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.LicenseAssignment, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, tenant_id, user_id, directory_sku_id, status, source, assigned_at, created_at, updated_at
		FROM license_assignments WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user assignments: %w", err)
	}
	defer rows.Close()

	assignments := make([]models.LicenseAssignment, 0)
	for rows.Next() {
		var a models.LicenseAssignment
		if err := rows.Scan(&a.ID, &a.TenantID, &a.UserID, &a.DirectorySkuID, &a.Status, &a.Source, &a.AssignedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, nil
}
