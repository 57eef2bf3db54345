package repository

import (
	"context"
	"fmt"

	"github.com/savegress/optimizer/backend/internal/models"
)

// SkuRegistryRepository persists the static-ish reference data behind the
// SKU compatibility registry: the service matrix and addon compatibility
// rules. These change rarely, so skuregistry.Registry loads them once at
// boot and on an explicit Reload rather than querying per request.
type SkuRegistryRepository struct {
	db *PostgresDB
}

func NewSkuRegistryRepository(db *PostgresDB) *SkuRegistryRepository {
	return &SkuRegistryRepository{db: db}
}

func (r *SkuRegistryRepository) ListServiceMatrix(ctx context.Context) ([]models.SkuServiceMatrix, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT directory_sku_id, commerce_sku_id, family, rank, services, is_addon, storage_quota_gb
		FROM sku_service_matrix
	`)
	if err != nil {
		return nil, fmt.Errorf("list sku service matrix: %w", err)
	}
	defer rows.Close()

	entries := make([]models.SkuServiceMatrix, 0)
	for rows.Next() {
		var m models.SkuServiceMatrix
		if err := rows.Scan(&m.DirectorySkuID, &m.CommerceSkuID, &m.Family, &m.Rank, &m.Services, &m.IsAddon, &m.StorageQuotaGB); err != nil {
			return nil, err
		}
		entries = append(entries, m)
	}
	return entries, nil
}

// UpsertServiceMatrix inserts or updates one directory-SKU<->commerce-SKU
// mapping row. Used both by the boot-time seed and the (out-of-scope) admin
// API that extends the registry at runtime.
func (r *SkuRegistryRepository) UpsertServiceMatrix(ctx context.Context, m *models.SkuServiceMatrix) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO sku_service_matrix (directory_sku_id, commerce_sku_id, family, rank, services, is_addon, storage_quota_gb)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (directory_sku_id) DO UPDATE SET
			commerce_sku_id = EXCLUDED.commerce_sku_id,
			family = EXCLUDED.family,
			rank = EXCLUDED.rank,
			services = EXCLUDED.services,
			is_addon = EXCLUDED.is_addon,
			storage_quota_gb = EXCLUDED.storage_quota_gb
	`, m.DirectorySkuID, m.CommerceSkuID, m.Family, m.Rank, m.Services, m.IsAddon, m.StorageQuotaGB)
	if err != nil {
		return fmt.Errorf("upsert sku service matrix: %w", err)
	}
	return nil
}

// UpsertAddonCompatibility inserts or updates one addon compatibility rule,
// keyed on (addon_sku_id, base_sku_id, effective_from).
func (r *SkuRegistryRepository) UpsertAddonCompatibility(ctx context.Context, a *models.AddonCompatibility) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO addon_compatibility (addon_sku_id, base_sku_id, category, min_quantity, max_quantity, multiplier, prerequisites, effective_from, effective_to, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (addon_sku_id, base_sku_id, effective_from) DO UPDATE SET
			category = EXCLUDED.category,
			min_quantity = EXCLUDED.min_quantity,
			max_quantity = EXCLUDED.max_quantity,
			multiplier = EXCLUDED.multiplier,
			prerequisites = EXCLUDED.prerequisites,
			effective_to = EXCLUDED.effective_to,
			active = EXCLUDED.active
	`, a.AddonSkuID, a.BaseSkuID, a.Category, a.MinQuantity, a.MaxQuantity, a.Multiplier, a.Prerequisites, a.EffectiveFrom, a.EffectiveTo, a.Active)
	if err != nil {
		return fmt.Errorf("upsert addon compatibility: %w", err)
	}
	return nil
}

func (r *SkuRegistryRepository) ListAddonCompatibility(ctx context.Context) ([]models.AddonCompatibility, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT addon_sku_id, base_sku_id, category, min_quantity, max_quantity, multiplier, prerequisites, effective_from, effective_to, active
		FROM addon_compatibility
	`)
	if err != nil {
		return nil, fmt.Errorf("list addon compatibility: %w", err)
	}
	defer rows.Close()

	entries := make([]models.AddonCompatibility, 0)
	for rows.Next() {
		var a models.AddonCompatibility
		if err := rows.Scan(&a.AddonSkuID, &a.BaseSkuID, &a.Category, &a.MinQuantity, &a.MaxQuantity, &a.Multiplier, &a.Prerequisites, &a.EffectiveFrom, &a.EffectiveTo, &a.Active); err != nil {
			return nil, err
		}
		entries = append(entries, a)
	}
	return entries, nil
}
