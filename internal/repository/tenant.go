package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/savegress/optimizer/backend/internal/models"
)

// ErrNotFound is returned by repository lookups that find no matching row.
var ErrNotFound = errors.New("record not found")

// execTarget is satisfied by both *pgxpool.Pool and pgx.Tx, letting every
// repository method take an optional transaction as its unit of work
// instead of opening an implicit connection per call.
type execTarget interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// TenantRepository persists Tenant and TenantCredentials rows.
type TenantRepository struct {
	db *PostgresDB
}

func NewTenantRepository(db *PostgresDB) *TenantRepository {
	return &TenantRepository{db: db}
}

// target resolves the execution target for a repository call: the given
// transaction if one is open, otherwise the pool directly. Every
// repository in this package uses this so callers can group several
// repository calls into one unit of work.
func target(db *PostgresDB, tx pgx.Tx) execTarget {
	if tx != nil {
		return tx
	}
	return db.Pool()
}

func (r *TenantRepository) Create(ctx context.Context, tx pgx.Tx, t *models.Tenant) error {
	_, err := target(r.db, tx).Exec(ctx, `
		INSERT INTO tenants (id, partner_id, directory_id, display_name, country, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.PartnerID, t.DirectoryID, t.DisplayName, t.Country, t.Status, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

func (r *TenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var t models.Tenant
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, partner_id, directory_id, display_name, country, status, created_at, updated_at
		FROM tenants WHERE id = $1
	`, id).Scan(&t.ID, &t.PartnerID, &t.DirectoryID, &t.DisplayName, &t.Country, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

func (r *TenantRepository) ListActive(ctx context.Context) ([]models.Tenant, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, partner_id, directory_id, display_name, country, status, created_at, updated_at
		FROM tenants WHERE status = $1 ORDER BY created_at
	`, models.TenantStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	tenants := make([]models.Tenant, 0)
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.PartnerID, &t.DirectoryID, &t.DisplayName, &t.Country, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, nil
}

func (r *TenantRepository) UpsertCredentials(ctx context.Context, c *models.TenantCredentials) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO tenant_credentials (tenant_id, client_id, client_secret_ciphertext, token_authority, is_valid, last_validated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id) DO UPDATE SET
			client_id = EXCLUDED.client_id,
			client_secret_ciphertext = EXCLUDED.client_secret_ciphertext,
			token_authority = EXCLUDED.token_authority,
			is_valid = EXCLUDED.is_valid,
			last_validated_at = EXCLUDED.last_validated_at,
			updated_at = EXCLUDED.updated_at
	`, c.TenantID, c.ClientID, c.ClientSecretCiphertext, c.TokenAuthority, c.IsValid, c.LastValidatedAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert tenant credentials: %w", err)
	}
	return nil
}

func (r *TenantRepository) GetCredentials(ctx context.Context, tenantID uuid.UUID) (*models.TenantCredentials, error) {
	var c models.TenantCredentials
	err := r.db.Pool().QueryRow(ctx, `
		SELECT tenant_id, client_id, client_secret_ciphertext, token_authority, is_valid, last_validated_at, created_at, updated_at
		FROM tenant_credentials WHERE tenant_id = $1
	`, tenantID).Scan(&c.TenantID, &c.ClientID, &c.ClientSecretCiphertext, &c.TokenAuthority, &c.IsValid, &c.LastValidatedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get tenant credentials: %w", err)
	}
	return &c, nil
}

// MarkCredentialsInvalid flips is_valid to false, used when the tenant's
// token authority rejects the client credentials with 401/403 during
// directory token acquisition.
func (r *TenantRepository) MarkCredentialsInvalid(ctx context.Context, tenantID uuid.UUID) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE tenant_credentials SET is_valid = false, updated_at = now() WHERE tenant_id = $1
	`, tenantID)
	return err
}
