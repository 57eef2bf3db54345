package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/savegress/optimizer/backend/internal/models"
)

// CommerceRepository persists the commerce catalog (products and prices)
// synced from Partner Center or imported from a bulk CSV.
type CommerceRepository struct {
	db *PostgresDB
}

func NewCommerceRepository(db *PostgresDB) *CommerceRepository {
	return &CommerceRepository{db: db}
}

func (r *CommerceRepository) UpsertProduct(ctx context.Context, tx pgx.Tx, p *models.CommerceProduct) error {
	_, err := target(r.db, tx).Exec(ctx, `
		INSERT INTO commerce_products (id, product_id, commerce_sku_id, directory_sku_id, product_name, segment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (product_id, commerce_sku_id) DO UPDATE SET
			directory_sku_id = EXCLUDED.directory_sku_id,
			product_name = EXCLUDED.product_name,
			segment = EXCLUDED.segment,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.ProductID, p.CommerceSkuID, p.DirectorySkuID, p.ProductName, p.Segment, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert commerce product: %w", err)
	}
	return nil
}

func (r *CommerceRepository) UpsertPrice(ctx context.Context, tx pgx.Tx, p *models.CommercePrice) error {
	_, err := target(r.db, tx).Exec(ctx, `
		INSERT INTO commerce_prices (id, product_id, commerce_sku_id, market, segment, billing_cycle, currency, unit_price_cents, effective_from, effective_to, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (product_id, commerce_sku_id, market, currency, segment, billing_cycle, effective_from) DO UPDATE SET
			unit_price_cents = EXCLUDED.unit_price_cents,
			effective_to = EXCLUDED.effective_to,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.ProductID, p.CommerceSkuID, p.Market, p.Segment, p.BillingCycle, p.Currency, p.UnitPriceCents, p.EffectiveFrom, p.EffectiveTo, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert commerce price: %w", err)
	}
	return nil
}

// BulkUpsertPrices applies UpsertPrice for every row inside a single
// statement batch, deduplicating by natural key so the last row for a
// given key wins, so a thousand-row commerce sync or CSV import can never
// conflict with itself inside one batch.
func (r *CommerceRepository) BulkUpsertPrices(ctx context.Context, tx pgx.Tx, prices []models.CommercePrice) error {
	deduped := dedupePrices(prices)
	batch := &pgx.Batch{}
	for i := range deduped {
		p := &deduped[i]
		batch.Queue(`
			INSERT INTO commerce_prices (id, product_id, commerce_sku_id, market, segment, billing_cycle, currency, unit_price_cents, effective_from, effective_to, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (product_id, commerce_sku_id, market, currency, segment, billing_cycle, effective_from) DO UPDATE SET
				unit_price_cents = EXCLUDED.unit_price_cents,
				effective_to = EXCLUDED.effective_to,
				updated_at = EXCLUDED.updated_at
		`, p.ID, p.ProductID, p.CommerceSkuID, p.Market, p.Segment, p.BillingCycle, p.Currency, p.UnitPriceCents, p.EffectiveFrom, p.EffectiveTo, p.CreatedAt, p.UpdatedAt)
	}

	br := target(r.db, tx).(interface {
		SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	}).SendBatch(ctx, batch)
	defer br.Close()

	for range deduped {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("bulk upsert commerce price: %w", err)
		}
	}
	return nil
}

func priceKey(p *models.CommercePrice) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s", p.ProductID, p.CommerceSkuID, p.Market, p.Currency, p.Segment, p.BillingCycle, p.EffectiveFrom.Format(time.RFC3339))
}

// dedupePrices collapses rows sharing a natural key to the last one,
// matching "rows with the same key collapse to the latest value".
func dedupePrices(prices []models.CommercePrice) []models.CommercePrice {
	order := make([]string, 0, len(prices))
	byKey := make(map[string]models.CommercePrice, len(prices))
	for _, p := range prices {
		key := priceKey(&p)
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = p
	}
	out := make([]models.CommercePrice, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

func (r *CommerceRepository) ListProducts(ctx context.Context) ([]models.CommerceProduct, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, product_id, commerce_sku_id, directory_sku_id, product_name, segment, created_at, updated_at
		FROM commerce_products
	`)
	if err != nil {
		return nil, fmt.Errorf("list commerce products: %w", err)
	}
	defer rows.Close()

	products := make([]models.CommerceProduct, 0)
	for rows.Next() {
		var p models.CommerceProduct
		if err := rows.Scan(&p.ID, &p.ProductID, &p.CommerceSkuID, &p.DirectorySkuID, &p.ProductName, &p.Segment, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}

var priceColumns = `id, product_id, commerce_sku_id, market, segment, billing_cycle, currency, unit_price_cents, effective_from, effective_to, created_at, updated_at`

func scanPrice(row pgx.Row, p *models.CommercePrice) error {
	return row.Scan(&p.ID, &p.ProductID, &p.CommerceSkuID, &p.Market, &p.Segment, &p.BillingCycle, &p.Currency, &p.UnitPriceCents, &p.EffectiveFrom, &p.EffectiveTo, &p.CreatedAt, &p.UpdatedAt)
}

func (r *CommerceRepository) ListPrices(ctx context.Context) ([]models.CommercePrice, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT `+priceColumns+` FROM commerce_prices`)
	if err != nil {
		return nil, fmt.Errorf("list commerce prices: %w", err)
	}
	defer rows.Close()

	prices := make([]models.CommercePrice, 0)
	for rows.Next() {
		var p models.CommercePrice
		if err := scanPrice(rows, &p); err != nil {
			return nil, err
		}
		prices = append(prices, p)
	}
	return prices, nil
}

// FindPrice returns the active price row for a SKU/market/currency/segment
// combination as of asOf, the engine's pricing lookup.
func (r *CommerceRepository) FindPrice(ctx context.Context, commerceSkuID, market, currency, segment, billingCycle string, asOf time.Time) (*models.CommercePrice, error) {
	var p models.CommercePrice
	err := scanPrice(r.db.Pool().QueryRow(ctx, `
		SELECT `+priceColumns+` FROM commerce_prices
		WHERE commerce_sku_id = $1 AND market = $2 AND currency = $3 AND segment = $4 AND billing_cycle = $5
			AND effective_from <= $6 AND (effective_to IS NULL OR effective_to >= $6)
		ORDER BY effective_from DESC LIMIT 1
	`, commerceSkuID, market, currency, segment, billingCycle, asOf), &p)
	if err != nil {
		return nil, ErrNotFound
	}
	return &p, nil
}
