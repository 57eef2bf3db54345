// Package commerce implements commerce sync: pulling the sellable
// product catalog and price list from the partner/commerce API, plus
// ingesting partner-supplied bulk price CSVs. Unlike Directory Sync
// (internal/directorysync), commerce credentials are shared across every
// tenant rather than vaulted per tenant, so this package has no per-tenant
// identifier in its call signatures at all.
package commerce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/savegress/optimizer/backend/internal/httpclient"
	"github.com/savegress/optimizer/backend/internal/models"
	"github.com/savegress/optimizer/backend/internal/syncguard"
)

// priceCacheTTL is the longest a cached commerce price snapshot may live.
// This package never writes that cache itself; it only deletes the entry
// at priceCacheKey after every successful price write.
const priceCacheTTL = 24 * time.Hour

const priceCacheKey = "commerce:prices:snapshot"

type commerceStore interface {
	UpsertProduct(ctx context.Context, tx pgx.Tx, p *models.CommerceProduct) error
	UpsertPrice(ctx context.Context, tx pgx.Tx, p *models.CommercePrice) error
	BulkUpsertPrices(ctx context.Context, tx pgx.Tx, prices []models.CommercePrice) error
}

type fingerprintGuard interface {
	Run(ctx context.Context, fingerprint string, fn func(context.Context) error) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

type priceCache interface {
	Del(ctx context.Context, keys ...string) error
}

// csvStagingFetcher is the subset of CSVStaging that ImportPriceCSVFromStaging
// needs, narrowed so tests can substitute a fake without talking to S3.
type csvStagingFetcher interface {
	FetchPriceCSVFromS3(ctx context.Context, key string) (io.ReadCloser, error)
}

// Service implements sync_products, sync_prices and import_price_csv.
type Service struct {
	partner  PartnerAPI
	store    commerceStore
	db       txRunner
	guard    fingerprintGuard
	cache    priceCache
	billing  *BillingReference // optional; nil disables Stripe corroboration
	country  string            // default market queried by SyncPrices
	staging  csvStagingFetcher // optional; nil rejects staged-CSV imports
}

func New(partner PartnerAPI, store commerceStore, db txRunner, guard fingerprintGuard, cache priceCache, billing *BillingReference, defaultCountry string) *Service {
	if defaultCountry == "" {
		defaultCountry = "US"
	}
	return &Service{partner: partner, store: store, db: db, guard: guard, cache: cache, billing: billing, country: defaultCountry}
}

// SetCSVStaging attaches the S3-backed fallback CSV source import_price_csv
// falls back to when a partner stages its file instead of uploading it
// inline. Left unset, ImportPriceCSVFromStaging rejects every
// call - callers that never configure a staging bucket keep working with
// only the inline multipart upload route.
func (s *Service) SetCSVStaging(staging csvStagingFetcher) {
	s.staging = staging
}

// ImportPriceCSVFromStaging fetches the bulk price CSV staged at key and
// ingests it exactly as ImportPriceCSV would - the staged-file counterpart
// to the inline multipart upload route.
func (s *Service) ImportPriceCSVFromStaging(ctx context.Context, key string) (ImportStats, error) {
	if s.staging == nil {
		return ImportStats{}, fmt.Errorf("commerce: csv staging not configured")
	}

	body, err := s.staging.FetchPriceCSVFromS3(ctx, key)
	if err != nil {
		return ImportStats{}, err
	}
	defer body.Close()

	rows, err := httpclient.ParseCSV(body)
	if err != nil {
		return ImportStats{}, fmt.Errorf("commerce: parse staged csv %s: %w", key, err)
	}

	return s.ImportPriceCSV(ctx, rows)
}

// ProductSyncStats reports the outcome of sync_products.
type ProductSyncStats struct {
	Fetched  int
	Upserted int
}

// SyncProducts implements sync_products(): fetch the paginated product
// catalog and upsert every row, keyed on the (product_id, sku_id) pair the
// commerce API returns. DirectorySkuID is left blank here - wiring a
// commerce SKU to its directory-SKU counterpart is the SKU registry's
// admin-mutated mapping, not this sync's job.
func (s *Service) SyncProducts(ctx context.Context) (ProductSyncStats, error) {
	var stats ProductSyncStats
	err := s.guard.Run(ctx, syncguard.Fingerprint("commerce", "sync_products"), func(ctx context.Context) error {
		products, err := s.partner.ListProducts(ctx)
		if err != nil {
			return fmt.Errorf("sync products: fetch: %w", err)
		}
		stats.Fetched = len(products)

		now := time.Now().UTC()
		return s.db.WithTx(ctx, func(tx pgx.Tx) error {
			for _, cp := range products {
				p := &models.CommerceProduct{
					ID:            uuid.New(),
					ProductID:     cp.ProductID,
					CommerceSkuID: cp.SkuID,
					ProductName:   cp.ProductName,
					Segment:       s.normalizeSegment(cp.Segment),
					CreatedAt:     now,
					UpdatedAt:     now,
				}
				if err := s.store.UpsertProduct(ctx, tx, p); err != nil {
					return fmt.Errorf("sync products: upsert %s: %w", cp.SkuID, err)
				}
				stats.Upserted++
			}
			return nil
		})
	})
	if err != nil {
		return ProductSyncStats{}, err
	}
	return stats, nil
}

// PriceSyncStats reports the outcome of sync_prices.
type PriceSyncStats struct {
	Fetched      int
	Upserted     int
	DuplicatesIn int
}

// SyncPrices implements sync_prices(): fetch the paginated price
// list for the configured default market and bulk-upsert it, since a
// commerce sync routinely moves thousands of rows. Invalidates the price
// cache on success.
func (s *Service) SyncPrices(ctx context.Context) (PriceSyncStats, error) {
	var stats PriceSyncStats
	err := s.guard.Run(ctx, syncguard.Fingerprint("commerce", "sync_prices"), func(ctx context.Context) error {
		entries, err := s.partner.ListPrices(ctx, s.country)
		if err != nil {
			return fmt.Errorf("sync prices: fetch: %w", err)
		}
		stats.Fetched = len(entries)

		now := time.Now().UTC()
		prices := make([]models.CommercePrice, 0, len(entries))
		for _, e := range entries {
			p, ok := s.buildPrice(e, now)
			if !ok {
				continue
			}
			prices = append(prices, p)
		}
		stats.DuplicatesIn = len(prices) - len(dedupeByNaturalKey(prices))

		return s.db.WithTx(ctx, func(tx pgx.Tx) error {
			if err := s.store.BulkUpsertPrices(ctx, tx, prices); err != nil {
				return fmt.Errorf("sync prices: bulk upsert: %w", err)
			}
			stats.Upserted = len(dedupeByNaturalKey(prices))
			return nil
		})
	})
	if err != nil {
		return PriceSyncStats{}, err
	}
	s.invalidateCache(ctx)
	return stats, nil
}

func (s *Service) buildPrice(e commercePriceEntry, now time.Time) (models.CommercePrice, bool) {
	cents, err := dollarsToCents(e.UnitPrice)
	if err != nil {
		return models.CommercePrice{}, false
	}
	effectiveFrom, err := parseDate(e.EffectiveStart)
	if err != nil {
		return models.CommercePrice{}, false
	}
	var effectiveTo *time.Time
	if e.EffectiveEnd != "" {
		t, err := parseDate(e.EffectiveEnd)
		if err != nil {
			return models.CommercePrice{}, false
		}
		effectiveTo = &t
	}

	return models.CommercePrice{
		ID:             uuid.New(),
		ProductID:      e.ProductID,
		CommerceSkuID:  e.SkuID,
		Market:         e.Market,
		Segment:        s.normalizeSegment(e.Segment),
		BillingCycle:   s.normalizeBillingCycle(e.BillingPlan),
		Currency:       e.Currency,
		UnitPriceCents: cents,
		EffectiveFrom:  effectiveFrom,
		EffectiveTo:    effectiveTo,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, true
}

// ImportStats reports the outcome of import_price_csv.
type ImportStats struct {
	TotalRows        int
	ProductsInserted int
	PricesInserted   int
	RowsSkipped      int // duplicate natural key within the file
	RowsRejected     int // malformed and uncorrectable
}

// ImportPriceCSV implements import_price_csv(reader): ingests the
// partner's bulk CSV, normalizing Segment/BillingPlan enum
// columns to their sentinel defaults rather than letting an unrecognized
// raw string ever reach the store, and rejecting rows it cannot parse at
// all (bad price, bad date) rather than guessing.
func (s *Service) ImportPriceCSV(ctx context.Context, rows [][]string) (ImportStats, error) {
	var stats ImportStats
	records := csvToMaps(rows)
	stats.TotalRows = len(records)

	now := time.Now().UTC()
	products := make(map[string]models.CommerceProduct)
	prices := make([]models.CommercePrice, 0, len(records))
	seenPriceKeys := make(map[string]bool)

	for _, row := range records {
		skuID := strings.TrimSpace(row["SkuId"])
		productID := strings.TrimSpace(row["ProductId"])
		if skuID == "" || productID == "" {
			stats.RowsRejected++
			continue
		}

		cents, err := dollarsToCents(parseFloatField(row["UnitPrice"]))
		if err != nil {
			stats.RowsRejected++
			continue
		}
		effectiveFrom, err := parseDate(row["EffectiveStartDate"])
		if err != nil {
			stats.RowsRejected++
			continue
		}
		var effectiveTo *time.Time
		if v := strings.TrimSpace(row["EffectiveEndDate"]); v != "" {
			t, err := parseDate(v)
			if err != nil {
				stats.RowsRejected++
				continue
			}
			effectiveTo = &t
		}

		segment := s.normalizeSegment(row["Segment"])
		billingCycle := s.normalizeBillingCycle(row["BillingPlan"])
		market := strings.TrimSpace(row["Market"])
		currency := strings.TrimSpace(row["Currency"])

		price := models.CommercePrice{
			ID:             uuid.New(),
			ProductID:      productID,
			CommerceSkuID:  skuID,
			Market:         market,
			Segment:        segment,
			BillingCycle:   billingCycle,
			Currency:       currency,
			UnitPriceCents: cents,
			EffectiveFrom:  effectiveFrom,
			EffectiveTo:    effectiveTo,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		key := priceNaturalKey(&price)
		if seenPriceKeys[key] {
			stats.RowsSkipped++
		}
		seenPriceKeys[key] = true
		prices = append(prices, price)

		productKey := productID + "|" + skuID
		if _, ok := products[productKey]; !ok {
			products[productKey] = models.CommerceProduct{
				ID:            uuid.New(),
				ProductID:     productID,
				CommerceSkuID: skuID,
				ProductName:   row["SkuTitle"],
				Segment:       segment,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
		}
	}

	deduped := dedupeByNaturalKey(prices)
	stats.PricesInserted = len(deduped)
	stats.ProductsInserted = len(products)

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		for key := range products {
			p := products[key]
			if err := s.store.UpsertProduct(ctx, tx, &p); err != nil {
				return fmt.Errorf("import price csv: upsert product %s: %w", p.CommerceSkuID, err)
			}
		}
		if err := s.store.BulkUpsertPrices(ctx, tx, deduped); err != nil {
			return fmt.Errorf("import price csv: bulk upsert prices: %w", err)
		}
		return nil
	})
	if err != nil {
		return ImportStats{}, err
	}

	s.invalidateCache(ctx)
	return stats, nil
}

func (s *Service) invalidateCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, priceCacheKey)
}

// normalizeSegment maps a raw segment string to one of the recognized
// enum values, falling back to the Commercial sentinel - an optional
// BillingReference may widen what counts as recognized.
func (s *Service) normalizeSegment(raw string) string {
	v := strings.TrimSpace(raw)
	switch strings.ToLower(v) {
	case strings.ToLower(models.SegmentCommercial):
		return models.SegmentCommercial
	case strings.ToLower(models.SegmentEducation):
		return models.SegmentEducation
	case strings.ToLower(models.SegmentCharity):
		return models.SegmentCharity
	}
	if s.billing != nil && s.billing.KnownSegment(v) {
		return v
	}
	return models.SegmentCommercial
}

// normalizeBillingCycle maps a raw billing-plan string to one of the
// recognized cycle values, falling back to the Annual sentinel.
func (s *Service) normalizeBillingCycle(raw string) string {
	v := strings.TrimSpace(raw)
	switch strings.ToLower(v) {
	case strings.ToLower(models.BillingCycleMonthly):
		return models.BillingCycleMonthly
	case strings.ToLower(models.BillingCycleAnnual):
		return models.BillingCycleAnnual
	}
	if s.billing != nil && s.billing.KnownBillingCycle(v) {
		return v
	}
	return models.BillingCycleAnnual
}

func priceNaturalKey(p *models.CommercePrice) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s", p.ProductID, p.CommerceSkuID, p.Market, p.Currency, p.Segment, p.BillingCycle, p.EffectiveFrom.Format(time.RFC3339))
}

// dedupeByNaturalKey collapses rows sharing a natural key to the last one
// seen, so rows with the same key collapse to the latest
// value - the service-layer mirror of
// repository.dedupePrices, needed here too so ImportStats can report an
// accurate RowsSkipped count before the rows ever reach the repository.
func dedupeByNaturalKey(prices []models.CommercePrice) []models.CommercePrice {
	order := make([]string, 0, len(prices))
	byKey := make(map[string]models.CommercePrice, len(prices))
	for _, p := range prices {
		key := priceNaturalKey(&p)
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

func dollarsToCents(dollars float64) (int64, error) {
	if dollars < 0 {
		return 0, errors.New("commerce: negative unit price")
	}
	return int64(dollars*100 + 0.5), nil
}

func parseFloatField(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return -1 // forces dollarsToCents to reject via the negative guard
	}
	return f
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("commerce: unparseable date %q", s)
}

// csvToMaps mirrors httpclient.CSVToMaps; duplicated here rather than
// imported so this package's CSV shape (partner bulk price rows) stays
// decoupled from the usage-report CSV shape httpclient's helper serves.
func csvToMaps(rows [][]string) []map[string]string {
	if len(rows) == 0 {
		return nil
	}
	header := rows[0]
	out := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		m := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				m[col] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}
