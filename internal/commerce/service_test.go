package commerce

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savegress/optimizer/backend/internal/models"
)

type fakePartner struct {
	products []commerceProduct
	prices   []commercePriceEntry
}

func (f *fakePartner) ListProducts(ctx context.Context) ([]commerceProduct, error) {
	return f.products, nil
}

func (f *fakePartner) ListPrices(ctx context.Context, country string) ([]commercePriceEntry, error) {
	return f.prices, nil
}

type fakeCommerceStore struct {
	products     []models.CommerceProduct
	bulkUpserted [][]models.CommercePrice
}

func (f *fakeCommerceStore) UpsertProduct(ctx context.Context, tx pgx.Tx, p *models.CommerceProduct) error {
	f.products = append(f.products, *p)
	return nil
}

func (f *fakeCommerceStore) UpsertPrice(ctx context.Context, tx pgx.Tx, p *models.CommercePrice) error {
	return nil
}

func (f *fakeCommerceStore) BulkUpsertPrices(ctx context.Context, tx pgx.Tx, prices []models.CommercePrice) error {
	f.bulkUpserted = append(f.bulkUpserted, prices)
	return nil
}

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

type fakeGuard struct{}

func (fakeGuard) Run(ctx context.Context, fingerprint string, fn func(context.Context) error) error {
	return fn(ctx)
}

func TestSyncProductsNormalizesUnknownSegmentToSentinel(t *testing.T) {
	partner := &fakePartner{products: []commerceProduct{
		{ProductID: "p1", SkuID: "SKU1", ProductName: "Biz Standard", Segment: "weird-value"},
	}}
	store := &fakeCommerceStore{}
	svc := New(partner, store, fakeTxRunner{}, fakeGuard{}, nil, nil, "US")

	stats, err := svc.SyncProducts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Fetched)
	assert.Equal(t, 1, stats.Upserted)
	require.Len(t, store.products, 1)
	assert.Equal(t, models.SegmentCommercial, store.products[0].Segment)
	assert.Equal(t, "p1", store.products[0].ProductID)
}

func TestImportPriceCSVNormalizesAndDedupes(t *testing.T) {
	rows := [][]string{
		{"ProductId", "SkuId", "ProductTitle", "SkuTitle", "Publisher", "Market", "Currency", "UnitPrice", "Segment", "BillingPlan", "TierMinQuantity", "TierMaxQuantity", "EffectiveStartDate", "EffectiveEndDate"},
		{"p1", "SKU1", "Biz Standard", "Biz Standard", "Microsoft", "US", "USD", "12.50", "Commercial", "monthly", "1", "300", "2026-01-01", ""},
		{"p1", "SKU1", "Biz Standard", "Biz Standard", "Microsoft", "US", "USD", "13.00", "Commercial", "monthly", "1", "300", "2026-01-01", ""},
		{"p2", "SKU2", "Biz Premium", "Biz Premium", "Microsoft", "US", "USD", "22.00", "bogus-segment", "bogus-plan", "1", "300", "2026-01-01", ""},
		{"p3", "SKU3", "Broken Row", "Broken Row", "Microsoft", "US", "USD", "not-a-number", "Commercial", "monthly", "1", "300", "2026-01-01", ""},
	}
	store := &fakeCommerceStore{}
	svc := New(&fakePartner{}, store, fakeTxRunner{}, fakeGuard{}, nil, nil, "US")

	stats, err := svc.ImportPriceCSV(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalRows)
	assert.Equal(t, 1, stats.RowsSkipped)  // SKU1 duplicate row
	assert.Equal(t, 1, stats.RowsRejected) // SKU3 unparseable price
	assert.Equal(t, 2, stats.ProductsInserted)
	assert.Equal(t, 2, stats.PricesInserted)

	require.Len(t, store.bulkUpserted, 1)
	bySku := make(map[string]models.CommercePrice)
	for _, p := range store.bulkUpserted[0] {
		bySku[p.CommerceSkuID] = p
	}
	assert.Equal(t, int64(1300), bySku["SKU1"].UnitPriceCents) // latest row in the file wins
	assert.Equal(t, "p1", bySku["SKU1"].ProductID)
	assert.Equal(t, models.SegmentCommercial, bySku["SKU2"].Segment)
	assert.Equal(t, models.BillingCycleAnnual, bySku["SKU2"].BillingCycle)
}

func TestImportPriceCSVRejectsMissingSkuID(t *testing.T) {
	rows := [][]string{
		{"ProductId", "SkuId", "UnitPrice", "EffectiveStartDate"},
		{"p1", "", "10.00", "2026-01-01"},
	}
	store := &fakeCommerceStore{}
	svc := New(&fakePartner{}, store, fakeTxRunner{}, fakeGuard{}, nil, nil, "US")

	stats, err := svc.ImportPriceCSV(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RowsRejected)
	assert.Equal(t, 0, stats.PricesInserted)
}

type fakeStaging struct {
	key  string
	body string
	err  error
}

func (f *fakeStaging) FetchPriceCSVFromS3(ctx context.Context, key string) (io.ReadCloser, error) {
	f.key = key
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func TestImportPriceCSVFromStagingFetchesAndImports(t *testing.T) {
	csv := "ProductId,SkuId,UnitPrice,EffectiveStartDate\np1,SKU1,12.50,2026-01-01\n"
	staging := &fakeStaging{body: csv}
	store := &fakeCommerceStore{}
	svc := New(&fakePartner{}, store, fakeTxRunner{}, fakeGuard{}, nil, nil, "US")
	svc.SetCSVStaging(staging)

	stats, err := svc.ImportPriceCSVFromStaging(context.Background(), "staged/prices.csv")
	require.NoError(t, err)
	assert.Equal(t, "staged/prices.csv", staging.key)
	assert.Equal(t, 1, stats.PricesInserted)
	require.Len(t, store.bulkUpserted, 1)
	assert.Equal(t, "p1", store.bulkUpserted[0][0].ProductID)
}

func TestImportPriceCSVFromStagingWithoutConfigurationErrors(t *testing.T) {
	svc := New(&fakePartner{}, &fakeCommerceStore{}, fakeTxRunner{}, fakeGuard{}, nil, nil, "US")

	_, err := svc.ImportPriceCSVFromStaging(context.Background(), "staged/prices.csv")
	assert.Error(t, err)
}

func TestImportPriceCSVRejectsMissingProductID(t *testing.T) {
	rows := [][]string{
		{"ProductId", "SkuId", "UnitPrice", "EffectiveStartDate"},
		{"", "SKU1", "10.00", "2026-01-01"},
	}
	store := &fakeCommerceStore{}
	svc := New(&fakePartner{}, store, fakeTxRunner{}, fakeGuard{}, nil, nil, "US")

	stats, err := svc.ImportPriceCSV(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RowsRejected)
	assert.Equal(t, 0, stats.PricesInserted)
}
