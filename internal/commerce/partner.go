package commerce

import (
	"context"
	"fmt"

	"github.com/savegress/optimizer/backend/internal/httpclient"
)

// commercePageResult mirrors the commerce/partner API's pagination shape,
// a plain "nextLink" field rather than Graph's "@odata.nextLink"
// - close enough to directorysync's pageResult that we could have reused
// httpclient.GetAllPages, but the field name differs so this package keeps
// its own thin walker instead of teaching the shared helper two dialects.
type commercePageResult[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"nextLink"`
}

func getAllPages[T any](ctx context.Context, c *httpclient.Client, url string) ([]T, error) {
	var all []T
	for url != "" {
		var page commercePageResult[T]
		if err := c.Get(ctx, tenantSentinel, url, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Value...)
		url = page.NextLink
	}
	return all, nil
}

// commerceProduct is the partner catalog's product shape, the subset this
// system persists.
type commerceProduct struct {
	ProductID   string `json:"productId"`
	SkuID       string `json:"skuId"`
	ProductName string `json:"title"`
	Segment     string `json:"segment"`
}

// commercePriceEntry is the partner pricing endpoint's row shape.
type commercePriceEntry struct {
	ProductID      string `json:"productId"`
	SkuID          string `json:"skuId"`
	Market         string `json:"market"`
	Currency       string `json:"currency"`
	Segment        string `json:"segment"`
	BillingPlan    string `json:"billingPlan"`
	UnitPrice      float64 `json:"unitPrice"`
	EffectiveStart string `json:"effectiveStartDate"`
	EffectiveEnd   string `json:"effectiveEndDate"`
}

// PartnerAPI is the commerce-API surface sync operations need, narrowed so
// tests can substitute a fake without standing up an HTTP server - the
// commerce-domain counterpart to directorysync.GraphAPI.
type PartnerAPI interface {
	ListProducts(ctx context.Context) ([]commerceProduct, error)
	ListPrices(ctx context.Context, country string) ([]commercePriceEntry, error)
}

// PartnerClient is the production PartnerAPI, built on the HTTP Client
// Core exactly as directorysync.GraphClient is.
type PartnerClient struct {
	http    *httpclient.Client
	baseURL string
}

func NewPartnerClient(client *httpclient.Client, baseURL string) *PartnerClient {
	return &PartnerClient{http: client, baseURL: baseURL}
}

func (p *PartnerClient) ListProducts(ctx context.Context) ([]commerceProduct, error) {
	url := fmt.Sprintf("%s/products", p.baseURL)
	return getAllPages[commerceProduct](ctx, p.http, url)
}

func (p *PartnerClient) ListPrices(ctx context.Context, country string) ([]commercePriceEntry, error) {
	url := fmt.Sprintf("%s/pricing?country=%s", p.baseURL, country)
	return getAllPages[commercePriceEntry](ctx, p.http, url)
}
