package commerce

import (
	"context"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/price"
	"github.com/stripe/stripe-go/v76/product"

	"github.com/savegress/optimizer/backend/internal/models"
)

// BillingReference loads the set of recognized Segment and BillingCycle
// values that commerce sync and import_price_csv validate enum columns
// against. Stripe plays reference-data loader here
// rather than payment processor: live subscription mutation from this
// engine's recommendations is out of scope.
//
// Without a configured API key it simply serves the built-in defaults -
// Stripe corroboration is an enrichment, not a hard dependency for
// import_price_csv to function standalone.
type BillingReference struct {
	apiKey          string
	segments        map[string]bool
	billingCycles   map[string]bool
}

// NewBillingReference builds a reference loader. apiKey may be empty, in
// which case Refresh is a no-op and only the built-in enum defaults apply.
func NewBillingReference(apiKey string) *BillingReference {
	if apiKey != "" {
		stripe.Key = apiKey
	}
	return &BillingReference{
		apiKey: apiKey,
		segments: map[string]bool{
			strings.ToLower(models.SegmentCommercial): true,
			strings.ToLower(models.SegmentEducation):  true,
			strings.ToLower(models.SegmentCharity):    true,
		},
		billingCycles: map[string]bool{
			strings.ToLower(models.BillingCycleMonthly): true,
			strings.ToLower(models.BillingCycleAnnual):  true,
		},
	}
}

// Refresh pulls Stripe's product catalog metadata to corroborate the
// segment/billing-plan vocabulary this system already knows about - it
// only ever grows the accepted set, never narrows it, since the engine's
// own enum defaults are authoritative and Stripe is a secondary source.
func (b *BillingReference) Refresh(ctx context.Context) error {
	if b.apiKey == "" {
		return nil
	}

	productParams := &stripe.ProductListParams{Active: stripe.Bool(true)}
	productParams.Context = ctx
	productIter := product.List(productParams)
	for productIter.Next() {
		p := productIter.Product()
		if seg, ok := p.Metadata["segment"]; ok && seg != "" {
			b.segments[strings.ToLower(seg)] = true
		}
	}

	priceParams := &stripe.PriceListParams{Active: stripe.Bool(true)}
	priceParams.Context = ctx
	priceIter := price.List(priceParams)
	for priceIter.Next() {
		pr := priceIter.Price()
		if pr.Recurring == nil {
			continue
		}
		switch pr.Recurring.Interval {
		case stripe.PriceRecurringIntervalMonth:
			b.billingCycles[strings.ToLower(models.BillingCycleMonthly)] = true
		case stripe.PriceRecurringIntervalYear:
			b.billingCycles[strings.ToLower(models.BillingCycleAnnual)] = true
		}
	}

	return nil
}

// KnownSegment reports whether segment (case-insensitive) is recognized.
func (b *BillingReference) KnownSegment(segment string) bool {
	return b.segments[strings.ToLower(segment)]
}

// KnownBillingCycle reports whether cycle (case-insensitive) is recognized.
func (b *BillingReference) KnownBillingCycle(cycle string) bool {
	return b.billingCycles[strings.ToLower(cycle)]
}
