// Package recommend implements the Recommendation Engine: per user, derive
// required services, decide remove/downgrade/upgrade/no_change, and price
// the result against the commerce catalog with a configured fallback.
package recommend

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/savegress/optimizer/backend/internal/models"
	"github.com/savegress/optimizer/backend/internal/scoring"
)

// ErrNoCurrentSku is returned by RecommendForUser when the user holds no
// non-addon license the registry recognizes: the engine never suggests
// licensing the unlicensed, so such users are skipped by the
// caller rather than producing a recommendation.
var ErrNoCurrentSku = errors.New("recommend: user has no recognized current sku")

// PriceSource resolves the active unit price for a commerce SKU, matching
// the Data Store Adapter's CommerceRepository.FindPrice signature.
type PriceSource interface {
	FindPrice(ctx context.Context, commerceSkuID, market, currency, segment, billingCycle string, asOf time.Time) (*models.CommercePrice, error)
}

// SkuLookup is the subset of the SKU Compatibility Registry the engine
// needs: resolving a directory SKU's service matrix entry and listing
// every non-addon candidate for the cheapest-covering search.
type SkuLookup interface {
	ByDirectorySku(directorySkuID string) (models.SkuServiceMatrix, error)
	NonAddonSkus() []models.SkuServiceMatrix
}

// PriceSnapshot is the resolved unit price, in minor currency units, for
// every non-addon SKU as of one analysis run. Building it once per
// analysis (rather than per user) is what keeps every user in a run priced
// against the same snapshot without a repeatable-read transaction.
type PriceSnapshot struct {
	Market       string
	Currency     string
	AsOf         time.Time
	byDirectory  map[string]int64
	usedFallback map[string]bool
}

// BuildPriceSnapshot resolves a price for every non-addon SKU in the
// registry, falling back to defaultUnitPriceCents (and logging once per
// SKU) when no commerce price row matches.
func BuildPriceSnapshot(ctx context.Context, prices PriceSource, skus SkuLookup, market, currency string, asOf time.Time, defaultUnitPriceCents int64) (*PriceSnapshot, error) {
	snap := &PriceSnapshot{
		Market:       market,
		Currency:     currency,
		AsOf:         asOf,
		byDirectory:  make(map[string]int64),
		usedFallback: make(map[string]bool),
	}
	for _, sku := range skus.NonAddonSkus() {
		cents, usedFallback, err := resolvePrice(ctx, prices, sku.CommerceSkuID, market, currency, asOf, defaultUnitPriceCents)
		if err != nil {
			return nil, err
		}
		snap.byDirectory[sku.DirectorySkuID] = cents
		if usedFallback {
			snap.usedFallback[sku.DirectorySkuID] = true
			log.Printf("recommend: no commerce price for sku %s market=%s currency=%s, using default unit price", sku.DirectorySkuID, market, currency)
		}
	}
	return snap, nil
}

func resolvePrice(ctx context.Context, prices PriceSource, commerceSkuID, market, currency string, asOf time.Time, defaultUnitPriceCents int64) (int64, bool, error) {
	if commerceSkuID == "" {
		return defaultUnitPriceCents, true, nil
	}
	price, err := prices.FindPrice(ctx, commerceSkuID, market, currency, models.SegmentCommercial, models.BillingCycleMonthly, asOf)
	if err != nil {
		return defaultUnitPriceCents, true, nil
	}
	return price.UnitPriceCents, false, nil
}

// PriceOf returns the resolved unit price for a directory SKU, or the
// engine's default if the SKU was never in the snapshot (e.g. an assigned
// SKU absent from the matrix).
func (s *PriceSnapshot) PriceOf(directorySkuID string, defaultUnitPriceCents int64) int64 {
	if cents, ok := s.byDirectory[directorySkuID]; ok {
		return cents
	}
	return defaultUnitPriceCents
}

// UsedFallback reports whether directorySkuID's price came from the
// default rather than a commerce price row.
func (s *PriceSnapshot) UsedFallback(directorySkuID string) bool {
	return s.usedFallback[directorySkuID]
}

// UserInput bundles the per-user data the engine needs: the user record,
// their current license assignments, and their most recent usage row (nil
// if never synced).
type UserInput struct {
	User        models.User
	Assignments []models.LicenseAssignment
	Usage       *models.UsageMetrics
}

// Proposal is the engine's verdict for one user, ready to become a
// Recommendation row once the caller assigns AnalysisID/CreatedAt/ID.
type Proposal struct {
	UserID                uuid.UUID
	Action                string
	ReasonCode            string
	CurrentSkuID          string
	RecommendedSkuID      string
	CurrentMonthlyCents   int64
	RecommendedMonthly    int64
	EstimatedSavingsCents int64
}

// Engine is the stateless Recommendation Engine. DefaultUnitPriceCents is
// the pricing fallback (Open Question 1).
type Engine struct {
	Skus                  SkuLookup
	DefaultUnitPriceCents int64
}

func New(skus SkuLookup, defaultUnitPriceCents int64) *Engine {
	return &Engine{Skus: skus, DefaultUnitPriceCents: defaultUnitPriceCents}
}

// RecommendForUser evaluates one user against an
// already-built PriceSnapshot. Returns ErrNoCurrentSku when the user has
// no non-addon assigned SKU the registry recognizes.
func (e *Engine) RecommendForUser(input UserInput, snapshot *PriceSnapshot) (*Proposal, error) {
	currentSku, ok := e.resolveCurrentSku(input.Assignments)
	if !ok {
		return nil, ErrNoCurrentSku
	}
	currentPrice := snapshot.PriceOf(currentSku.DirectorySkuID, e.DefaultUnitPriceCents)

	proposal := &Proposal{
		UserID:              input.User.ID,
		CurrentSkuID:        currentSku.DirectorySkuID,
		CurrentMonthlyCents: currentPrice,
	}

	scores := scoring.Score(input.Usage)
	// A missing usage row means the tenant hasn't synced reports for this
	// user, not that the user is dormant: only a disabled account or a
	// present low-activity row marks a user inactive. A no-usage enabled
	// user falls through with an empty required set and lands on the
	// cheapest SKU below.
	if !input.User.AccountEnabled || (input.Usage != nil && scoring.IsInactive(true, scores)) {
		proposal.Action = models.ActionRemove
		proposal.RecommendedSkuID = ""
		proposal.RecommendedMonthly = 0
		proposal.EstimatedSavingsCents = currentPrice
		if !input.User.AccountEnabled {
			proposal.ReasonCode = models.ReasonRemoveAccountDisabled
		} else {
			proposal.ReasonCode = models.ReasonRemoveInactive
		}
		return proposal, nil
	}

	required := scoring.RequiredServices(scores)
	candidate, found := e.cheapestCovering(required, snapshot)
	if !found {
		// No SKU in the matrix covers the required services; keep the
		// user on their current SKU rather than recommending nothing.
		proposal.Action = models.ActionNoChange
		proposal.ReasonCode = models.ReasonNoChange
		proposal.RecommendedSkuID = currentSku.DirectorySkuID
		proposal.RecommendedMonthly = currentPrice
		return proposal, nil
	}

	recommendedPrice := snapshot.PriceOf(candidate.DirectorySkuID, e.DefaultUnitPriceCents)
	proposal.RecommendedSkuID = candidate.DirectorySkuID
	proposal.RecommendedMonthly = recommendedPrice

	switch {
	case candidate.DirectorySkuID == currentSku.DirectorySkuID || recommendedPrice == currentPrice:
		proposal.Action = models.ActionNoChange
		proposal.ReasonCode = models.ReasonNoChange
		proposal.RecommendedSkuID = currentSku.DirectorySkuID
		proposal.RecommendedMonthly = currentPrice
	case recommendedPrice < currentPrice:
		proposal.Action = models.ActionDowngrade
		proposal.ReasonCode = downgradeReason(currentSku, candidate)
		proposal.EstimatedSavingsCents = currentPrice - recommendedPrice
	default: // recommendedPrice > currentPrice: upgrade, suppressed unless current lacks coverage
		if coversRequired(currentSku, required) {
			proposal.Action = models.ActionNoChange
			proposal.ReasonCode = models.ReasonNoChange
			proposal.RecommendedSkuID = currentSku.DirectorySkuID
			proposal.RecommendedMonthly = currentPrice
		} else {
			proposal.Action = models.ActionUpgrade
			proposal.ReasonCode = models.ReasonUpgradeRequiredCoverage
			proposal.EstimatedSavingsCents = currentPrice - recommendedPrice // negative: a cost increase
		}
	}

	return proposal, nil
}

// resolveCurrentSku picks the user's current SKU deterministically: the
// lowest-lexicographic non-addon assigned SKU the registry recognizes. A
// user can hold several assignments (e.g. a base SKU plus addons); only a
// base SKU counts as "current" for recommendation purposes.
func (e *Engine) resolveCurrentSku(assignments []models.LicenseAssignment) (models.SkuServiceMatrix, bool) {
	ids := make([]string, 0, len(assignments))
	for _, a := range assignments {
		ids = append(ids, a.DirectorySkuID)
	}
	sort.Strings(ids)

	for _, id := range ids {
		m, err := e.Skus.ByDirectorySku(id)
		if err == nil && !m.IsAddon {
			return m, true
		}
	}
	return models.SkuServiceMatrix{}, false
}

func (e *Engine) cheapestCovering(required []string, snapshot *PriceSnapshot) (models.SkuServiceMatrix, bool) {
	candidates := make([]models.SkuServiceMatrix, 0)
	for _, m := range e.Skus.NonAddonSkus() {
		if coversRequired(m, required) {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return models.SkuServiceMatrix{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		pi := snapshot.PriceOf(candidates[i].DirectorySkuID, e.DefaultUnitPriceCents)
		pj := snapshot.PriceOf(candidates[j].DirectorySkuID, e.DefaultUnitPriceCents)
		if pi != pj {
			return pi < pj
		}
		return candidates[i].DirectorySkuID < candidates[j].DirectorySkuID
	})
	return candidates[0], true
}

func coversRequired(m models.SkuServiceMatrix, required []string) bool {
	provided := make(map[string]bool, len(m.Services))
	for _, s := range m.Services {
		provided[s] = true
	}
	for _, req := range required {
		if !provided[req] {
			return false
		}
	}
	return true
}

// downgradeReason picks the most specific reason code for a downgrade by
// inspecting which services were dropped going from current to
// recommended. Dropping the desktop suite outranks dropping advanced
// features: an E5 user landing on E1 sheds both, and the e3-to-e1 code
// names the deeper cut.
func downgradeReason(current, recommended models.SkuServiceMatrix) string {
	if recommended.Family == models.SkuFamilyFrontline {
		return models.ReasonDowngradeToFrontline
	}

	currentServices := toSet(current.Services)
	recommendedServices := toSet(recommended.Services)

	if currentServices[models.ServiceOfficeDesktop] && !recommendedServices[models.ServiceOfficeDesktop] {
		return models.ReasonDowngradeE3ToE1
	}

	for _, svc := range []string{models.ServiceAdvancedSecurity, models.ServiceAdvancedCompliance, models.ServiceAudioConferencing, models.ServicePhoneSystem} {
		if currentServices[svc] && !recommendedServices[svc] {
			return models.ReasonDowngradeE5ToE3
		}
	}

	return models.ReasonDowngradeE3ToE1
}

func toSet(services []string) map[string]bool {
	set := make(map[string]bool, len(services))
	for _, s := range services {
		set[s] = true
	}
	return set
}

// Summary aggregates a batch of Proposals into an Analysis's summary
// columns.
type Summary struct {
	UsersAnalyzed                int
	RecommendationsCount         int
	TotalCurrentMonthlyCents     int64
	TotalOptimizedMonthlyCents   int64
	PotentialSavingsMonthlyCents int64
	PotentialSavingsAnnualCents  int64
	CountRemove                  int
	CountDowngrade               int
	CountUpgrade                 int
	CountNoChange                int
}

// Aggregate folds a batch of proposals (one per analyzed user that had a
// resolvable current SKU) into a Summary. usersAnalyzed is passed
// separately because it counts every user considered, including those
// skipped for having no current SKU. Cost totals fold over every proposal
// (a no_change user still costs their current price), but
// RecommendationsCount counts only actionable proposals, since no_change
// never becomes a persisted Recommendation row.
func Aggregate(usersAnalyzed int, proposals []*Proposal) Summary {
	s := Summary{UsersAnalyzed: usersAnalyzed}
	for _, p := range proposals {
		s.TotalCurrentMonthlyCents += p.CurrentMonthlyCents
		s.TotalOptimizedMonthlyCents += p.RecommendedMonthly
		switch p.Action {
		case models.ActionRemove:
			s.CountRemove++
		case models.ActionDowngrade:
			s.CountDowngrade++
		case models.ActionUpgrade:
			s.CountUpgrade++
		default:
			s.CountNoChange++
		}
	}
	s.RecommendationsCount = s.CountRemove + s.CountDowngrade + s.CountUpgrade
	s.PotentialSavingsMonthlyCents = s.TotalCurrentMonthlyCents - s.TotalOptimizedMonthlyCents
	s.PotentialSavingsAnnualCents = s.PotentialSavingsMonthlyCents * 12
	return s
}
