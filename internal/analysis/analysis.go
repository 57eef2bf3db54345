// Package analysis implements the Analysis Orchestrator and the
// Recommendation State Machine: running the Recommendation Engine over a
// tenant's current directory snapshot and persisting the result, then
// gating the pending -> accepted|rejected transitions those
// recommendations can undergo afterwards.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/savegress/optimizer/backend/internal/models"
	"github.com/savegress/optimizer/backend/internal/recommend"
	"github.com/savegress/optimizer/backend/internal/skuregistry"
)

const UsagePeriodDefault = "D28"

var (
	// ErrTenantNotActive gates run_analysis on tenants that have not
	// completed onboarding or have been suspended/offboarded.
	ErrTenantNotActive = errors.New("analysis: tenant is not active")
	// ErrInvalidTransition is returned by Apply when a recommendation is
	// not in the pending state.
	ErrInvalidTransition = errors.New("analysis: recommendation is not pending")
	// ErrUnknownAction is returned by Apply for any action other than
	// accept/reject.
	ErrUnknownAction = errors.New("analysis: unknown action")
	// ErrNoUsers is returned by RunAnalysis when the tenant has no
	// directory users to analyze at all.
	ErrNoUsers = errors.New("analysis: tenant has no users")
)

const (
	ActionAccept = "accept"
	ActionReject = "reject"
)

type tenantStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

type userStore interface {
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.User, error)
}

type licenseStore interface {
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.LicenseAssignment, error)
}

type usageStore interface {
	ListLatestByTenant(ctx context.Context, tenantID uuid.UUID, period string) (map[uuid.UUID]models.UsageMetrics, error)
}

type analysisStore interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	Create(ctx context.Context, tx pgx.Tx, a *models.Analysis) error
	Complete(ctx context.Context, tx pgx.Tx, a *models.Analysis) error
	Fail(ctx context.Context, id uuid.UUID, reason string) error
	CreateRecommendations(ctx context.Context, tx pgx.Tx, recs []models.Recommendation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Analysis, error)
	ListRecommendations(ctx context.Context, analysisID uuid.UUID) ([]models.Recommendation, error)
	GetRecommendation(ctx context.Context, id uuid.UUID) (*models.Recommendation, error)
	UpdateRecommendationStatus(ctx context.Context, id uuid.UUID, fromStatus, toStatus string) (bool, error)
}

type marketResolver interface {
	Resolve(country string) skuregistry.MarketInfo
}

// Orchestrator wires the recommendation engine to the repositories to
// implement run_analysis and apply_recommendation.
type Orchestrator struct {
	Tenants     tenantStore
	Users       userStore
	Licenses    licenseStore
	Usage       usageStore
	Analyses    analysisStore
	Engine      *recommend.Engine
	Prices      recommend.PriceSource
	Market      marketResolver
	DefaultUnit int64
}

func New(tenants tenantStore, users userStore, licenses licenseStore, usage usageStore, analyses analysisStore, engine *recommend.Engine, prices recommend.PriceSource, market marketResolver, defaultUnitPriceCents int64) *Orchestrator {
	return &Orchestrator{
		Tenants:     tenants,
		Users:       users,
		Licenses:    licenses,
		Usage:       usage,
		Analyses:    analyses,
		Engine:      engine,
		Prices:      prices,
		Market:      market,
		DefaultUnit: defaultUnitPriceCents,
	}
}

// RunAnalysis implements run_analysis: load a consistent
// snapshot of the tenant's users/assignments/usage, run the
// Recommendation Engine over every user sequentially, and persist the
// completed Analysis plus all Recommendations in one transaction. Any
// failure marks the Analysis failed with a reason and returns a wrapped
// error; it never leaves a completed Analysis with a partial
// recommendation set.
func (o *Orchestrator) RunAnalysis(ctx context.Context, tenantID uuid.UUID) (*models.Analysis, error) {
	tenant, err := o.Tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("run analysis: %w", err)
	}
	if tenant.Status != models.TenantStatusActive {
		return nil, ErrTenantNotActive
	}

	market := o.Market.Resolve(tenant.Country)

	analysis := &models.Analysis{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Status:    models.AnalysisStatusRunning,
		Currency:  market.Currency,
		StartedAt: now(),
		CreatedAt: now(),
	}
	if err := o.Analyses.Create(ctx, nil, analysis); err != nil {
		return nil, fmt.Errorf("run analysis: %w", err)
	}

	recs, summary, err := o.evaluate(ctx, tenant, analysis, market)
	if err != nil {
		_ = o.Analyses.Fail(ctx, analysis.ID, err.Error())
		return nil, fmt.Errorf("run analysis: %w", err)
	}

	completed := now()
	analysis.Status = models.AnalysisStatusCompleted
	analysis.CompletedAt = &completed
	analysis.UsersAnalyzed = summary.UsersAnalyzed
	analysis.RecommendationsCount = summary.RecommendationsCount
	analysis.TotalCurrentMonthlyCents = summary.TotalCurrentMonthlyCents
	analysis.TotalOptimizedMonthlyCents = summary.TotalOptimizedMonthlyCents
	analysis.PotentialSavingsMonthlyCents = summary.PotentialSavingsMonthlyCents
	analysis.PotentialSavingsAnnualCents = summary.PotentialSavingsAnnualCents
	analysis.CountRemove = summary.CountRemove
	analysis.CountDowngrade = summary.CountDowngrade
	analysis.CountUpgrade = summary.CountUpgrade
	analysis.CountNoChange = summary.CountNoChange

	err = o.Analyses.WithTx(ctx, func(tx pgx.Tx) error {
		if err := o.Analyses.Complete(ctx, tx, analysis); err != nil {
			return err
		}
		return o.Analyses.CreateRecommendations(ctx, tx, recs)
	})
	if err != nil {
		_ = o.Analyses.Fail(ctx, analysis.ID, err.Error())
		return nil, fmt.Errorf("run analysis: persist: %w", err)
	}

	return analysis, nil
}

func (o *Orchestrator) evaluate(ctx context.Context, tenant *models.Tenant, analysis *models.Analysis, market skuregistry.MarketInfo) ([]models.Recommendation, recommend.Summary, error) {
	users, err := o.Users.ListByTenant(ctx, tenant.ID)
	if err != nil {
		return nil, recommend.Summary{}, fmt.Errorf("load users: %w", err)
	}
	if len(users) == 0 {
		return nil, recommend.Summary{}, ErrNoUsers
	}

	assignments, err := o.Licenses.ListByTenant(ctx, tenant.ID)
	if err != nil {
		return nil, recommend.Summary{}, fmt.Errorf("load license assignments: %w", err)
	}
	assignmentsByUser := make(map[uuid.UUID][]models.LicenseAssignment)
	for _, a := range assignments {
		assignmentsByUser[a.UserID] = append(assignmentsByUser[a.UserID], a)
	}

	usageByUser, err := o.Usage.ListLatestByTenant(ctx, tenant.ID, UsagePeriodDefault)
	if err != nil {
		return nil, recommend.Summary{}, fmt.Errorf("load usage metrics: %w", err)
	}

	snapshot, err := recommend.BuildPriceSnapshot(ctx, o.Prices, o.Engine.Skus, market.Market, market.Currency, analysis.StartedAt, o.DefaultUnit)
	if err != nil {
		return nil, recommend.Summary{}, fmt.Errorf("build price snapshot: %w", err)
	}

	proposals := make([]*recommend.Proposal, 0, len(users))
	for _, user := range users {
		usage, hasUsage := usageByUser[user.ID]
		input := recommend.UserInput{
			User:        user,
			Assignments: assignmentsByUser[user.ID],
		}
		if hasUsage {
			input.Usage = &usage
		}

		proposal, err := o.Engine.RecommendForUser(input, snapshot)
		if err != nil {
			if errors.Is(err, recommend.ErrNoCurrentSku) {
				continue
			}
			return nil, recommend.Summary{}, fmt.Errorf("recommend for user %s: %w", user.ID, err)
		}
		proposals = append(proposals, proposal)
	}

	summary := recommend.Aggregate(len(users), proposals)

	recs := make([]models.Recommendation, 0, len(proposals))
	createdAt := now()
	for _, p := range proposals {
		if p.Action == models.ActionNoChange {
			// current_sku != recommended_sku holds for every persisted
			// Recommendation. no_change proposals still feed
			// recommend.Aggregate above so cost totals and CountNoChange
			// stay correct, but they produce no row and do not count
			// toward RecommendationsCount.
			continue
		}
		recs = append(recs, models.Recommendation{
			ID:                    uuid.New(),
			AnalysisID:            analysis.ID,
			TenantID:              tenant.ID,
			UserID:                p.UserID,
			ReasonCode:            p.ReasonCode,
			CurrentSkuID:          p.CurrentSkuID,
			RecommendedSkuID:      p.RecommendedSkuID,
			EstimatedSavingsCents: p.EstimatedSavingsCents,
			Status:                models.RecommendationStatusPending,
			CreatedAt:             createdAt,
			UpdatedAt:             createdAt,
		})
	}

	return recs, summary, nil
}

// GetAnalysis returns an Analysis with its Recommendations, per
// get_analysis(id).
func (o *Orchestrator) GetAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, []models.Recommendation, error) {
	a, err := o.Analyses.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	recs, err := o.Analyses.ListRecommendations(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return a, recs, nil
}

// ListAnalyses returns every Analysis for a tenant, most recent first,
// per list_analyses(tenant, pagination). Pagination itself is left to the
// (out-of-scope) web layer; this returns the full set for a tenant's
// history, which in practice is bounded by how often operators re-run
// analyses.
func (o *Orchestrator) ListAnalyses(ctx context.Context, tenantID uuid.UUID) ([]models.Analysis, error) {
	return o.Analyses.ListByTenant(ctx, tenantID)
}

// Apply executes the recommendation state machine's only transitions:
// pending -> accepted or pending -> rejected, both terminal. The
// conditional UPDATE in UpdateRecommendationStatus makes exactly one of
// two concurrent Apply calls on the same recommendation succeed.
func (o *Orchestrator) Apply(ctx context.Context, recommendationID uuid.UUID, action string) (*models.Recommendation, error) {
	var toStatus string
	switch action {
	case ActionAccept:
		toStatus = models.RecommendationStatusAccepted
	case ActionReject:
		toStatus = models.RecommendationStatusRejected
	default:
		return nil, ErrUnknownAction
	}

	ok, err := o.Analyses.UpdateRecommendationStatus(ctx, recommendationID, models.RecommendationStatusPending, toStatus)
	if err != nil {
		return nil, fmt.Errorf("apply recommendation: %w", err)
	}
	if !ok {
		if _, getErr := o.Analyses.GetRecommendation(ctx, recommendationID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidTransition
	}

	return o.Analyses.GetRecommendation(ctx, recommendationID)
}

// now is a seam so tests could substitute a fixed clock; production calls
// always use the real time.
var now = func() time.Time { return time.Now().UTC() }
