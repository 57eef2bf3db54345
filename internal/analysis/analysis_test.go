package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savegress/optimizer/backend/internal/models"
	"github.com/savegress/optimizer/backend/internal/recommend"
	"github.com/savegress/optimizer/backend/internal/repository"
	"github.com/savegress/optimizer/backend/internal/skuregistry"
)

type fakeTenants struct {
	byID map[uuid.UUID]*models.Tenant
}

func (f *fakeTenants) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	t, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t, nil
}

type fakeUsers struct {
	byTenant map[uuid.UUID][]models.User
}

func (f *fakeUsers) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.User, error) {
	return f.byTenant[tenantID], nil
}

type fakeLicenses struct {
	byTenant map[uuid.UUID][]models.LicenseAssignment
}

func (f *fakeLicenses) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.LicenseAssignment, error) {
	return f.byTenant[tenantID], nil
}

type fakeUsage struct {
	byTenant map[uuid.UUID]map[uuid.UUID]models.UsageMetrics
}

func (f *fakeUsage) ListLatestByTenant(ctx context.Context, tenantID uuid.UUID, period string) (map[uuid.UUID]models.UsageMetrics, error) {
	return f.byTenant[tenantID], nil
}

type fakePrices struct {
	bySku map[string]int64
}

func (f *fakePrices) FindPrice(ctx context.Context, commerceSkuID, market, currency, segment, billingCycle string, asOf time.Time) (*models.CommercePrice, error) {
	cents, ok := f.bySku[commerceSkuID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &models.CommercePrice{CommerceSkuID: commerceSkuID, UnitPriceCents: cents}, nil
}

type fakeSkus struct {
	matrix map[string]models.SkuServiceMatrix
}

func (f *fakeSkus) ByDirectorySku(id string) (models.SkuServiceMatrix, error) {
	m, ok := f.matrix[id]
	if !ok {
		return models.SkuServiceMatrix{}, repository.ErrNotFound
	}
	return m, nil
}

func (f *fakeSkus) NonAddonSkus() []models.SkuServiceMatrix {
	out := make([]models.SkuServiceMatrix, 0, len(f.matrix))
	for _, m := range f.matrix {
		if !m.IsAddon {
			out = append(out, m)
		}
	}
	return out
}

type fakeAnalyses struct {
	created         []models.Analysis
	completed       []models.Analysis
	failed          []string
	recommendations map[uuid.UUID]models.Recommendation
}

func newFakeAnalyses() *fakeAnalyses {
	return &fakeAnalyses{recommendations: make(map[uuid.UUID]models.Recommendation)}
}

func (f *fakeAnalyses) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func (f *fakeAnalyses) Create(ctx context.Context, tx pgx.Tx, a *models.Analysis) error {
	f.created = append(f.created, *a)
	return nil
}

func (f *fakeAnalyses) Complete(ctx context.Context, tx pgx.Tx, a *models.Analysis) error {
	f.completed = append(f.completed, *a)
	return nil
}

func (f *fakeAnalyses) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	f.failed = append(f.failed, reason)
	return nil
}

func (f *fakeAnalyses) CreateRecommendations(ctx context.Context, tx pgx.Tx, recs []models.Recommendation) error {
	for _, r := range recs {
		f.recommendations[r.ID] = r
	}
	return nil
}

func (f *fakeAnalyses) GetByID(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	for _, a := range f.completed {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAnalyses) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Analysis, error) {
	out := make([]models.Analysis, 0)
	for _, a := range f.completed {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAnalyses) ListRecommendations(ctx context.Context, analysisID uuid.UUID) ([]models.Recommendation, error) {
	out := make([]models.Recommendation, 0)
	for _, r := range f.recommendations {
		if r.AnalysisID == analysisID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAnalyses) GetRecommendation(ctx context.Context, id uuid.UUID) (*models.Recommendation, error) {
	r, ok := f.recommendations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (f *fakeAnalyses) UpdateRecommendationStatus(ctx context.Context, id uuid.UUID, fromStatus, toStatus string) (bool, error) {
	r, ok := f.recommendations[id]
	if !ok || r.Status != fromStatus {
		return false, nil
	}
	r.Status = toStatus
	f.recommendations[id] = r
	return true, nil
}

type fakeMarket struct{}

func (fakeMarket) Resolve(country string) skuregistry.MarketInfo {
	return skuregistry.MarketInfo{Market: "US", Currency: "USD"}
}

func testSkuMatrix() map[string]models.SkuServiceMatrix {
	return map[string]models.SkuServiceMatrix{
		"SPE_E1": {DirectorySkuID: "SPE_E1", CommerceSkuID: "CM_E1", Family: models.SkuFamilyEnterprise,
			Services: []string{models.ServiceExchange, models.ServiceOneDrive, models.ServiceSharePoint, models.ServiceTeams}},
		"SPE_E3": {DirectorySkuID: "SPE_E3", CommerceSkuID: "CM_E3", Family: models.SkuFamilyEnterprise,
			Services: []string{models.ServiceExchange, models.ServiceOneDrive, models.ServiceSharePoint, models.ServiceTeams, models.ServiceOfficeDesktop}},
	}
}

func newOrchestrator(tenants map[uuid.UUID]*models.Tenant, users map[uuid.UUID][]models.User, licenses map[uuid.UUID][]models.LicenseAssignment, usage map[uuid.UUID]map[uuid.UUID]models.UsageMetrics, prices map[string]int64) (*Orchestrator, *fakeAnalyses) {
	skus := &fakeSkus{matrix: testSkuMatrix()}
	engine := recommend.New(skus, 1000)
	analyses := newFakeAnalyses()
	o := New(
		&fakeTenants{byID: tenants},
		&fakeUsers{byTenant: users},
		&fakeLicenses{byTenant: licenses},
		&fakeUsage{byTenant: usage},
		analyses,
		engine,
		&fakePrices{bySku: prices},
		fakeMarket{},
		1000,
	)
	return o, analyses
}

func TestRunAnalysisTwoUserTenant(t *testing.T) {
	tenantID := uuid.New()
	u1, u2 := uuid.New(), uuid.New()
	tenants := map[uuid.UUID]*models.Tenant{tenantID: {ID: tenantID, Status: models.TenantStatusActive, Country: "US"}}
	users := map[uuid.UUID][]models.User{tenantID: {
		{ID: u1, TenantID: tenantID, PrincipalName: "alice@example.com", AccountEnabled: true},
		{ID: u2, TenantID: tenantID, PrincipalName: "bob@example.com", AccountEnabled: false},
	}}
	licenses := map[uuid.UUID][]models.LicenseAssignment{tenantID: {
		{UserID: u1, DirectorySkuID: "SPE_E3"},
		{UserID: u2, DirectorySkuID: "SPE_E3"},
	}}
	usage := map[uuid.UUID]map[uuid.UUID]models.UsageMetrics{tenantID: {
		u1: {EmailsSent28d: 20, EmailsReceived28d: 20}, // active, no office_desktop use -> downgrade to E1
		// u2 has no usage row and a disabled account -> remove
	}}
	prices := map[string]int64{"CM_E1": 600, "CM_E3": 2000}

	o, analyses := newOrchestrator(tenants, users, licenses, usage, prices)

	result, err := o.RunAnalysis(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusCompleted, result.Status)
	assert.Equal(t, 2, result.UsersAnalyzed)
	assert.Equal(t, 2, result.RecommendationsCount)
	assert.Equal(t, 1, result.CountDowngrade)
	assert.Equal(t, 1, result.CountRemove)
	assert.Len(t, analyses.completed, 1)
	assert.Len(t, analyses.recommendations, 2)
}

func TestRunAnalysisZeroUsersReturnsNoData(t *testing.T) {
	tenantID := uuid.New()
	tenants := map[uuid.UUID]*models.Tenant{tenantID: {ID: tenantID, Status: models.TenantStatusActive, Country: "US"}}

	o, analyses := newOrchestrator(tenants, nil, nil, nil, map[string]int64{"CM_E1": 600, "CM_E3": 2000})
	_, err := o.RunAnalysis(context.Background(), tenantID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoUsers)
	assert.Len(t, analyses.failed, 1)
}

func TestRunAnalysisRejectsInactiveTenant(t *testing.T) {
	tenantID := uuid.New()
	tenants := map[uuid.UUID]*models.Tenant{tenantID: {ID: tenantID, Status: models.TenantStatusSuspended, Country: "US"}}

	o, _ := newOrchestrator(tenants, nil, nil, nil, nil)
	_, err := o.RunAnalysis(context.Background(), tenantID)
	assert.ErrorIs(t, err, ErrTenantNotActive)
}

func TestRunAnalysisSkipsUsersWithNoCurrentSku(t *testing.T) {
	tenantID := uuid.New()
	u1 := uuid.New()
	tenants := map[uuid.UUID]*models.Tenant{tenantID: {ID: tenantID, Status: models.TenantStatusActive, Country: "US"}}
	users := map[uuid.UUID][]models.User{tenantID: {{ID: u1, TenantID: tenantID, PrincipalName: "carol@example.com", AccountEnabled: true}}}

	o, _ := newOrchestrator(tenants, users, nil, nil, map[string]int64{"CM_E1": 600})
	result, err := o.RunAnalysis(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.UsersAnalyzed)
	assert.Equal(t, 0, result.RecommendationsCount)
}

func TestRunAnalysisExcludesNoChangeRecommendations(t *testing.T) {
	tenantID := uuid.New()
	u1 := uuid.New()
	tenants := map[uuid.UUID]*models.Tenant{tenantID: {ID: tenantID, Status: models.TenantStatusActive, Country: "US"}}
	users := map[uuid.UUID][]models.User{tenantID: {
		{ID: u1, TenantID: tenantID, PrincipalName: "dana@example.com", AccountEnabled: true},
	}}
	licenses := map[uuid.UUID][]models.LicenseAssignment{tenantID: {
		{UserID: u1, DirectorySkuID: "SPE_E1"},
	}}
	// required services are exactly exchange/onedrive/sharepoint/teams,
	// which SPE_E1 already covers at the lowest price -> no_change.
	usage := map[uuid.UUID]map[uuid.UUID]models.UsageMetrics{tenantID: {
		u1: {EmailsSent28d: 20, EmailsReceived28d: 20, OneDriveFilesModified28d: 10, SharePointEdits28d: 10, TeamsMessages28d: 20},
	}}
	prices := map[string]int64{"CM_E1": 600, "CM_E3": 2000}

	o, analyses := newOrchestrator(tenants, users, licenses, usage, prices)

	result, err := o.RunAnalysis(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.UsersAnalyzed)
	assert.Equal(t, 1, result.CountNoChange)
	// The engine never persists a no-op Recommendation, and the count
	// reflects only emitted rows - a fully-optimized tenant reports zero.
	assert.Equal(t, 0, result.RecommendationsCount)
	assert.Empty(t, analyses.recommendations)
	for _, r := range analyses.recommendations {
		assert.NotEqual(t, r.CurrentSkuID, r.RecommendedSkuID)
	}
}

func TestRunAnalysisNoUsageEnabledUserGetsDowngradeNotRemove(t *testing.T) {
	tenantID := uuid.New()
	u1 := uuid.New()
	tenants := map[uuid.UUID]*models.Tenant{tenantID: {ID: tenantID, Status: models.TenantStatusActive, Country: "US"}}
	users := map[uuid.UUID][]models.User{tenantID: {
		{ID: u1, TenantID: tenantID, PrincipalName: "erin@example.com", AccountEnabled: true},
	}}
	licenses := map[uuid.UUID][]models.LicenseAssignment{tenantID: {
		{UserID: u1, DirectorySkuID: "SPE_E3"},
	}}
	prices := map[string]int64{"CM_E1": 600, "CM_E3": 2000}

	// No usage rows synced at all: an enabled user must not be flagged
	// inactive, so the empty required set resolves to the cheapest SKU.
	o, analyses := newOrchestrator(tenants, users, licenses, nil, prices)

	result, err := o.RunAnalysis(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.CountDowngrade)
	assert.Equal(t, 0, result.CountRemove)
	require.Len(t, analyses.recommendations, 1)
	for _, r := range analyses.recommendations {
		assert.Equal(t, "SPE_E1", r.RecommendedSkuID)
		assert.Equal(t, int64(1400), r.EstimatedSavingsCents)
	}
}

func TestApplyAcceptThenRejectOnlyFirstWins(t *testing.T) {
	analyses := newFakeAnalyses()
	recID := uuid.New()
	analyses.recommendations[recID] = models.Recommendation{ID: recID, Status: models.RecommendationStatusPending}

	o := &Orchestrator{Analyses: analyses}

	_, err1 := o.Apply(context.Background(), recID, ActionAccept)
	_, err2 := o.Apply(context.Background(), recID, ActionReject)

	require.NoError(t, err1)
	assert.ErrorIs(t, err2, ErrInvalidTransition)

	rec, err := analyses.GetRecommendation(context.Background(), recID)
	require.NoError(t, err)
	assert.Equal(t, models.RecommendationStatusAccepted, rec.Status)
}

func TestApplyUnknownActionRejected(t *testing.T) {
	analyses := newFakeAnalyses()
	recID := uuid.New()
	analyses.recommendations[recID] = models.Recommendation{ID: recID, Status: models.RecommendationStatusPending}
	o := &Orchestrator{Analyses: analyses}

	_, err := o.Apply(context.Background(), recID, "frobnicate")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestApplyNotFoundRecommendation(t *testing.T) {
	analyses := newFakeAnalyses()
	o := &Orchestrator{Analyses: analyses}

	_, err := o.Apply(context.Background(), uuid.New(), ActionAccept)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
