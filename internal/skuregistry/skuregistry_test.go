package skuregistry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savegress/optimizer/backend/internal/models"
)

type fakeStore struct {
	matrix []models.SkuServiceMatrix
	addons []models.AddonCompatibility
}

func (f *fakeStore) ListServiceMatrix(ctx context.Context) ([]models.SkuServiceMatrix, error) {
	return f.matrix, nil
}

func (f *fakeStore) ListAddonCompatibility(ctx context.Context) ([]models.AddonCompatibility, error) {
	return f.addons, nil
}

func testMatrix() []models.SkuServiceMatrix {
	return []models.SkuServiceMatrix{
		{DirectorySkuID: "SPE_E1", CommerceSkuID: "CFQ7TTC0LH18", Family: models.SkuFamilyEnterprise, Rank: 1,
			Services: []string{models.ServiceExchange, models.ServiceOneDrive, models.ServiceSharePoint, models.ServiceTeams}},
		{DirectorySkuID: "SPE_E3", CommerceSkuID: "CFQ7TTC0LH17", Family: models.SkuFamilyEnterprise, Rank: 2,
			Services: []string{models.ServiceExchange, models.ServiceOneDrive, models.ServiceSharePoint, models.ServiceTeams, models.ServiceOfficeDesktop}},
		{DirectorySkuID: "SPE_E5", CommerceSkuID: "CFQ7TTC0LH16", Family: models.SkuFamilyEnterprise, Rank: 3,
			Services: []string{models.ServiceExchange, models.ServiceOneDrive, models.ServiceSharePoint, models.ServiceTeams, models.ServiceOfficeDesktop, models.ServiceAdvancedSecurity, models.ServiceAdvancedCompliance}},
		{DirectorySkuID: "ADDON_AUDIO", CommerceSkuID: "CFQ7TTC0LH99", IsAddon: true, Services: []string{models.ServiceAudioConferencing}},
	}
}

func TestRegistryLoadAndBidirectionalLookup(t *testing.T) {
	r := New(&fakeStore{matrix: testMatrix()})
	require.NoError(t, r.Load(context.Background()))

	byDir, err := r.ByDirectorySku("SPE_E3")
	require.NoError(t, err)
	assert.Equal(t, "CFQ7TTC0LH17", byDir.CommerceSkuID)

	byCommerce, err := r.ByCommerceSku("CFQ7TTC0LH17")
	require.NoError(t, err)
	assert.Equal(t, "SPE_E3", byCommerce.DirectorySkuID)

	_, err = r.ByDirectorySku("NOPE")
	assert.ErrorIs(t, err, ErrUnknownSku)
}

func TestNonAddonSkusExcludesAddons(t *testing.T) {
	r := New(&fakeStore{matrix: testMatrix()})
	require.NoError(t, r.Load(context.Background()))

	skus := r.NonAddonSkus()
	for _, s := range skus {
		assert.False(t, s.IsAddon)
	}
	assert.Len(t, skus, 3)
}

func TestCheapestCoveringPicksCheapestThenLexicographic(t *testing.T) {
	r := New(&fakeStore{matrix: testMatrix()})
	require.NoError(t, r.Load(context.Background()))

	required := []string{models.ServiceExchange, models.ServiceOneDrive}
	priced := map[string]int64{"SPE_E1": 600, "SPE_E3": 2000, "SPE_E5": 3800}
	got, ok := r.CheapestCovering(required, priced)
	require.True(t, ok)
	assert.Equal(t, "SPE_E1", got.DirectorySkuID)

	tie := map[string]int64{"SPE_E1": 1000, "SPE_E3": 1000}
	got, ok = r.CheapestCovering(required, tie)
	require.True(t, ok)
	assert.Equal(t, "SPE_E1", got.DirectorySkuID) // lexicographic tiebreak
}

func TestCheapestCoveringNoCandidateCoversRequired(t *testing.T) {
	r := New(&fakeStore{matrix: testMatrix()})
	require.NoError(t, r.Load(context.Background()))

	required := []string{models.ServicePhoneSystem}
	priced := map[string]int64{"SPE_E1": 600, "SPE_E3": 2000, "SPE_E5": 3800}
	_, ok := r.CheapestCovering(required, priced)
	assert.False(t, ok)
}

func TestReloadSwapsSnapshotAtomically(t *testing.T) {
	store := &fakeStore{matrix: testMatrix()}
	r := New(store)
	require.NoError(t, r.Load(context.Background()))

	store.matrix = append(store.matrix, models.SkuServiceMatrix{DirectorySkuID: "SPE_F1", Family: models.SkuFamilyFrontline, Services: []string{models.ServiceExchange}})
	_, err := r.ByDirectorySku("SPE_F1")
	assert.ErrorIs(t, err, ErrUnknownSku) // old snapshot still active

	require.NoError(t, r.Reload(context.Background()))
	_, err = r.ByDirectorySku("SPE_F1")
	assert.NoError(t, err)
}

func addonRules() []models.AddonCompatibility {
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	return []models.AddonCompatibility{
		{AddonSkuID: "ADDON_AUDIO", BaseSkuID: "SPE_E3", Category: "telephony", MinQuantity: 1, MaxQuantity: 100, Multiplier: 1,
			EffectiveFrom: past, Active: true},
		{AddonSkuID: "ADDON_PHONE", BaseSkuID: "SPE_E3", Category: "telephony", MinQuantity: 1, MaxQuantity: 100, Multiplier: 1,
			Prerequisites: []string{"ADDON_AUDIO"}, EffectiveFrom: past, Active: true},
	}
}

func TestValidateAddonHappyPath(t *testing.T) {
	r := New(&fakeStore{matrix: testMatrix(), addons: addonRules()})
	require.NoError(t, r.Load(context.Background()))

	report := r.ValidateAddon("SPE_E3", "ADDON_AUDIO", 5, time.Now(), nil)
	assert.True(t, report.Valid)
	assert.True(t, report.Compatible)
	assert.True(t, report.QuantityValid)
	assert.True(t, report.WithinWindow)
	assert.True(t, report.PrerequisitesMet)
	assert.True(t, report.NoConflict)
}

func TestValidateAddonMissingPrerequisite(t *testing.T) {
	r := New(&fakeStore{matrix: testMatrix(), addons: addonRules()})
	require.NoError(t, r.Load(context.Background()))

	report := r.ValidateAddon("SPE_E3", "ADDON_PHONE", 1, time.Now(), nil)
	assert.False(t, report.Valid)
	assert.False(t, report.PrerequisitesMet)
	assert.NotEmpty(t, report.Reasons)
}

func TestValidateAddonPrerequisiteSatisfied(t *testing.T) {
	r := New(&fakeStore{matrix: testMatrix(), addons: addonRules()})
	require.NoError(t, r.Load(context.Background()))

	report := r.ValidateAddon("SPE_E3", "ADDON_PHONE", 1, time.Now(), []string{"ADDON_AUDIO"})
	assert.True(t, report.PrerequisitesMet)
}

func TestValidateAddonQuantityOutOfBoundsAndMultiplier(t *testing.T) {
	rules := []models.AddonCompatibility{
		{AddonSkuID: "ADDON_AUDIO", BaseSkuID: "SPE_E3", Category: "telephony", MinQuantity: 5, MaxQuantity: 10, Multiplier: 5,
			EffectiveFrom: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Active: true},
	}
	r := New(&fakeStore{matrix: testMatrix(), addons: rules})
	require.NoError(t, r.Load(context.Background()))

	bad := r.ValidateAddon("SPE_E3", "ADDON_AUDIO", 7, time.Now(), nil)
	assert.False(t, bad.QuantityValid)

	good := r.ValidateAddon("SPE_E3", "ADDON_AUDIO", 10, time.Now(), nil)
	assert.True(t, good.QuantityValid)
}

func TestValidateAddonOutsideEffectiveWindow(t *testing.T) {
	expired := time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC)
	rules := []models.AddonCompatibility{
		{AddonSkuID: "ADDON_AUDIO", BaseSkuID: "SPE_E3", Category: "telephony", MinQuantity: 1, MaxQuantity: 10, Multiplier: 1,
			EffectiveFrom: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), EffectiveTo: &expired, Active: true},
	}
	r := New(&fakeStore{matrix: testMatrix(), addons: rules})
	require.NoError(t, r.Load(context.Background()))

	report := r.ValidateAddon("SPE_E3", "ADDON_AUDIO", 1, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), nil)
	assert.False(t, report.WithinWindow)
	assert.False(t, report.Valid)
}

func TestValidateAddonConflictDetection(t *testing.T) {
	rules := []models.AddonCompatibility{
		{AddonSkuID: "ADDON_AUDIO", BaseSkuID: "SPE_E3", Category: "telephony", MinQuantity: 1, MaxQuantity: 10, Multiplier: 1,
			EffectiveFrom: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Active: true},
		{AddonSkuID: "ADDON_PHONE", BaseSkuID: "SPE_E3", Category: "telephony", MinQuantity: 1, MaxQuantity: 10, Multiplier: 1,
			EffectiveFrom: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Active: true},
	}
	r := New(&fakeStore{matrix: testMatrix(), addons: rules})
	require.NoError(t, r.Load(context.Background()))

	report := r.ValidateAddon("SPE_E3", "ADDON_PHONE", 1, time.Now(), []string{"ADDON_AUDIO"})
	assert.False(t, report.NoConflict)
	assert.False(t, report.Valid)
}

func TestValidateAddonUnknownPairIsIncompatible(t *testing.T) {
	r := New(&fakeStore{matrix: testMatrix(), addons: addonRules()})
	require.NoError(t, r.Load(context.Background()))

	report := r.ValidateAddon("SPE_E1", "ADDON_AUDIO", 1, time.Now(), nil)
	assert.False(t, report.Compatible)
	assert.False(t, report.Valid)
}

func TestValidateAddonsBulkDoesNotShortCircuit(t *testing.T) {
	r := New(&fakeStore{matrix: testMatrix(), addons: addonRules()})
	require.NoError(t, r.Load(context.Background()))

	reqs := []AddonValidationRequest{
		{BaseSkuID: "SPE_E1", AddonSkuID: "ADDON_AUDIO", Quantity: 1},        // incompatible pair
		{BaseSkuID: "SPE_E3", AddonSkuID: "ADDON_AUDIO", Quantity: 5},        // valid
		{BaseSkuID: "SPE_E3", AddonSkuID: "ADDON_PHONE", Quantity: 1},        // missing prereq
	}
	reports := r.ValidateAddons(reqs, time.Now())
	require.Len(t, reports, 3)
	assert.False(t, reports[0].Valid)
	assert.True(t, reports[1].Valid)
	assert.False(t, reports[2].Valid)
}

func TestMarketResolverFallsBackToDefault(t *testing.T) {
	resolver := NewMarketResolver()
	info := resolver.Resolve("US")
	assert.Equal(t, "USD", info.Currency)

	unmapped := resolver.Resolve("ZZ")
	assert.Equal(t, defaultMarket, unmapped)
}

func TestMarketResolverLoadOverridesNoopOnEmptyPath(t *testing.T) {
	resolver := NewMarketResolver()
	require.NoError(t, resolver.LoadOverrides(""))
}
