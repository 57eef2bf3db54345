package skuregistry

import (
	"context"
	"fmt"
	"time"

	"github.com/savegress/optimizer/backend/internal/models"
)

// seedStore is the repository surface SeedDefaults writes through.
type seedStore interface {
	ListServiceMatrix(ctx context.Context) ([]models.SkuServiceMatrix, error)
	UpsertServiceMatrix(ctx context.Context, m *models.SkuServiceMatrix) error
	UpsertAddonCompatibility(ctx context.Context, a *models.AddonCompatibility) error
}

// SeedDefaults populates the service matrix and addon rules with the
// built-in catalog of known directory-SKU <-> commerce-SKU correspondences
// when the store is still empty. An already-populated store is left alone:
// the admin API owns the mapping from then on, and a reseed must never
// clobber operator edits.
func SeedDefaults(ctx context.Context, store seedStore) error {
	existing, err := store.ListServiceMatrix(ctx)
	if err != nil {
		return fmt.Errorf("skuregistry: seed check: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	for i := range defaultServiceMatrix {
		if err := store.UpsertServiceMatrix(ctx, &defaultServiceMatrix[i]); err != nil {
			return fmt.Errorf("skuregistry: seed matrix %s: %w", defaultServiceMatrix[i].DirectorySkuID, err)
		}
	}
	for i := range defaultAddonRules {
		if err := store.UpsertAddonCompatibility(ctx, &defaultAddonRules[i]); err != nil {
			return fmt.Errorf("skuregistry: seed addon rule %s/%s: %w", defaultAddonRules[i].AddonSkuID, defaultAddonRules[i].BaseSkuID, err)
		}
	}
	return nil
}

// Service-set shorthands for the seed table below.
var (
	webSuite      = []string{models.ServiceExchange, models.ServiceOneDrive, models.ServiceSharePoint, models.ServiceTeams}
	desktopSuite  = []string{models.ServiceExchange, models.ServiceOneDrive, models.ServiceSharePoint, models.ServiceTeams, models.ServiceOfficeDesktop}
	premiumSuite  = []string{models.ServiceExchange, models.ServiceOneDrive, models.ServiceSharePoint, models.ServiceTeams, models.ServiceOfficeDesktop, models.ServiceAdvancedSecurity}
	fullSuite     = []string{models.ServiceExchange, models.ServiceOneDrive, models.ServiceSharePoint, models.ServiceTeams, models.ServiceOfficeDesktop, models.ServiceAdvancedSecurity, models.ServiceAdvancedCompliance, models.ServiceAudioConferencing, models.ServicePhoneSystem}
	frontline     = []string{models.ServiceExchange, models.ServiceSharePoint, models.ServiceTeams}
	exchangeOnly  = []string{models.ServiceExchange}
	collabOnly    = []string{models.ServiceOneDrive, models.ServiceSharePoint, models.ServiceTeams}
	securityOnly  = []string{models.ServiceAdvancedSecurity}
	complianceSet = []string{models.ServiceAdvancedSecurity, models.ServiceAdvancedCompliance}
)

func base(directorySku, commerceSku, family string, rank, quotaGB int, services []string) models.SkuServiceMatrix {
	return models.SkuServiceMatrix{
		DirectorySkuID: directorySku,
		CommerceSkuID:  commerceSku,
		Family:         family,
		Rank:           rank,
		Services:       services,
		StorageQuotaGB: quotaGB,
	}
}

func addon(directorySku, commerceSku string, services []string) models.SkuServiceMatrix {
	return models.SkuServiceMatrix{
		DirectorySkuID: directorySku,
		CommerceSkuID:  commerceSku,
		Family:         models.SkuFamilyEnterprise,
		Services:       services,
		IsAddon:        true,
	}
}

// defaultServiceMatrix is the built-in catalog: directory skuPartNumber on
// the left, the Partner Center catalog SKU it sells as on the right.
var defaultServiceMatrix = []models.SkuServiceMatrix{
	// Microsoft 365 Enterprise suites
	base("SPE_E3", "CFQ7TTC0LFLX:0001", models.SkuFamilyEnterprise, 30, 1024, desktopSuite),
	base("SPE_E5", "CFQ7TTC0LFLZ:0002", models.SkuFamilyEnterprise, 50, 5120, fullSuite),
	base("SPE_E3_USGOV_DOD", "CFQ7TTC0LFLX:0004", models.SkuFamilyEnterprise, 31, 1024, desktopSuite),
	base("SPE_E3_USGOV_GCCHIGH", "CFQ7TTC0LFLX:0005", models.SkuFamilyEnterprise, 32, 1024, desktopSuite),

	// Office 365 Enterprise plans
	base("STANDARDPACK", "CFQ7TTC0LF8Q:0001", models.SkuFamilyEnterprise, 10, 1024, webSuite),
	base("ENTERPRISEPACK", "CFQ7TTC0LF8R:0001", models.SkuFamilyEnterprise, 20, 1024, desktopSuite),
	base("ENTERPRISEPACKPLUS", "CFQ7TTC0LF8R:0003", models.SkuFamilyEnterprise, 21, 1024, desktopSuite),
	base("ENTERPRISEPREMIUM", "CFQ7TTC0LF8S:0002", models.SkuFamilyEnterprise, 40, 5120, fullSuite),
	base("ENTERPRISEPREMIUM_NOPSTNCONF", "CFQ7TTC0LF8S:0003", models.SkuFamilyEnterprise, 39, 5120, complianceUnion(desktopSuite)),
	base("ENTERPRISEWITHSCAL", "CFQ7TTC0LF8T:0001", models.SkuFamilyEnterprise, 22, 1024, desktopSuite),

	// Microsoft 365 Business family
	base("O365_BUSINESS_ESSENTIALS", "CFQ7TTC0LH18:0001", models.SkuFamilyBusiness, 10, 1024, webSuite),
	base("O365_BUSINESS_PREMIUM", "CFQ7TTC0LDPB:0001", models.SkuFamilyBusiness, 20, 1024, desktopSuite),
	base("SPB", "CFQ7TTC0LCHC:0002", models.SkuFamilyBusiness, 30, 1024, premiumSuite),
	base("O365_BUSINESS", "CFQ7TTC0LH1G:0001", models.SkuFamilyBusiness, 15, 1024, []string{models.ServiceOneDrive, models.ServiceOfficeDesktop}),
	base("SMB_BUSINESS", "CFQ7TTC0LH1G:0002", models.SkuFamilyBusiness, 16, 1024, []string{models.ServiceOneDrive, models.ServiceOfficeDesktop}),
	base("SMB_BUSINESS_ESSENTIALS", "CFQ7TTC0LH18:0002", models.SkuFamilyBusiness, 11, 1024, webSuite),
	base("SMB_BUSINESS_PREMIUM", "CFQ7TTC0LDPB:0002", models.SkuFamilyBusiness, 21, 1024, desktopSuite),

	// Frontline
	base("SPE_F1", "CFQ7TTC0LH05:0001", models.SkuFamilyFrontline, 10, 2, frontline),
	base("M365_F1", "CFQ7TTC0LH05:0002", models.SkuFamilyFrontline, 11, 2, frontline),
	base("M365_F1_COMM", "CFQ7TTC0LH05:0003", models.SkuFamilyFrontline, 12, 2, frontline),
	base("DESKLESSPACK", "CFQ7TTC0LH0L:0001", models.SkuFamilyFrontline, 13, 2, frontline),

	// Education
	base("STANDARDWOFFPACK_STUDENT", "CFQ7TTC0LGZM:0001", models.SkuFamilyEducation, 10, 1024, webSuite),
	base("STANDARDWOFFPACK_FACULTY", "CFQ7TTC0LGZM:0002", models.SkuFamilyEducation, 11, 1024, webSuite),
	base("M365EDU_A3_FACULTY", "CFQ7TTC0LGZN:0001", models.SkuFamilyEducation, 30, 1024, desktopSuite),
	base("M365EDU_A3_STUDENT", "CFQ7TTC0LGZN:0002", models.SkuFamilyEducation, 31, 1024, desktopSuite),
	base("M365EDU_A5_FACULTY", "CFQ7TTC0LGZP:0001", models.SkuFamilyEducation, 50, 5120, fullSuite),
	base("M365EDU_A5_STUDENT", "CFQ7TTC0LGZP:0002", models.SkuFamilyEducation, 51, 5120, fullSuite),

	// Standalone Exchange plans
	base("EXCHANGESTANDARD", "CFQ7TTC0LH16:0001", models.SkuFamilyEnterprise, 5, 50, exchangeOnly),
	base("EXCHANGEENTERPRISE", "CFQ7TTC0LH16:0002", models.SkuFamilyEnterprise, 6, 100, exchangeOnly),
	base("EXCHANGEARCHIVE_ADDON", "CFQ7TTC0LH16:0003", models.SkuFamilyEnterprise, 7, 0, exchangeOnly),
	base("EXCHANGEDESKLESS", "CFQ7TTC0LH16:0004", models.SkuFamilyFrontline, 5, 2, exchangeOnly),

	// Standalone collaboration plans
	base("SHAREPOINTSTANDARD", "CFQ7TTC0LH14:0001", models.SkuFamilyEnterprise, 5, 1024, []string{models.ServiceSharePoint, models.ServiceOneDrive}),
	base("SHAREPOINTENTERPRISE", "CFQ7TTC0LH14:0002", models.SkuFamilyEnterprise, 6, 1024, []string{models.ServiceSharePoint, models.ServiceOneDrive}),
	base("WACONEDRIVESTANDARD", "CFQ7TTC0LH1M:0001", models.SkuFamilyEnterprise, 4, 1024, []string{models.ServiceOneDrive}),
	base("WACONEDRIVEENTERPRISE", "CFQ7TTC0LH1M:0002", models.SkuFamilyEnterprise, 5, 1024, []string{models.ServiceOneDrive}),
	base("TEAMS_ESSENTIALS", "CFQ7TTC0JN4R:0001", models.SkuFamilyBusiness, 5, 10, []string{models.ServiceTeams}),
	base("TEAMS_EXPLORATORY", "CFQ7TTC0JN4R:0002", models.SkuFamilyEnterprise, 4, 10, collabOnly),
	base("MCOSTANDARD", "CFQ7TTC0LH1N:0001", models.SkuFamilyEnterprise, 4, 0, []string{models.ServiceTeams}),

	// Security / compliance standalone
	base("EMS", "CFQ7TTC0LHXH:0001", models.SkuFamilyEnterprise, 8, 0, securityOnly),
	base("EMSPREMIUM", "CFQ7TTC0LHXH:0002", models.SkuFamilyEnterprise, 9, 0, complianceSet),
	base("IDENTITY_THREAT_PROTECTION", "CFQ7TTC0LHXJ:0001", models.SkuFamilyEnterprise, 9, 0, securityOnly),
	base("INFORMATION_PROTECTION_COMPLIANCE", "CFQ7TTC0LHXK:0001", models.SkuFamilyEnterprise, 9, 0, complianceSet),

	// Addons (never recommended standalone; validated via addon rules)
	addon("MCOMEETADV", "CFQ7TTC0LHXM:0001", []string{models.ServiceAudioConferencing}),
	addon("MCOEV", "CFQ7TTC0LHXN:0001", []string{models.ServicePhoneSystem}),
	addon("MCOPSTN1", "CFQ7TTC0LHXP:0001", []string{models.ServicePhoneSystem}),
	addon("MCOPSTN2", "CFQ7TTC0LHXP:0002", []string{models.ServicePhoneSystem}),
	addon("ATP_ENTERPRISE", "CFQ7TTC0LHXQ:0001", securityOnly),
	addon("THREAT_INTELLIGENCE", "CFQ7TTC0LHXQ:0002", securityOnly),
	addon("EQUIVIO_ANALYTICS", "CFQ7TTC0LHXR:0001", []string{models.ServiceAdvancedCompliance}),
	addon("EXCHANGE_ANALYTICS", "CFQ7TTC0LHXR:0002", []string{models.ServiceAdvancedCompliance}),
	addon("POWER_BI_PRO", "CFQ7TTC0L3PB:0001", nil),
	addon("PROJECT_PLAN3", "CFQ7TTC0HDB0:0001", nil),
	addon("PROJECT_PLAN5", "CFQ7TTC0HDB1:0001", nil),
	addon("VISIOCLIENT", "CFQ7TTC0HD33:0001", nil),
	addon("FLOW_PER_USER", "CFQ7TTC0LSGZ:0001", nil),
	addon("POWERAPPS_PER_USER", "CFQ7TTC0LH3D:0001", nil),
}

// complianceUnion adds the advanced security/compliance pair to a suite.
func complianceUnion(services []string) []string {
	out := make([]string, 0, len(services)+2)
	out = append(out, services...)
	out = append(out, models.ServiceAdvancedSecurity, models.ServiceAdvancedCompliance)
	return out
}

var seedEffectiveFrom = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

func rule(addonSku, baseSku, category string, minQ, maxQ, multiplier int, prereqs []string) models.AddonCompatibility {
	if prereqs == nil {
		prereqs = []string{}
	}
	return models.AddonCompatibility{
		AddonSkuID:    addonSku,
		BaseSkuID:     baseSku,
		Category:      category,
		MinQuantity:   minQ,
		MaxQuantity:   maxQ,
		Multiplier:    multiplier,
		Prerequisites: prereqs,
		EffectiveFrom: seedEffectiveFrom,
		Active:        true,
	}
}

// defaultAddonRules seeds the addon compatibility rules for the suites the
// addons above attach to. Phone System requires Audio Conferencing on the
// E1/E3-class bases; E5-class SKUs already include both so no rule exists
// for them. The two PSTN calling plans are mutually exclusive via their
// shared category.
var defaultAddonRules = []models.AddonCompatibility{
	rule("MCOMEETADV", "STANDARDPACK", "conferencing", 1, 10000, 1, nil),
	rule("MCOMEETADV", "ENTERPRISEPACK", "conferencing", 1, 10000, 1, nil),
	rule("MCOMEETADV", "SPE_E3", "conferencing", 1, 10000, 1, nil),
	rule("MCOMEETADV", "O365_BUSINESS_PREMIUM", "conferencing", 1, 300, 1, nil),
	rule("MCOMEETADV", "SPB", "conferencing", 1, 300, 1, nil),

	rule("MCOEV", "STANDARDPACK", "telephony", 1, 10000, 1, []string{"MCOMEETADV"}),
	rule("MCOEV", "ENTERPRISEPACK", "telephony", 1, 10000, 1, []string{"MCOMEETADV"}),
	rule("MCOEV", "SPE_E3", "telephony", 1, 10000, 1, []string{"MCOMEETADV"}),

	rule("MCOPSTN1", "SPE_E3", "calling_plan", 1, 10000, 1, []string{"MCOEV"}),
	rule("MCOPSTN2", "SPE_E3", "calling_plan", 1, 10000, 1, []string{"MCOEV"}),
	rule("MCOPSTN1", "ENTERPRISEPACK", "calling_plan", 1, 10000, 1, []string{"MCOEV"}),
	rule("MCOPSTN2", "ENTERPRISEPACK", "calling_plan", 1, 10000, 1, []string{"MCOEV"}),

	rule("ATP_ENTERPRISE", "STANDARDPACK", "threat_protection", 1, 10000, 1, nil),
	rule("ATP_ENTERPRISE", "ENTERPRISEPACK", "threat_protection", 1, 10000, 1, nil),
	rule("ATP_ENTERPRISE", "O365_BUSINESS_ESSENTIALS", "threat_protection", 1, 300, 1, nil),
	rule("ATP_ENTERPRISE", "O365_BUSINESS_PREMIUM", "threat_protection", 1, 300, 1, nil),
	rule("THREAT_INTELLIGENCE", "ENTERPRISEPACK", "threat_protection", 1, 10000, 1, []string{"ATP_ENTERPRISE"}),

	rule("EQUIVIO_ANALYTICS", "ENTERPRISEPACK", "compliance", 1, 10000, 1, nil),
	rule("EXCHANGE_ANALYTICS", "ENTERPRISEPACK", "compliance", 1, 10000, 1, nil),

	rule("POWER_BI_PRO", "STANDARDPACK", "analytics", 1, 10000, 1, nil),
	rule("POWER_BI_PRO", "ENTERPRISEPACK", "analytics", 1, 10000, 1, nil),
	rule("POWER_BI_PRO", "SPE_E3", "analytics", 1, 10000, 1, nil),
	rule("PROJECT_PLAN3", "ENTERPRISEPACK", "project", 1, 10000, 1, nil),
	rule("PROJECT_PLAN5", "ENTERPRISEPACK", "project", 1, 10000, 1, nil),
	rule("VISIOCLIENT", "ENTERPRISEPACK", "diagramming", 1, 10000, 1, nil),
	rule("FLOW_PER_USER", "SPE_E3", "automation", 1, 10000, 1, nil),
	rule("POWERAPPS_PER_USER", "SPE_E3", "automation", 1, 10000, 1, nil),
}
