package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is a partner-managed Microsoft 365 customer onboarded for
// optimization. Credentials for talking to that tenant's Graph/Commerce
// APIs live separately in TenantCredentials so they can be vaulted and
// rotated independently of the tenant record itself.
type Tenant struct {
	ID          uuid.UUID `json:"id" db:"id"`
	PartnerID   uuid.UUID `json:"partner_id" db:"partner_id"`
	DirectoryID string    `json:"directory_id" db:"directory_id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Country     string    `json:"country" db:"country"`
	Status      string    `json:"status" db:"status"` // active, suspended, offboarded
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

const (
	TenantStatusActive     = "active"
	TenantStatusSuspended  = "suspended"
	TenantStatusOffboarded = "offboarded"
)

// TenantCredentials holds the OAuth client credentials used to call a
// tenant's Graph and Commerce APIs. ClientSecretCiphertext is the
// vault-sealed ciphertext produced by internal/vault; the plaintext secret
// never touches this struct or the database.
type TenantCredentials struct {
	TenantID               uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	ClientID               string     `json:"client_id" db:"client_id"`
	ClientSecretCiphertext string     `json:"-" db:"client_secret_ciphertext"`
	TokenAuthority         string     `json:"token_authority" db:"token_authority"`
	IsValid                bool       `json:"is_valid" db:"is_valid"`
	LastValidatedAt        *time.Time `json:"last_validated_at,omitempty" db:"last_validated_at"`
	CreatedAt              time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at" db:"updated_at"`
}

// User is a directory user synced from a tenant's Azure AD / Entra ID,
// scoped to exactly one Tenant. It is deliberately distinct from Operator:
// a directory user never authenticates against this service, it is only
// ever a sync target.
type User struct {
	ID              uuid.UUID `json:"id" db:"id"`
	TenantID        uuid.UUID `json:"tenant_id" db:"tenant_id"`
	DirectoryUserID string    `json:"directory_user_id" db:"directory_user_id"`
	PrincipalName   string    `json:"principal_name" db:"principal_name"`
	DisplayName     string    `json:"display_name" db:"display_name"`
	Department      string    `json:"department,omitempty" db:"department"`
	AccountEnabled  bool      `json:"account_enabled" db:"account_enabled"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// LicenseAssignment records one directory-SKU assignment held by a user as
// of the last directory sync. Status mirrors the directory's
// capabilityStatus for the SKU; Source records how the assignment was made
// (directly or inherited from a group).
type LicenseAssignment struct {
	ID             uuid.UUID `json:"id" db:"id"`
	TenantID       uuid.UUID `json:"tenant_id" db:"tenant_id"`
	UserID         uuid.UUID `json:"user_id" db:"user_id"`
	DirectorySkuID string    `json:"directory_sku_id" db:"directory_sku_id"`
	Status         string    `json:"status" db:"status"` // active, suspended, disabled, trial
	Source         string    `json:"source" db:"source"` // manual, auto, group_policy
	AssignedAt     time.Time `json:"assigned_at" db:"assigned_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

const (
	LicenseStatusActive    = "active"
	LicenseStatusSuspended = "suspended"
	LicenseStatusDisabled  = "disabled"
	LicenseStatusTrial     = "trial"

	LicenseSourceManual      = "manual"
	LicenseSourceAuto        = "auto"
	LicenseSourceGroupPolicy = "group_policy"
)

// UsageMetrics holds one period/report-date snapshot of per-service
// activity counters for a user, as pulled from the four Graph usage
// reports (Email, OneDrive, SharePoint, Teams activity). Unique on
// (user_id, period, report_date). The scoring package derives normalized
// [0,1] scores from the raw counters at analysis time rather than
// persisting them.
type UsageMetrics struct {
	ID       uuid.UUID `json:"id" db:"id"`
	TenantID uuid.UUID `json:"tenant_id" db:"tenant_id"`
	UserID   uuid.UUID `json:"user_id" db:"user_id"`
	Period   string    `json:"period" db:"period"` // e.g. "D28"
	// ReportDate is the as-of date the upstream usage report was generated
	// for; a later sync for the same period produces a new row rather than
	// overwriting an older report date.
	ReportDate time.Time `json:"report_date" db:"report_date"`

	EmailsSent28d             int `json:"emails_sent_28d" db:"emails_sent_28d"`
	EmailsReceived28d         int `json:"emails_received_28d" db:"emails_received_28d"`
	MailboxSizeMB             int `json:"mailbox_size_mb" db:"mailbox_size_mb"`
	OneDriveBytesUsed         int64 `json:"onedrive_bytes_used" db:"onedrive_bytes_used"`
	OneDriveFilesModified28d  int `json:"onedrive_files_modified_28d" db:"onedrive_files_modified_28d"`
	SharePointViews28d        int `json:"sharepoint_views_28d" db:"sharepoint_views_28d"`
	SharePointEdits28d        int `json:"sharepoint_edits_28d" db:"sharepoint_edits_28d"`
	TeamsMessages28d          int `json:"teams_messages_28d" db:"teams_messages_28d"`
	TeamsMeetings28d          int `json:"teams_meetings_28d" db:"teams_meetings_28d"`
	TeamsCalls28d             int `json:"teams_calls_28d" db:"teams_calls_28d"`
	OfficeWebEdits28d         int `json:"office_web_edits_28d" db:"office_web_edits_28d"`
	HasDesktopActivation28d   bool `json:"has_desktop_activation_28d" db:"has_desktop_activation_28d"`

	ExchangeLastActivity   *time.Time `json:"exchange_last_activity,omitempty" db:"exchange_last_activity"`
	OneDriveLastActivity   *time.Time `json:"onedrive_last_activity,omitempty" db:"onedrive_last_activity"`
	SharePointLastActivity *time.Time `json:"sharepoint_last_activity,omitempty" db:"sharepoint_last_activity"`
	TeamsLastActivity      *time.Time `json:"teams_last_activity,omitempty" db:"teams_last_activity"`
	OfficeLastActivity     *time.Time `json:"office_last_activity,omitempty" db:"office_last_activity"`

	ReportRefreshedAt time.Time `json:"report_refreshed_at" db:"report_refreshed_at"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// LastSeenDate returns the most recent of the five per-service last
// activity dates, or the zero time if none are set. InactivityDays is
// computed from this relative to a reference "today" rather than stored,
// since persisting it would go stale between syncs.
func (m *UsageMetrics) LastSeenDate() time.Time {
	var latest time.Time
	for _, t := range []*time.Time{m.ExchangeLastActivity, m.OneDriveLastActivity, m.SharePointLastActivity, m.TeamsLastActivity, m.OfficeLastActivity} {
		if t != nil && t.After(latest) {
			latest = *t
		}
	}
	return latest
}

// InactivityDays returns the number of days between LastSeenDate and asOf.
// A user with no recorded activity at all returns -1 to distinguish "never
// seen" from "seen today".
func (m *UsageMetrics) InactivityDays(asOf time.Time) int {
	last := m.LastSeenDate()
	if last.IsZero() {
		return -1
	}
	return int(asOf.Sub(last).Hours() / 24)
}

// CommerceProduct is a sellable product pulled from the partner commerce
// catalog, unique on (product_id, sku_id). A directory SKU is matched to
// one of these via skuregistry.
type CommerceProduct struct {
	ID             uuid.UUID `json:"id" db:"id"`
	ProductID      string    `json:"product_id" db:"product_id"`
	CommerceSkuID  string    `json:"commerce_sku_id" db:"commerce_sku_id"`
	DirectorySkuID string    `json:"directory_sku_id" db:"directory_sku_id"`
	ProductName    string    `json:"product_name" db:"product_name"`
	Segment        string    `json:"segment" db:"segment"` // commercial, education, government, nonprofit
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// CommercePrice is the per-market, per-segment, per-billing-cycle unit
// price for a CommerceProduct, in integer minor currency units to avoid
// float drift across aggregation. Unique on (product_id, commerce_sku_id,
// market, currency, segment, billing_cycle, effective_from), FK'd to
// CommerceProduct by the (product_id, commerce_sku_id) composite.
// EffectiveTo is nil for the currently active price row.
type CommercePrice struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	ProductID      string     `json:"product_id" db:"product_id"`
	CommerceSkuID  string     `json:"commerce_sku_id" db:"commerce_sku_id"`
	Market         string     `json:"market" db:"market"`
	Segment        string     `json:"segment" db:"segment"`           // Commercial, Education, Charity
	BillingCycle   string     `json:"billing_cycle" db:"billing_cycle"` // monthly, annual
	Currency       string     `json:"currency" db:"currency"`
	UnitPriceCents int64      `json:"unit_price_cents" db:"unit_price_cents"`
	EffectiveFrom  time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo    *time.Time `json:"effective_to,omitempty" db:"effective_to"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Active reports whether this price row applies on asOf.
func (p *CommercePrice) Active(asOf time.Time) bool {
	if asOf.Before(p.EffectiveFrom) {
		return false
	}
	return p.EffectiveTo == nil || !asOf.After(*p.EffectiveTo)
}

const (
	SegmentCommercial = "Commercial"
	SegmentEducation  = "Education"
	SegmentCharity    = "Charity"

	BillingCycleMonthly = "monthly"
	BillingCycleAnnual  = "annual"
)

// Canonical services recognized by the SKU compatibility registry and
// produced by the usage scorer. A SkuServiceMatrix.Services entry outside
// this set is a data error, not a new service - the set is closed.
const (
	ServiceExchange            = "exchange"
	ServiceOneDrive            = "onedrive"
	ServiceSharePoint          = "sharepoint"
	ServiceTeams               = "teams"
	ServiceOfficeDesktop       = "office_desktop"
	ServiceAdvancedSecurity    = "advanced_security"
	ServiceAdvancedCompliance  = "advanced_compliance"
	ServiceAudioConferencing   = "audio_conferencing"
	ServicePhoneSystem         = "phone_system"
)

// SkuServiceMatrix declares which logical services a directory SKU
// provisions and where it ranks within its family (lower Rank is the
// cheaper tier). The recommendation engine does not read Rank: it picks
// the cheapest covering SKU by resolved price. IsAddon SKUs
// are never offered by the recommendation engine as a standalone
// replacement; they are validated separately via AddonCompatibility.
type SkuServiceMatrix struct {
	DirectorySkuID string   `json:"directory_sku_id" db:"directory_sku_id"`
	CommerceSkuID  string   `json:"commerce_sku_id" db:"commerce_sku_id"`
	Family         string   `json:"family" db:"family"` // business, enterprise, frontline, education
	Rank           int      `json:"rank" db:"rank"`
	Services       []string `json:"services" db:"services"`
	IsAddon        bool     `json:"is_addon" db:"is_addon"`
	StorageQuotaGB int      `json:"storage_quota_gb" db:"storage_quota_gb"`
}

const (
	SkuFamilyBusiness   = "business"
	SkuFamilyEnterprise = "enterprise"
	SkuFamilyFrontline  = "frontline"
	SkuFamilyEducation  = "education"
)

// AddonCompatibility declares the rules under which an addon SKU may be
// attached to a base SKU: quantity bounds, a category used for
// mutual-exclusion conflict checks, and an availability window. Keyed on
// (addon_sku_id, base_sku_id) effective at a given date - the registry may
// hold several rows for the same pair across non-overlapping windows.
type AddonCompatibility struct {
	AddonSkuID   string     `json:"addon_sku_id" db:"addon_sku_id"`
	BaseSkuID    string     `json:"base_sku_id" db:"base_sku_id"`
	Category     string     `json:"category" db:"category"`
	MinQuantity  int        `json:"min_quantity" db:"min_quantity"`
	MaxQuantity  int        `json:"max_quantity" db:"max_quantity"`
	Multiplier   int        `json:"multiplier" db:"multiplier"`
	Prerequisites []string  `json:"prerequisites" db:"prerequisites"`
	EffectiveFrom time.Time `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`
	Active        bool      `json:"active" db:"active"`
}

// Analysis is one run of the recommendation engine over a tenant's current
// directory, usage and commerce data.
type Analysis struct {
	ID       uuid.UUID `json:"id" db:"id"`
	TenantID uuid.UUID `json:"tenant_id" db:"tenant_id"`
	Status   string    `json:"status" db:"status"` // running, completed, failed
	Currency string    `json:"currency" db:"currency"`

	// Summary, flattened into columns rather than a JSON blob.
	UsersAnalyzed                int `json:"users_analyzed" db:"users_analyzed"`
	RecommendationsCount         int `json:"recommendations_count" db:"recommendations_count"`
	TotalCurrentMonthlyCents     int64 `json:"total_current_monthly_cents" db:"total_current_monthly_cents"`
	TotalOptimizedMonthlyCents   int64 `json:"total_optimized_monthly_cents" db:"total_optimized_monthly_cents"`
	PotentialSavingsMonthlyCents int64 `json:"potential_savings_monthly_cents" db:"potential_savings_monthly_cents"`
	PotentialSavingsAnnualCents  int64 `json:"potential_savings_annual_cents" db:"potential_savings_annual_cents"`
	CountRemove                  int `json:"count_remove" db:"count_remove"`
	CountDowngrade               int `json:"count_downgrade" db:"count_downgrade"`
	CountUpgrade                 int `json:"count_upgrade" db:"count_upgrade"`
	CountNoChange                int `json:"count_no_change" db:"count_no_change"`

	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	FailureReason string     `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

const (
	AnalysisStatusRunning   = "running"
	AnalysisStatusCompleted = "completed"
	AnalysisStatusFailed    = "failed"
)

// Recommendation is one proposed license change for one user, produced by
// an Analysis. State transitions are governed by the analysis state
// machine (pending -> accepted|rejected, both terminal).
type Recommendation struct {
	ID                    uuid.UUID  `json:"id" db:"id"`
	AnalysisID            uuid.UUID  `json:"analysis_id" db:"analysis_id"`
	TenantID              uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	UserID                uuid.UUID  `json:"user_id" db:"user_id"`
	ReasonCode            string     `json:"reason_code" db:"reason_code"`
	CurrentSkuID          string     `json:"current_sku_id,omitempty" db:"current_sku_id"`
	RecommendedSkuID      string     `json:"recommended_sku_id,omitempty" db:"recommended_sku_id"`
	EstimatedSavingsCents int64      `json:"estimated_savings_cents" db:"estimated_savings_cents"`
	Status                string     `json:"status" db:"status"` // pending, accepted, rejected
	DecidedAt             *time.Time `json:"decided_at,omitempty" db:"decided_at"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
}

const (
	RecommendationStatusPending  = "pending"
	RecommendationStatusAccepted = "accepted"
	RecommendationStatusRejected = "rejected"
)

const (
	ReasonRemoveInactive        = "remove_inactive"
	ReasonRemoveAccountDisabled = "remove_account_disabled"
	ReasonDowngradeE5ToE3       = "downgrade_e5_to_e3"
	ReasonDowngradeE3ToE1       = "downgrade_e3_to_e1"
	ReasonDowngradeToFrontline  = "downgrade_to_frontline"
	ReasonNoChange              = "no_change"
	// ReasonUpgradeRequiredCoverage covers the one upgrade path the
	// engine emits: the current SKU no longer covers the user's required
	// services.
	ReasonUpgradeRequiredCoverage = "upgrade_required_coverage"
)

// Recommendation actions, used for the analysis summary's action breakdown.
const (
	ActionRemove    = "remove"
	ActionDowngrade = "downgrade"
	ActionUpgrade   = "upgrade"
	ActionNoChange  = "no_change"
)

// Operator is a platform-side (partner staff) account used to authenticate
// against the admin HTTP surface. It is a separate entity from User: a
// directory User is sync data describing someone else's employee, an
// Operator is someone logging into this service.
type Operator struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"`
	Name         string     `json:"name" db:"name"`
	Role         string     `json:"role" db:"role"` // operator, admin
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
}

const (
	OperatorRoleOperator = "operator"
	OperatorRoleAdmin    = "admin"
)

// RefreshToken backs Operator session refresh, one row per issued refresh
// token so it can be revoked individually or en masse on password reset.
type RefreshToken struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	OperatorID uuid.UUID  `json:"operator_id" db:"operator_id"`
	Token      string     `json:"-" db:"token"`
	ExpiresAt  time.Time  `json:"expires_at" db:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// PasswordReset is a single-use, bcrypt-hashed reset token for an Operator.
type PasswordReset struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	OperatorID uuid.UUID  `json:"operator_id" db:"operator_id"`
	TokenHash  string     `json:"-" db:"token_hash"`
	ExpiresAt  time.Time  `json:"expires_at" db:"expires_at"`
	UsedAt     *time.Time `json:"used_at,omitempty" db:"used_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}
