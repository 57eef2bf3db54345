// Package directorysync implements directory sync: pulling users,
// license assignments, and usage telemetry from a tenant's identity
// platform and reconciling them into the Data Store Adapter, one
// transaction per sync call scoped to that tenant's rows.
package directorysync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/savegress/optimizer/backend/internal/models"
	"github.com/savegress/optimizer/backend/internal/syncguard"
)

// ErrInvalidPeriod is returned by SyncUsage for a period code the usage
// reports endpoint does not recognize.
var ErrInvalidPeriod = errors.New("directorysync: invalid usage period")

var validPeriods = map[string]bool{"D7": true, "D30": true, "D90": true, "D180": true, "D28": true}

type userStore interface {
	Upsert(ctx context.Context, tx pgx.Tx, u *models.User) error
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.User, error)
}

type licenseStore interface {
	Upsert(ctx context.Context, tx pgx.Tx, a *models.LicenseAssignment) error
	DeleteMissingForUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID, keep []string) (int64, error)
}

type usageStore interface {
	Upsert(ctx context.Context, tx pgx.Tx, m *models.UsageMetrics) error
}

// fingerprintGuard is the narrow slice of syncguard.Guard this package
// needs, so tests can substitute an in-memory guard instead of requiring
// a live Redis.
type fingerprintGuard interface {
	Run(ctx context.Context, fingerprint string, fn func(context.Context) error) error
}

// txRunner is the narrow slice of repository.PostgresDB this package
// needs, so tests can substitute a fake unit of work instead of requiring
// a live Postgres.
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Service implements sync_users, sync_licenses and sync_usage.
type Service struct {
	graph    GraphAPI
	users    userStore
	licenses licenseStore
	usage    usageStore
	db       txRunner
	guard    fingerprintGuard
}

func New(graph GraphAPI, users userStore, licenses licenseStore, usage usageStore, db txRunner, guard fingerprintGuard) *Service {
	return &Service{graph: graph, users: users, licenses: licenses, usage: usage, db: db, guard: guard}
}

// UserSyncStats reports the outcome of sync_users.
type UserSyncStats struct {
	Fetched  int
	Upserted int
}

// SyncUsers implements sync_users(tenant): fetch paginated
// users, upsert by directory user id. Logical deletes are out of scope
// (users absent from a later page simply stop being touched).
func (s *Service) SyncUsers(ctx context.Context, tenantID uuid.UUID) (UserSyncStats, error) {
	var stats UserSyncStats
	err := s.guard.Run(ctx, syncguard.Fingerprint(tenantID.String(), "sync_users"), func(ctx context.Context) error {
		directoryUsers, err := s.graph.ListUsers(ctx, tenantID.String())
		if err != nil {
			return fmt.Errorf("sync users: fetch: %w", err)
		}
		stats.Fetched = len(directoryUsers)

		now := time.Now().UTC()
		return s.db.WithTx(ctx, func(tx pgx.Tx) error {
			for _, du := range directoryUsers {
				u := &models.User{
					ID:              uuid.New(),
					TenantID:        tenantID,
					DirectoryUserID: du.ID,
					PrincipalName:   du.UserPrincipalName,
					DisplayName:     du.DisplayName,
					Department:      du.Department,
					AccountEnabled:  du.AccountEnabled,
					CreatedAt:       now,
					UpdatedAt:       now,
				}
				if err := s.users.Upsert(ctx, tx, u); err != nil {
					return fmt.Errorf("sync users: upsert %s: %w", du.ID, err)
				}
				stats.Upserted++
			}
			return nil
		})
	})
	if err != nil {
		return UserSyncStats{}, err
	}
	return stats, nil
}

// LicenseSyncStats reports the outcome of sync_licenses.
type LicenseSyncStats struct {
	UsersProcessed      int
	AssignmentsUpserted int
	AssignmentsRemoved  int64
}

// SyncLicenses implements sync_licenses(tenant): per-user
// license detail pages upserted, then a scoped delete removes assignments
// absent from that user's latest snapshot - never a tenant-wide delete.
func (s *Service) SyncLicenses(ctx context.Context, tenantID uuid.UUID) (LicenseSyncStats, error) {
	var stats LicenseSyncStats
	err := s.guard.Run(ctx, syncguard.Fingerprint(tenantID.String(), "sync_licenses"), func(ctx context.Context) error {
		localUsers, err := s.users.ListByTenant(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("sync licenses: list users: %w", err)
		}

		now := time.Now().UTC()
		return s.db.WithTx(ctx, func(tx pgx.Tx) error {
			for _, u := range localUsers {
				skuIDs, err := s.graph.ListLicenseDetails(ctx, tenantID.String(), u.DirectoryUserID)
				if err != nil {
					return fmt.Errorf("sync licenses: fetch details for %s: %w", u.DirectoryUserID, err)
				}

				for _, skuID := range skuIDs {
					// The license detail endpoint reports what is assigned
					// but not how or in what state; assignments sync as
					// active/manual until the directory says otherwise.
					a := &models.LicenseAssignment{
						ID:             uuid.New(),
						TenantID:       tenantID,
						UserID:         u.ID,
						DirectorySkuID: skuID,
						Status:         models.LicenseStatusActive,
						Source:         models.LicenseSourceManual,
						AssignedAt:     now,
						CreatedAt:      now,
						UpdatedAt:      now,
					}
					if err := s.licenses.Upsert(ctx, tx, a); err != nil {
						return fmt.Errorf("sync licenses: upsert assignment for %s: %w", u.DirectoryUserID, err)
					}
					stats.AssignmentsUpserted++
				}

				removed, err := s.licenses.DeleteMissingForUser(ctx, tx, u.ID, skuIDs)
				if err != nil {
					return fmt.Errorf("sync licenses: delete stale assignments for %s: %w", u.DirectoryUserID, err)
				}
				stats.AssignmentsRemoved += removed
				stats.UsersProcessed++
			}
			return nil
		})
	})
	if err != nil {
		return LicenseSyncStats{}, err
	}
	return stats, nil
}

// UsageSyncStats reports the outcome of sync_usage.
type UsageSyncStats struct {
	RowsProcessed int
	RowsUpserted  int
	UsersSkipped  int
}

// SyncUsage implements sync_usage(tenant, period): four CSV
// reports merged per user by principal name. Rows for a user not present
// locally are skipped rather than fabricating a user record.
func (s *Service) SyncUsage(ctx context.Context, tenantID uuid.UUID, period string) (UsageSyncStats, error) {
	if !validPeriods[period] {
		return UsageSyncStats{}, ErrInvalidPeriod
	}

	var stats UsageSyncStats
	err := s.guard.Run(ctx, syncguard.Fingerprint(tenantID.String(), "sync_usage"), func(ctx context.Context) error {
		localUsers, err := s.users.ListByTenant(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("sync usage: list users: %w", err)
		}
		byPrincipal := make(map[string]models.User, len(localUsers))
		for _, u := range localUsers {
			byPrincipal[u.PrincipalName] = u
		}

		merged := make(map[string]*models.UsageMetrics)
		reportDate := time.Now().UTC()

		if err := s.mergeReport(ctx, tenantID, period, ReportEmailActivity, merged, applyEmailRow); err != nil {
			return err
		}
		if err := s.mergeReport(ctx, tenantID, period, ReportOneDriveActivity, merged, applyOneDriveRow); err != nil {
			return err
		}
		if err := s.mergeReport(ctx, tenantID, period, ReportSharePointActivity, merged, applySharePointRow); err != nil {
			return err
		}
		if err := s.mergeReport(ctx, tenantID, period, ReportTeamsActivity, merged, applyTeamsRow); err != nil {
			return err
		}

		now := time.Now().UTC()
		return s.db.WithTx(ctx, func(tx pgx.Tx) error {
			for principal, m := range merged {
				stats.RowsProcessed++
				u, ok := byPrincipal[principal]
				if !ok {
					stats.UsersSkipped++
					continue
				}
				m.ID = uuid.New()
				m.TenantID = tenantID
				m.UserID = u.ID
				m.Period = period
				m.ReportDate = reportDate
				m.ReportRefreshedAt = now
				m.CreatedAt = now
				m.UpdatedAt = now

				if err := s.usage.Upsert(ctx, tx, m); err != nil {
					return fmt.Errorf("sync usage: upsert for %s: %w", principal, err)
				}
				stats.RowsUpserted++
			}
			return nil
		})
	})
	if err != nil {
		return UsageSyncStats{}, err
	}
	return stats, nil
}

func (s *Service) mergeReport(ctx context.Context, tenantID uuid.UUID, period, report string, merged map[string]*models.UsageMetrics, apply func(*models.UsageMetrics, map[string]string)) error {
	rows, err := s.graph.UsageReport(ctx, tenantID.String(), report, period)
	if err != nil {
		return fmt.Errorf("sync usage: fetch %s: %w", report, err)
	}
	for _, row := range rows {
		principal := row["User Principal Name"]
		if principal == "" {
			continue
		}
		m, ok := merged[principal]
		if !ok {
			m = &models.UsageMetrics{}
			merged[principal] = m
		}
		apply(m, row)
	}
	return nil
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func parseLastActivity(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func applyEmailRow(m *models.UsageMetrics, row map[string]string) {
	m.EmailsSent28d = atoiOr(row["Send Count"], 0)
	m.EmailsReceived28d = atoiOr(row["Receive Count"], 0)
	m.MailboxSizeMB = atoiOr(row["Mailbox Storage Used (MB)"], 0)
	m.ExchangeLastActivity = parseLastActivity(row["Last Activity Date"])
}

func applyOneDriveRow(m *models.UsageMetrics, row map[string]string) {
	m.OneDriveFilesModified28d = atoiOr(row["Viewed Or Modified File Count"], 0)
	bytesUsed, err := strconv.ParseInt(row["Storage Used (Byte)"], 10, 64)
	if err == nil {
		m.OneDriveBytesUsed = bytesUsed
	}
	m.OneDriveLastActivity = parseLastActivity(row["Last Activity Date"])
}

func applySharePointRow(m *models.UsageMetrics, row map[string]string) {
	m.SharePointViews28d = atoiOr(row["Visited Page Count"], 0)
	m.SharePointEdits28d = atoiOr(row["Viewed Or Edited File Count"], 0)
	m.SharePointLastActivity = parseLastActivity(row["Last Activity Date"])
}

func applyTeamsRow(m *models.UsageMetrics, row map[string]string) {
	m.TeamsMessages28d = atoiOr(row["Team Chat Message Count"], 0) + atoiOr(row["Private Chat Message Count"], 0)
	m.TeamsMeetings28d = atoiOr(row["Meeting Count"], 0)
	m.TeamsCalls28d = atoiOr(row["Call Count"], 0)
	m.TeamsLastActivity = parseLastActivity(row["Last Activity Date"])
}
