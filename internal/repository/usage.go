package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/savegress/optimizer/backend/internal/models"
)

// UsageRepository persists the per-user usage signal pulled from the four
// Graph usage reports, upserted on the (user, period, report_date) key
// once per sync.
type UsageRepository struct {
	db *PostgresDB
}

func NewUsageRepository(db *PostgresDB) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) Upsert(ctx context.Context, tx pgx.Tx, m *models.UsageMetrics) error {
	_, err := target(r.db, tx).Exec(ctx, `
		INSERT INTO usage_metrics (
			id, tenant_id, user_id, period, report_date,
			emails_sent_28d, emails_received_28d, mailbox_size_mb,
			onedrive_bytes_used, onedrive_files_modified_28d,
			sharepoint_views_28d, sharepoint_edits_28d,
			teams_messages_28d, teams_meetings_28d, teams_calls_28d,
			office_web_edits_28d, has_desktop_activation_28d,
			exchange_last_activity, onedrive_last_activity,
			sharepoint_last_activity, teams_last_activity, office_last_activity,
			report_refreshed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
		ON CONFLICT (user_id, period, report_date) DO UPDATE SET
			emails_sent_28d = EXCLUDED.emails_sent_28d,
			emails_received_28d = EXCLUDED.emails_received_28d,
			mailbox_size_mb = EXCLUDED.mailbox_size_mb,
			onedrive_bytes_used = EXCLUDED.onedrive_bytes_used,
			onedrive_files_modified_28d = EXCLUDED.onedrive_files_modified_28d,
			sharepoint_views_28d = EXCLUDED.sharepoint_views_28d,
			sharepoint_edits_28d = EXCLUDED.sharepoint_edits_28d,
			teams_messages_28d = EXCLUDED.teams_messages_28d,
			teams_meetings_28d = EXCLUDED.teams_meetings_28d,
			teams_calls_28d = EXCLUDED.teams_calls_28d,
			office_web_edits_28d = EXCLUDED.office_web_edits_28d,
			has_desktop_activation_28d = EXCLUDED.has_desktop_activation_28d,
			exchange_last_activity = EXCLUDED.exchange_last_activity,
			onedrive_last_activity = EXCLUDED.onedrive_last_activity,
			sharepoint_last_activity = EXCLUDED.sharepoint_last_activity,
			teams_last_activity = EXCLUDED.teams_last_activity,
			office_last_activity = EXCLUDED.office_last_activity,
			report_refreshed_at = EXCLUDED.report_refreshed_at,
			updated_at = EXCLUDED.updated_at
	`, m.ID, m.TenantID, m.UserID, m.Period, m.ReportDate,
		m.EmailsSent28d, m.EmailsReceived28d, m.MailboxSizeMB,
		m.OneDriveBytesUsed, m.OneDriveFilesModified28d,
		m.SharePointViews28d, m.SharePointEdits28d,
		m.TeamsMessages28d, m.TeamsMeetings28d, m.TeamsCalls28d,
		m.OfficeWebEdits28d, m.HasDesktopActivation28d,
		m.ExchangeLastActivity, m.OneDriveLastActivity,
		m.SharePointLastActivity, m.TeamsLastActivity, m.OfficeLastActivity,
		m.ReportRefreshedAt, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert usage metrics: %w", err)
	}
	return nil
}

var usageColumns = `id, tenant_id, user_id, period, report_date,
	emails_sent_28d, emails_received_28d, mailbox_size_mb,
	onedrive_bytes_used, onedrive_files_modified_28d,
	sharepoint_views_28d, sharepoint_edits_28d,
	teams_messages_28d, teams_meetings_28d, teams_calls_28d,
	office_web_edits_28d, has_desktop_activation_28d,
	exchange_last_activity, onedrive_last_activity,
	sharepoint_last_activity, teams_last_activity, office_last_activity,
	report_refreshed_at, created_at, updated_at`

func scanUsage(row pgx.Row, m *models.UsageMetrics) error {
	return row.Scan(&m.ID, &m.TenantID, &m.UserID, &m.Period, &m.ReportDate,
		&m.EmailsSent28d, &m.EmailsReceived28d, &m.MailboxSizeMB,
		&m.OneDriveBytesUsed, &m.OneDriveFilesModified28d,
		&m.SharePointViews28d, &m.SharePointEdits28d,
		&m.TeamsMessages28d, &m.TeamsMeetings28d, &m.TeamsCalls28d,
		&m.OfficeWebEdits28d, &m.HasDesktopActivation28d,
		&m.ExchangeLastActivity, &m.OneDriveLastActivity,
		&m.SharePointLastActivity, &m.TeamsLastActivity, &m.OfficeLastActivity,
		&m.ReportRefreshedAt, &m.CreatedAt, &m.UpdatedAt)
}

// GetLatestByUser returns the UsageMetrics row with the latest report date
// for a user within the given period, or ErrNotFound if none has synced yet.
func (r *UsageRepository) GetLatestByUser(ctx context.Context, userID uuid.UUID, period string) (*models.UsageMetrics, error) {
	var m models.UsageMetrics
	err := scanUsage(r.db.Pool().QueryRow(ctx, `
		SELECT `+usageColumns+`
		FROM usage_metrics WHERE user_id = $1 AND period = $2
		ORDER BY report_date DESC LIMIT 1
	`, userID, period), &m)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get usage metrics: %w", err)
	}
	return &m, nil
}

// ListLatestByTenant returns, for every user with at least one usage row in
// the given period, their most recent report-date snapshot.
func (r *UsageRepository) ListLatestByTenant(ctx context.Context, tenantID uuid.UUID, period string) (map[uuid.UUID]models.UsageMetrics, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT DISTINCT ON (user_id) `+usageColumns+`
		FROM usage_metrics WHERE tenant_id = $1 AND period = $2
		ORDER BY user_id, report_date DESC
	`, tenantID, period)
	if err != nil {
		return nil, fmt.Errorf("list usage metrics: %w", err)
	}
	defer rows.Close()

	result := make(map[uuid.UUID]models.UsageMetrics)
	for rows.Next() {
		var m models.UsageMetrics
		if err := scanUsage(rows, &m); err != nil {
			return nil, err
		}
		result[m.UserID] = m
	}
	return result, nil
}
