package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/savegress/optimizer/backend/internal/models"
)

// AnalysisRepository persists Analysis runs and their Recommendations. The
// orchestrator writes both inside a single transaction so a crash mid-run
// never leaves a completed analysis with a partial recommendation set.
type AnalysisRepository struct {
	db *PostgresDB
}

func NewAnalysisRepository(db *PostgresDB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// WithTx runs fn inside a single database transaction, committing on
// success and rolling back if fn or the commit fails.
func (r *AnalysisRepository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AnalysisRepository) Create(ctx context.Context, tx pgx.Tx, a *models.Analysis) error {
	_, err := target(r.db, tx).Exec(ctx, `
		INSERT INTO analyses (
			id, tenant_id, status, currency, started_at, completed_at, failure_reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.TenantID, a.Status, a.Currency, a.StartedAt, a.CompletedAt, a.FailureReason, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create analysis: %w", err)
	}
	return nil
}

// Complete writes the final summary and terminal status for an analysis,
// in the same transaction as CreateRecommendations.
func (r *AnalysisRepository) Complete(ctx context.Context, tx pgx.Tx, a *models.Analysis) error {
	_, err := target(r.db, tx).Exec(ctx, `
		UPDATE analyses SET
			status = $1, completed_at = $2, failure_reason = $3,
			users_analyzed = $4, recommendations_count = $5,
			total_current_monthly_cents = $6, total_optimized_monthly_cents = $7,
			potential_savings_monthly_cents = $8, potential_savings_annual_cents = $9,
			count_remove = $10, count_downgrade = $11, count_upgrade = $12, count_no_change = $13
		WHERE id = $14
	`, a.Status, a.CompletedAt, a.FailureReason,
		a.UsersAnalyzed, a.RecommendationsCount,
		a.TotalCurrentMonthlyCents, a.TotalOptimizedMonthlyCents,
		a.PotentialSavingsMonthlyCents, a.PotentialSavingsAnnualCents,
		a.CountRemove, a.CountDowngrade, a.CountUpgrade, a.CountNoChange,
		a.ID)
	if err != nil {
		return fmt.Errorf("complete analysis: %w", err)
	}
	return nil
}

// Fail marks an analysis as failed with a reason, outside the
// recommendation transaction (there is nothing else to persist).
func (r *AnalysisRepository) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE analyses SET status = $1, failure_reason = $2, completed_at = now() WHERE id = $3
	`, models.AnalysisStatusFailed, reason, id)
	if err != nil {
		return fmt.Errorf("fail analysis: %w", err)
	}
	return nil
}

var analysisColumns = `id, tenant_id, status, currency, users_analyzed, recommendations_count,
	total_current_monthly_cents, total_optimized_monthly_cents,
	potential_savings_monthly_cents, potential_savings_annual_cents,
	count_remove, count_downgrade, count_upgrade, count_no_change,
	started_at, completed_at, COALESCE(failure_reason, ''), created_at`

func scanAnalysis(row pgx.Row, a *models.Analysis) error {
	return row.Scan(&a.ID, &a.TenantID, &a.Status, &a.Currency, &a.UsersAnalyzed, &a.RecommendationsCount,
		&a.TotalCurrentMonthlyCents, &a.TotalOptimizedMonthlyCents,
		&a.PotentialSavingsMonthlyCents, &a.PotentialSavingsAnnualCents,
		&a.CountRemove, &a.CountDowngrade, &a.CountUpgrade, &a.CountNoChange,
		&a.StartedAt, &a.CompletedAt, &a.FailureReason, &a.CreatedAt)
}

func (r *AnalysisRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	var a models.Analysis
	err := scanAnalysis(r.db.Pool().QueryRow(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = $1`, id), &a)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return &a, nil
}

func (r *AnalysisRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Analysis, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT `+analysisColumns+` FROM analyses WHERE tenant_id = $1 ORDER BY started_at DESC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	analyses := make([]models.Analysis, 0)
	for rows.Next() {
		var a models.Analysis
		if err := scanAnalysis(rows, &a); err != nil {
			return nil, err
		}
		analyses = append(analyses, a)
	}
	return analyses, nil
}

func (r *AnalysisRepository) CreateRecommendations(ctx context.Context, tx pgx.Tx, recs []models.Recommendation) error {
	for i := range recs {
		rec := &recs[i]
		_, err := target(r.db, tx).Exec(ctx, `
			INSERT INTO recommendations (id, analysis_id, tenant_id, user_id, reason_code, current_sku_id, recommended_sku_id, estimated_savings_cents, status, decided_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, rec.ID, rec.AnalysisID, rec.TenantID, rec.UserID, rec.ReasonCode, rec.CurrentSkuID, rec.RecommendedSkuID, rec.EstimatedSavingsCents, rec.Status, rec.DecidedAt, rec.CreatedAt, rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("create recommendation: %w", err)
		}
	}
	return nil
}

func (r *AnalysisRepository) ListRecommendations(ctx context.Context, analysisID uuid.UUID) ([]models.Recommendation, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, analysis_id, tenant_id, user_id, reason_code, COALESCE(current_sku_id, ''), COALESCE(recommended_sku_id, ''), estimated_savings_cents, status, decided_at, created_at, updated_at
		FROM recommendations WHERE analysis_id = $1
	`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()

	recs := make([]models.Recommendation, 0)
	for rows.Next() {
		var rec models.Recommendation
		if err := rows.Scan(&rec.ID, &rec.AnalysisID, &rec.TenantID, &rec.UserID, &rec.ReasonCode, &rec.CurrentSkuID, &rec.RecommendedSkuID, &rec.EstimatedSavingsCents, &rec.Status, &rec.DecidedAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (r *AnalysisRepository) GetRecommendation(ctx context.Context, id uuid.UUID) (*models.Recommendation, error) {
	var rec models.Recommendation
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, analysis_id, tenant_id, user_id, reason_code, COALESCE(current_sku_id, ''), COALESCE(recommended_sku_id, ''), estimated_savings_cents, status, decided_at, created_at, updated_at
		FROM recommendations WHERE id = $1
	`, id).Scan(&rec.ID, &rec.AnalysisID, &rec.TenantID, &rec.UserID, &rec.ReasonCode, &rec.CurrentSkuID, &rec.RecommendedSkuID, &rec.EstimatedSavingsCents, &rec.Status, &rec.DecidedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get recommendation: %w", err)
	}
	return &rec, nil
}

// UpdateRecommendationStatus performs the pending->accepted/rejected
// transition atomically: the WHERE clause only matches a row still in
// pending, so two concurrent callers race on the affected-row count and
// only one ever succeeds (testable property: exactly one apply wins).
func (r *AnalysisRepository) UpdateRecommendationStatus(ctx context.Context, id uuid.UUID, fromStatus, toStatus string) (bool, error) {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE recommendations SET status = $1, decided_at = now(), updated_at = now() WHERE id = $2 AND status = $3
	`, toStatus, id, fromStatus)
	if err != nil {
		return false, fmt.Errorf("update recommendation status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
