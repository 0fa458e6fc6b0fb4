package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/digkill/SynergyHub/internal/models"
)

// UsageRepository reads and appends to the usage log. Rows are never updated.
type UsageRepository struct {
	db *sql.DB
}

func NewUsageRepository(db *sql.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertUsage(ctx context.Context, db execer, rec *models.UsageRecord) error {
	const query = `
INSERT INTO usage_logs (user_id, kind, operation_type, model_identifier, cost_charged, provider_cost, input_description, created_at)
VALUES (?, ?, ?, ?, CAST(? AS DECIMAL(14,4)), ?, ?, ?)`
	res, err := db.ExecContext(ctx, query, rec.UserID, rec.Kind, rec.OperationType, rec.ModelIdentifier,
		rec.CostCharged, rec.ProviderCost, rec.InputDescription, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("usage last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// Append writes a record without touching any balance. Used for legacy accounts.
func (r *UsageRepository) Append(ctx context.Context, rec *models.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return insertUsage(ctx, r.db, rec)
}

func (r *UsageRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.UsageRecord, error) {
	const query = `
SELECT id, user_id, kind, operation_type, model_identifier, cost_charged, provider_cost, input_description, created_at
FROM usage_logs WHERE user_id = ?
ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var rec models.UsageRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Kind, &rec.OperationType, &rec.ModelIdentifier,
			&rec.CostCharged, &rec.ProviderCost, &rec.InputDescription, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountByKind returns how many records of kind exist for a user.
func (r *UsageRepository) CountByKind(ctx context.Context, userID string, kind models.UsageKind) (int, error) {
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM usage_logs WHERE user_id = ? AND kind = ?`, userID, kind)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return count, nil
}
