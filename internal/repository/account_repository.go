package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/SynergyHub/internal/models"
)

var ErrAccountNotFound = errors.New("profile not found")

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) DB() *sql.DB {
	return r.db
}

const accountColumns = `id, is_legacy_user, credits_remaining, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.UserAccount, error) {
	var a models.UserAccount
	var legacy int
	if err := row.Scan(&a.ID, &legacy, &a.CreditsRemaining, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.IsLegacyUser = legacy != 0
	return &a, nil
}

func (r *AccountRepository) Get(ctx context.Context, id string) (*models.UserAccount, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM profiles WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) List(ctx context.Context, limit int) ([]models.UserAccount, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM profiles ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var accounts []models.UserAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile list: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// Create inserts a profile. A positive opening balance is recorded as a grant in the
// same transaction.
func (r *AccountRepository) Create(ctx context.Context, id string, legacy bool, credits decimal.Decimal, description string) (*models.UserAccount, error) {
	now := time.Now().UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const query = `
INSERT INTO profiles (id, is_legacy_user, credits_remaining, created_at, updated_at)
VALUES (?, ?, CAST(? AS DECIMAL(14,4)), ?, ?)`
	if _, err := tx.ExecContext(ctx, query, id, boolInt(legacy), credits, now, now); err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	if credits.IsPositive() {
		rec := &models.UsageRecord{
			UserID:           id,
			Kind:             models.UsageKindGrant,
			CostCharged:      credits,
			InputDescription: description,
			CreatedAt:        now,
		}
		if err := insertUsage(ctx, tx, rec); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit profile: %w", err)
	}
	return &models.UserAccount{ID: id, IsLegacyUser: legacy, CreditsRemaining: credits, CreatedAt: now, UpdatedAt: now}, nil
}

// Ensure returns the profile for id, creating it with the signup balance when missing.
func (r *AccountRepository) Ensure(ctx context.Context, id string, signupCredits decimal.Decimal) (*models.UserAccount, bool, error) {
	account, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if account != nil {
		return account, false, nil
	}
	created, err := r.Create(ctx, id, false, signupCredits, "signup bonus")
	if err != nil {
		// Lost a race with a concurrent signup.
		if existing, getErr := r.Get(ctx, id); getErr == nil && existing != nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	return created, true, nil
}

// Consume atomically deducts rec.CostCharged and appends rec. It reports false, writing
// nothing, when the balance does not cover the cost.
func (r *AccountRepository) Consume(ctx context.Context, rec *models.UsageRecord) (bool, error) {
	now := time.Now().UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const query = `
UPDATE profiles SET credits_remaining = credits_remaining - CAST(? AS DECIMAL(14,4)), updated_at = ?
WHERE id = ? AND credits_remaining >= CAST(? AS DECIMAL(14,4))`
	res, err := tx.ExecContext(ctx, query, rec.CostCharged, now, rec.UserID, rec.CostCharged)
	if err != nil {
		return false, fmt.Errorf("consume credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	rec.Kind = models.UsageKindCharge
	rec.CreatedAt = now
	if err := insertUsage(ctx, tx, rec); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit charge: %w", err)
	}
	return true, nil
}

// Credit adds rec.CostCharged to the balance and appends rec (a refund or a grant).
func (r *AccountRepository) Credit(ctx context.Context, rec *models.UsageRecord) error {
	now := time.Now().UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := creditTx(ctx, tx, rec, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credit: %w", err)
	}
	return nil
}

func creditTx(ctx context.Context, tx *sql.Tx, rec *models.UsageRecord, now time.Time) error {
	const query = `
UPDATE profiles SET credits_remaining = credits_remaining + CAST(? AS DECIMAL(14,4)), updated_at = ?
WHERE id = ?`
	res, err := tx.ExecContext(ctx, query, rec.CostCharged, now, rec.UserID)
	if err != nil {
		return fmt.Errorf("credit profile: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credit rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	rec.CreatedAt = now
	return insertUsage(ctx, tx, rec)
}

func (r *AccountRepository) SetLegacy(ctx context.Context, id string, legacy bool) error {
	const query = `UPDATE profiles SET is_legacy_user = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, boolInt(legacy), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set legacy: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
