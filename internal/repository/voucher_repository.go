package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/SynergyHub/internal/models"
)

var (
	ErrVoucherInvalid         = errors.New("voucher code invalid")
	ErrVoucherExhausted       = errors.New("voucher code exhausted")
	ErrVoucherAlreadyRedeemed = errors.New("voucher code already redeemed")
)

type VoucherRepository struct {
	db *sql.DB
}

func NewVoucherRepository(db *sql.DB) *VoucherRepository {
	return &VoucherRepository{db: db}
}

const voucherColumns = `id, code, credits, max_uses, uses, created_at`

func scanVoucher(row interface{ Scan(...any) error }) (*models.Voucher, error) {
	var v models.Voucher
	if err := row.Scan(&v.ID, &v.Code, &v.Credits, &v.MaxUses, &v.Uses, &v.CreatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *VoucherRepository) GetByCode(ctx context.Context, code string) (*models.Voucher, error) {
	v, err := scanVoucher(r.db.QueryRowContext(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE code = ?`, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan voucher: %w", err)
	}
	return v, nil
}

func (r *VoucherRepository) GetByID(ctx context.Context, id int64) (*models.Voucher, error) {
	v, err := scanVoucher(r.db.QueryRowContext(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get voucher by id: %w", err)
	}
	return v, nil
}

func (r *VoucherRepository) List(ctx context.Context) ([]models.Voucher, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+voucherColumns+` FROM vouchers ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list vouchers: %w", err)
	}
	defer rows.Close()

	var vouchers []models.Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, fmt.Errorf("scan voucher list: %w", err)
		}
		vouchers = append(vouchers, *v)
	}
	return vouchers, rows.Err()
}

func (r *VoucherRepository) Create(ctx context.Context, v *models.Voucher) (*models.Voucher, error) {
	const query = `
INSERT INTO vouchers (code, credits, max_uses, uses, created_at)
VALUES (?, CAST(? AS DECIMAL(14,4)), ?, 0, ?)`
	res, err := r.db.ExecContext(ctx, query, v.Code, v.Credits, v.MaxUses, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("create voucher: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("voucher last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *VoucherRepository) Update(ctx context.Context, v *models.Voucher) (*models.Voucher, error) {
	const query = `
UPDATE vouchers
SET code = ?, credits = CAST(? AS DECIMAL(14,4)), max_uses = ?
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, v.Code, v.Credits, v.MaxUses, v.ID); err != nil {
		return nil, fmt.Errorf("update voucher: %w", err)
	}
	return r.GetByID(ctx, v.ID)
}

func (r *VoucherRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM vouchers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete voucher: %w", err)
	}
	return nil
}

// Redeem claims one use of the voucher for userID and credits its value, all in one
// transaction. It returns the grant record.
func (r *VoucherRepository) Redeem(ctx context.Context, userID, code string) (*models.UsageRecord, error) {
	voucher, err := r.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if voucher == nil {
		return nil, ErrVoucherInvalid
	}

	now := time.Now().UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var dummy int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM voucher_redemptions WHERE user_id = ? AND voucher_id = ?`, userID, voucher.ID).Scan(&dummy)
	switch {
	case err == nil:
		return nil, ErrVoucherAlreadyRedeemed
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("check redemption: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE vouchers SET uses = uses + 1 WHERE id = ? AND uses < max_uses`, voucher.ID)
	if err != nil {
		return nil, fmt.Errorf("increment voucher uses: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("voucher rows affected: %w", err)
	} else if affected == 0 {
		return nil, ErrVoucherExhausted
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO voucher_redemptions (user_id, voucher_id, created_at) VALUES (?, ?, ?)`, userID, voucher.ID, now); err != nil {
		return nil, fmt.Errorf("insert redemption: %w", err)
	}

	rec := &models.UsageRecord{
		UserID:           userID,
		Kind:             models.UsageKindGrant,
		CostCharged:      voucher.Credits,
		InputDescription: "voucher " + voucher.Code,
	}
	if err := creditTx(ctx, tx, rec, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit voucher tx: %w", err)
	}
	return rec, nil
}
