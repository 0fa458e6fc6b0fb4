package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/digkill/SynergyHub/internal/models"
	"github.com/digkill/SynergyHub/internal/repository"
)

var (
	ErrVoucherInvalid         = repository.ErrVoucherInvalid
	ErrVoucherExhausted       = repository.ErrVoucherExhausted
	ErrVoucherAlreadyRedeemed = repository.ErrVoucherAlreadyRedeemed
)

type VoucherService struct {
	vouchers *repository.VoucherRepository
}

func NewVoucherService(vouchers *repository.VoucherRepository) *VoucherService {
	return &VoucherService{vouchers: vouchers}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Redeem credits the voucher value once per user.
func (s *VoucherService) Redeem(ctx context.Context, userID, code string) (*models.UsageRecord, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, invalid("code", "is required")
	}
	rec, err := s.vouchers.Redeem(ctx, userID, code)
	if err != nil {
		return nil, fmt.Errorf("redeem voucher: %w", err)
	}
	return rec, nil
}

func (s *VoucherService) List(ctx context.Context) ([]models.Voucher, error) {
	return s.vouchers.List(ctx)
}

func (s *VoucherService) Create(ctx context.Context, v *models.Voucher) (*models.Voucher, error) {
	if err := validateVoucher(v); err != nil {
		return nil, err
	}
	return s.vouchers.Create(ctx, v)
}

func (s *VoucherService) Update(ctx context.Context, v *models.Voucher) (*models.Voucher, error) {
	if err := validateVoucher(v); err != nil {
		return nil, err
	}
	existing, err := s.vouchers.GetByID(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrVoucherInvalid
	}
	return s.vouchers.Update(ctx, v)
}

func (s *VoucherService) Delete(ctx context.Context, id int64) error {
	return s.vouchers.Delete(ctx, id)
}

func validateVoucher(v *models.Voucher) error {
	v.Code = normalizeCode(v.Code)
	switch {
	case v.Code == "":
		return invalid("code", "is required")
	case !v.Credits.IsPositive():
		return invalid("credits", "must be positive")
	case v.MaxUses < 1:
		return invalid("maxUses", "must be at least 1")
	}
	return nil
}
