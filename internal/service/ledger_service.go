package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/digkill/SynergyHub/internal/models"
	"github.com/digkill/SynergyHub/internal/repository"
)

const maxDescriptionLen = 500

// LedgerService is the only writer of credit balances.
type LedgerService struct {
	accounts *repository.AccountRepository
	usage    *repository.UsageRepository
	log      *slog.Logger
}

func NewLedgerService(accounts *repository.AccountRepository, usage *repository.UsageRepository, log *slog.Logger) *LedgerService {
	return &LedgerService{accounts: accounts, usage: usage, log: log}
}

type ChargeInput struct {
	UserID       string
	Operation    models.OperationType
	Model        string
	Cost         decimal.Decimal
	ProviderCost decimal.Decimal
	Description  string
}

// Authorization is the receipt of a successful charge. Refunds are issued against it
// and their sum never exceeds Cost.
type Authorization struct {
	UserID    string
	Operation models.OperationType
	Model     string
	Cost      decimal.Decimal
	ChargeID  int64
	Legacy    bool

	mu       sync.Mutex
	refunded decimal.Decimal
}

// Charge deducts in.Cost and records the usage in one step. Legacy accounts are
// authorized without touching the balance.
func (s *LedgerService) Charge(ctx context.Context, in ChargeInput) (*Authorization, error) {
	account, err := s.accounts.Get(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}

	rec := &models.UsageRecord{
		UserID:           in.UserID,
		Kind:             models.UsageKindCharge,
		OperationType:    in.Operation,
		ModelIdentifier:  in.Model,
		CostCharged:      in.Cost,
		ProviderCost:     in.ProviderCost,
		InputDescription: truncate(in.Description, maxDescriptionLen),
	}

	if account.IsLegacyUser {
		rec.CostCharged = decimal.Zero
		if err := s.usage.Append(ctx, rec); err != nil {
			return nil, fmt.Errorf("record legacy usage: %w", err)
		}
		return &Authorization{UserID: in.UserID, Operation: in.Operation, Model: in.Model, Cost: decimal.Zero, ChargeID: rec.ID, Legacy: true}, nil
	}

	ok, err := s.accounts.Consume(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("charge credits: %w", err)
	}
	if !ok {
		balance := account.CreditsRemaining
		if current, err := s.accounts.Get(ctx, in.UserID); err == nil && current != nil {
			balance = current.CreditsRemaining
		}
		return nil, &InsufficientCreditsError{Balance: balance, Cost: in.Cost}
	}

	s.log.Info("credits charged", "user_id", in.UserID, "operation", in.Operation, "model", in.Model, "cost", in.Cost.String(), "usage_id", rec.ID)
	return &Authorization{UserID: in.UserID, Operation: in.Operation, Model: in.Model, Cost: in.Cost, ChargeID: rec.ID}, nil
}

// Refund returns whatever part of the authorization has not been refunded yet.
func (s *LedgerService) Refund(ctx context.Context, auth *Authorization, reason string) error {
	if auth == nil {
		return nil
	}
	_, err := s.RefundAmount(ctx, auth, auth.Cost, reason)
	return err
}

// RefundAmount returns part of an authorization, e.g. one image of a batch. The amount
// is capped by what is still unrefunded; the credited amount is returned.
func (s *LedgerService) RefundAmount(ctx context.Context, auth *Authorization, amount decimal.Decimal, reason string) (decimal.Decimal, error) {
	if auth == nil || auth.Legacy || !amount.IsPositive() {
		return decimal.Zero, nil
	}
	auth.mu.Lock()
	defer auth.mu.Unlock()
	amount = decimal.Min(amount, auth.Cost.Sub(auth.refunded))
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}
	rec := &models.UsageRecord{
		UserID:           auth.UserID,
		Kind:             models.UsageKindRefund,
		OperationType:    auth.Operation,
		ModelIdentifier:  auth.Model,
		CostCharged:      amount,
		InputDescription: truncate(fmt.Sprintf("refund of usage #%d: %s", auth.ChargeID, reason), maxDescriptionLen),
	}
	if err := s.accounts.Credit(ctx, rec); err != nil {
		return decimal.Zero, fmt.Errorf("refund credits: %w", err)
	}
	auth.refunded = auth.refunded.Add(amount)
	s.log.Info("credits refunded", "user_id", auth.UserID, "amount", amount.String(), "charge_id", auth.ChargeID, "reason", reason)
	return amount, nil
}

func (s *LedgerService) Grant(ctx context.Context, userID string, credits decimal.Decimal, description string) error {
	if !credits.IsPositive() {
		return invalid("credits", "must be positive")
	}
	rec := &models.UsageRecord{
		UserID:           userID,
		Kind:             models.UsageKindGrant,
		CostCharged:      credits,
		InputDescription: truncate(description, maxDescriptionLen),
	}
	if err := s.accounts.Credit(ctx, rec); err != nil {
		return fmt.Errorf("grant credits: %w", err)
	}
	return nil
}

func (s *LedgerService) Account(ctx context.Context, userID string) (*models.UserAccount, error) {
	account, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

func (s *LedgerService) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	account, err := s.Account(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.CreditsRemaining, nil
}

func (s *LedgerService) Usage(ctx context.Context, userID string, limit int) ([]models.UsageRecord, error) {
	records, err := s.usage.ListByUser(ctx, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	return records, nil
}

// Ensure creates the profile on first sign-in with the configured signup bonus.
func (s *LedgerService) Ensure(ctx context.Context, userID string, signupCredits decimal.Decimal) (*models.UserAccount, bool, error) {
	account, created, err := s.accounts.Ensure(ctx, userID, signupCredits)
	if err != nil {
		return nil, false, fmt.Errorf("ensure profile: %w", err)
	}
	return account, created, nil
}

func (s *LedgerService) CreateAccount(ctx context.Context, userID string, legacy bool, credits decimal.Decimal) (*models.UserAccount, error) {
	if credits.IsNegative() {
		return nil, invalid("credits", "must not be negative")
	}
	account, err := s.accounts.Create(ctx, userID, legacy, credits, "opening balance")
	if err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	return account, nil
}

func (s *LedgerService) SetLegacy(ctx context.Context, userID string, legacy bool) error {
	return s.accounts.SetLegacy(ctx, userID, legacy)
}

func (s *LedgerService) ListAccounts(ctx context.Context, limit int) ([]models.UserAccount, error) {
	accounts, err := s.accounts.List(ctx, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return accounts, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return min(limit, 500)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
