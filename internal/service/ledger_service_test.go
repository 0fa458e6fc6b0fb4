package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/digkill/SynergyHub/internal/models"
	"github.com/digkill/SynergyHub/internal/provider"
	"github.com/digkill/SynergyHub/internal/repository"
)

func chargeInput(userID, cost string) ChargeInput {
	return ChargeInput{
		UserID:    userID,
		Operation: models.OperationImageGeneration,
		Model:     "runware:100@1",
		Cost:      decimal.RequireFromString(cost),
	}
}

func TestLedger_ChargeSequence(t *testing.T) {
	h := newHarness(t, PollerConfig{}, nil)
	h.account(t, "u1", "10", false)
	ctx := context.Background()

	for _, cost := range []string{"1", "1.5", "0.005", "2"} {
		if _, err := h.ledger.Charge(ctx, chargeInput("u1", cost)); err != nil {
			t.Fatalf("Charge(%s): %v", cost, err)
		}
	}
	if got := h.balance(t, "u1"); !got.Equal(decimal.RequireFromString("5.495")) {
		t.Errorf("balance = %s, want 5.495", got)
	}
	if n := h.count(t, "u1", models.UsageKindCharge); n != 4 {
		t.Errorf("charge records = %d, want 4", n)
	}
}

func TestLedger_ExactBalanceAndEpsilon(t *testing.T) {
	h := newHarness(t, PollerConfig{}, nil)
	h.account(t, "exact", "2", false)
	h.account(t, "short", "2", false)
	ctx := context.Background()

	if _, err := h.ledger.Charge(ctx, chargeInput("exact", "2")); err != nil {
		t.Fatalf("exact charge: %v", err)
	}
	if got := h.balance(t, "exact"); !got.IsZero() {
		t.Errorf("balance = %s, want 0", got)
	}

	_, err := h.ledger.Charge(ctx, chargeInput("short", "2.0001"))
	var denied *InsufficientCreditsError
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want denial", err)
	}
	if got := h.balance(t, "short"); !got.Equal(decimal.NewFromInt(2)) {
		t.Errorf("balance = %s, want 2", got)
	}
}

func TestLedger_ConcurrentChargesAuthorizeOnce(t *testing.T) {
	h := newHarness(t, PollerConfig{}, nil)
	h.account(t, "u1", "1", false)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = h.ledger.Charge(context.Background(), chargeInput("u1", "1"))
		}()
	}
	wg.Wait()

	var authorized int
	for _, err := range results {
		if err == nil {
			authorized++
		}
	}
	if authorized != 1 {
		t.Errorf("authorized = %d, want exactly 1 (%v)", authorized, results)
	}
	if got := h.balance(t, "u1"); !got.IsZero() {
		t.Errorf("balance = %s, want 0", got)
	}
}

func TestLedger_RefundAmountIsCapped(t *testing.T) {
	h := newHarness(t, PollerConfig{}, nil)
	h.account(t, "u1", "5", false)
	ctx := context.Background()

	auth, err := h.ledger.Charge(ctx, chargeInput("u1", "2"))
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	refunded, err := h.ledger.RefundAmount(ctx, auth, decimal.NewFromInt(10), "oversized")
	if err != nil {
		t.Fatalf("RefundAmount: %v", err)
	}
	if !refunded.Equal(decimal.NewFromInt(2)) {
		t.Errorf("refunded = %s, want 2", refunded)
	}
	if got := h.balance(t, "u1"); !got.Equal(decimal.NewFromInt(5)) {
		t.Errorf("balance = %s, want 5", got)
	}
	if _, err := h.ledger.RefundAmount(ctx, auth, decimal.Zero, "nothing"); err != nil {
		t.Errorf("zero refund: %v", err)
	}
	if n := h.count(t, "u1", models.UsageKindRefund); n != 1 {
		t.Errorf("refund records = %d, want 1", n)
	}
}

func TestLedger_RefundsNeverExceedTheCharge(t *testing.T) {
	h := newHarness(t, PollerConfig{}, nil)
	h.account(t, "u1", "10", false)
	ctx := context.Background()

	auth, err := h.ledger.Charge(ctx, chargeInput("u1", "4"))
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if _, err := h.ledger.RefundAmount(ctx, auth, decimal.NewFromInt(2), "two results missing"); err != nil {
		t.Fatalf("RefundAmount: %v", err)
	}
	if err := h.ledger.Refund(ctx, auth, "storage down"); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	refunded, err := h.ledger.RefundAmount(ctx, auth, decimal.NewFromInt(1), "late failure")
	if err != nil || !refunded.IsZero() {
		t.Errorf("refund after full refund = %s (%v), want 0", refunded, err)
	}
	if got := h.balance(t, "u1"); !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("balance = %s, want 10", got)
	}
	if n := h.count(t, "u1", models.UsageKindRefund); n != 2 {
		t.Errorf("refund records = %d, want 2", n)
	}
}

func TestLedger_LegacyBalanceNeverChanges(t *testing.T) {
	h := newHarness(t, PollerConfig{}, nil)
	h.account(t, "old", "3", true)
	ctx := context.Background()

	auth, err := h.ledger.Charge(ctx, chargeInput("old", "100"))
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if !auth.Legacy || !auth.Cost.IsZero() {
		t.Errorf("auth = %+v", auth)
	}
	if err := h.ledger.Refund(ctx, auth, "provider down"); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if got := h.balance(t, "old"); !got.Equal(decimal.NewFromInt(3)) {
		t.Errorf("balance = %s, want 3", got)
	}
}

func TestLedger_GrantAndEnsure(t *testing.T) {
	h := newHarness(t, PollerConfig{}, nil)
	ctx := context.Background()

	account, created, err := h.ledger.Ensure(ctx, "new", decimal.NewFromInt(2))
	if err != nil || !created || !account.CreditsRemaining.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("Ensure = %+v, %v, %v", account, created, err)
	}
	if _, created, _ := h.ledger.Ensure(ctx, "new", decimal.NewFromInt(2)); created {
		t.Error("second Ensure must not create")
	}

	var verr *ValidationError
	if err := h.ledger.Grant(ctx, "new", decimal.Zero, "nothing"); !errors.As(err, &verr) {
		t.Errorf("zero grant err = %v", err)
	}
	if err := h.ledger.Grant(ctx, "new", decimal.RequireFromString("0.5"), "support"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if got := h.balance(t, "new"); !got.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("balance = %s, want 2.5", got)
	}
	if err := h.ledger.Grant(ctx, "ghost", decimal.NewFromInt(1), "x"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("grant to missing profile err = %v", err)
	}

	records, err := h.ledger.Usage(ctx, "new", 0)
	if err != nil || len(records) != 2 || records[0].InputDescription != "support" {
		t.Errorf("usage = %+v (%v)", records, err)
	}
}

func TestVoucherService_Redeem(t *testing.T) {
	h := newHarness(t, PollerConfig{}, nil)
	h.account(t, "u1", "0", false)
	h.account(t, "u2", "0", false)
	ctx := context.Background()
	vouchers := NewVoucherService(repository.NewVoucherRepository(h.accounts.DB()))

	var verr *ValidationError
	if _, err := vouchers.Create(ctx, &models.Voucher{Code: "x", Credits: decimal.Zero, MaxUses: 1}); !errors.As(err, &verr) {
		t.Errorf("zero-credit voucher err = %v", err)
	}
	v, err := vouchers.Create(ctx, &models.Voucher{Code: " launch ", Credits: decimal.NewFromInt(5), MaxUses: 1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if v.Code != "LAUNCH" {
		t.Errorf("code = %q, want LAUNCH", v.Code)
	}

	if _, err := vouchers.Redeem(ctx, "u1", "launch"); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if got := h.balance(t, "u1"); !got.Equal(decimal.NewFromInt(5)) {
		t.Errorf("balance = %s, want 5", got)
	}
	if _, err := vouchers.Redeem(ctx, "u1", "LAUNCH"); !errors.Is(err, ErrVoucherAlreadyRedeemed) {
		t.Errorf("second redeem err = %v", err)
	}
	if _, err := vouchers.Redeem(ctx, "u2", "LAUNCH"); !errors.Is(err, ErrVoucherExhausted) {
		t.Errorf("exhausted redeem err = %v", err)
	}
	if _, err := vouchers.Redeem(ctx, "u2", "NOPE"); !errors.Is(err, ErrVoucherInvalid) {
		t.Errorf("unknown code err = %v", err)
	}
}

func TestArtifactService_VisibilityAndDelete(t *testing.T) {
	adapter := syncAdapter("runware", func(provider.Request) (*provider.Output, error) {
		return &provider.Output{Images: images(1)}, nil
	})
	h := newHarness(t, PollerConfig{}, nil, adapter)
	h.account(t, "u1", "5", false)
	ctx := context.Background()

	res, err := h.gen.Generate(ctx, "u1", imageRequest(1))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	id := res.Artifact.ID

	var verr *ValidationError
	if err := h.artifacts.SetVisibility(ctx, "u1", id, "secret"); !errors.As(err, &verr) {
		t.Errorf("bad visibility err = %v", err)
	}
	if err := h.artifacts.SetVisibility(ctx, "u2", id, models.VisibilityPublic); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("foreign visibility err = %v", err)
	}
	if err := h.artifacts.SetVisibility(ctx, "u1", id, models.VisibilityPublic); err != nil {
		t.Fatalf("SetVisibility: %v", err)
	}

	if err := h.artifacts.Delete(ctx, "u2", id); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("foreign delete err = %v", err)
	}
	if err := h.artifacts.Delete(ctx, "u1", id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(h.objects.deleted) != 1 || h.objects.deleted[0] != res.Artifact.StoragePath {
		t.Errorf("deleted objects = %v", h.objects.deleted)
	}
	history, err := h.artifacts.List(ctx, "u1", 10)
	if err != nil || len(history) != 0 {
		t.Errorf("history = %v (%v)", history, err)
	}
}

func TestArtifactService_PersistRejectsUnknownContent(t *testing.T) {
	h := newHarness(t, PollerConfig{}, nil)
	h.account(t, "u1", "0", false)

	_, err := h.artifacts.Persist(context.Background(), PersistInput{
		OwnerID: "u1",
		Image:   provider.Image{Data: []byte("plain text body"), ContentType: "text/plain"},
	})
	if err == nil {
		t.Fatal("expected unsupported content error")
	}
	if len(h.objects.keys) != 0 {
		t.Errorf("nothing should be uploaded, got %v", h.objects.keys)
	}
}
