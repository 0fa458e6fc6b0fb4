package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/digkill/SynergyHub/internal/models"
	"github.com/digkill/SynergyHub/internal/pricing"
	"github.com/digkill/SynergyHub/internal/provider"
)

const (
	maxCount          = 4
	backgroundTimeout = 5 * time.Minute
)

type GenerationService struct {
	catalog   *pricing.Catalog
	ledger    *LedgerService
	providers *provider.Registry
	artifacts *ArtifactService
	poller    *TaskPoller
	alerts    *alertSender
	log       *slog.Logger

	backgroundLimit int
	background      sync.WaitGroup
}

type GenerationRequest struct {
	Operation     models.OperationType
	Model         string
	Prompt        string
	InputImage    *provider.Attachment
	Mask          *provider.Attachment
	References    []provider.Attachment
	Width         int
	Height        int
	Count         int
	UpscaleFactor int
	Strength      float64
	Duration      int
	Sharpen       int
	SmartGrain    int
	OutputFormat  string
}

// GenerationResult is either a finished artifact (plus extras still being stored) or
// the handle of an asynchronous task.
type GenerationResult struct {
	Artifact         *models.StoredArtifact
	Pending          int
	Task             *models.GenerationTask
	CostCharged      decimal.Decimal
	CreditsRemaining decimal.Decimal
}

func NewGenerationService(catalog *pricing.Catalog, ledger *LedgerService, providers *provider.Registry, artifacts *ArtifactService, poller *TaskPoller, alerts Alerter, backgroundLimit int, log *slog.Logger) *GenerationService {
	if backgroundLimit <= 0 {
		backgroundLimit = 2
	}
	return &GenerationService{
		catalog:         catalog,
		ledger:          ledger,
		providers:       providers,
		artifacts:       artifacts,
		poller:          poller,
		alerts:          newAlertSender(alerts, log),
		log:             log,
		backgroundLimit: backgroundLimit,
	}
}

func validate(req *GenerationRequest) error {
	req.Model = strings.TrimSpace(req.Model)
	req.Prompt = strings.TrimSpace(req.Prompt)
	if !req.Operation.Valid() {
		return invalid("operationType", "unknown operation %q", req.Operation)
	}
	if req.Model == "" {
		return invalid("modelIdentifier", "is required")
	}
	switch req.Operation {
	case models.OperationImageGeneration, models.OperationVideoGeneration, models.OperationInpaint:
		if req.Prompt == "" {
			return invalid("prompt", "is required for %s", req.Operation)
		}
	}
	switch req.Operation {
	case models.OperationUpscale, models.OperationSkinEnhance, models.OperationInpaint:
		if req.InputImage == nil || len(req.InputImage.Data) == 0 {
			return invalid("image", "is required for %s", req.Operation)
		}
	}
	if req.Width < 0 || req.Height < 0 {
		return invalid("dimensions", "must not be negative")
	}
	if req.Count == 0 {
		req.Count = 1
	}
	if req.Count < 1 || req.Count > maxCount {
		return invalid("desiredCount", "must be between 1 and %d", maxCount)
	}
	if req.Operation != models.OperationImageGeneration && req.Count != 1 {
		return invalid("desiredCount", "only image generation supports multiple outputs")
	}
	if req.Operation == models.OperationUpscale {
		if req.UpscaleFactor == 0 {
			req.UpscaleFactor = 2
		}
		if req.UpscaleFactor < 2 || req.UpscaleFactor > 4 {
			return invalid("upscaleFactor", "must be between 2 and 4")
		}
		if req.Width == 0 || req.Height == 0 {
			return invalid("dimensions", "input width and height are required for upscale")
		}
	}
	if req.Strength < 0 || req.Strength > 1 {
		return invalid("strength", "must be between 0 and 1")
	}
	return nil
}

// Quote validates the request and prices it without charging.
func (s *GenerationService) Quote(req GenerationRequest) (pricing.Quote, error) {
	if err := validate(&req); err != nil {
		return pricing.Quote{}, err
	}
	return s.quote(req)
}

func (s *GenerationService) quote(req GenerationRequest) (pricing.Quote, error) {
	q, err := s.catalog.Quote(pricing.QuoteInput{
		Operation:     req.Operation,
		Model:         req.Model,
		Count:         req.Count,
		Width:         req.Width,
		Height:        req.Height,
		UpscaleFactor: req.UpscaleFactor,
	})
	if errors.Is(err, pricing.ErrImageTooLarge) {
		return pricing.Quote{}, invalid("dimensions", "output would exceed 4096px")
	}
	if err != nil {
		return pricing.Quote{}, invalid("operationType", "%v", err)
	}
	if req.InputImage != nil || len(req.References) > 0 {
		if !q.Descriptor.SupportsAttachment {
			return pricing.Quote{}, invalid("attachments", "model %s does not accept input images", req.Model)
		}
	}
	return q, nil
}

// Generate runs the full lifecycle: validate, price, charge, dispatch, then persist or
// hand off to the poller. Failures after the charge are refunded.
func (s *GenerationService) Generate(ctx context.Context, userID string, req GenerationRequest) (*GenerationResult, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}
	q, err := s.quote(req)
	if err != nil {
		return nil, err
	}
	adapter, ok := s.providers.Get(q.Descriptor.Provider)
	if !ok {
		return nil, invalid("modelIdentifier", "provider %s is not configured", q.Descriptor.Provider)
	}

	auth, err := s.ledger.Charge(ctx, ChargeInput{
		UserID:       userID,
		Operation:    req.Operation,
		Model:        req.Model,
		Cost:         q.Credits,
		ProviderCost: q.ProviderCost,
		Description:  req.Prompt,
	})
	if err != nil {
		return nil, err
	}

	out, err := adapter.Submit(ctx, provider.Request{
		Operation:     req.Operation,
		Model:         req.Model,
		Prompt:        req.Prompt,
		Width:         req.Width,
		Height:        req.Height,
		Count:         req.Count,
		InputImage:    req.InputImage,
		Mask:          req.Mask,
		References:    req.References,
		UpscaleFactor: req.UpscaleFactor,
		Strength:      req.Strength,
		Duration:      req.Duration,
		Sharpen:       req.Sharpen,
		SmartGrain:    req.SmartGrain,
		OutputFormat:  req.OutputFormat,
	})
	if err != nil {
		var perr *provider.Error
		if !errors.As(err, &perr) {
			perr = &provider.Error{Provider: adapter.Name(), Message: err.Error()}
		}
		s.log.Error("provider call failed", "provider", adapter.Name(), "model", req.Model, "user_id", userID, "err", err)
		s.refund(ctx, auth, auth.Cost, "provider error: "+perr.Message)
		return nil, perr
	}

	result := &GenerationResult{CostCharged: auth.Cost}
	if out.Async() {
		task := &models.GenerationTask{
			Provider:       adapter.Name(),
			ProviderTaskID: out.TaskID,
			OwnerID:        userID,
			Operation:      req.Operation,
			Model:          req.Model,
			Prompt:         req.Prompt,
			Cost:           auth.Cost,
			ChargeID:       auth.ChargeID,
			Legacy:         auth.Legacy,
		}
		if err := s.poller.Track(ctx, task); err != nil {
			s.refund(ctx, auth, auth.Cost, "task tracking failed")
			return nil, err
		}
		result.Task = task
	} else {
		if err := s.persistOutputs(ctx, userID, req, q, auth, out.Images, result); err != nil {
			return nil, err
		}
	}

	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		s.log.Warn("failed to read balance after generation", "user_id", userID, "err", err)
	}
	result.CreditsRemaining = balance
	return result, nil
}

func (s *GenerationService) persistOutputs(ctx context.Context, userID string, req GenerationRequest, q pricing.Quote, auth *Authorization, images []provider.Image, result *GenerationResult) error {
	if len(images) == 0 {
		s.refund(ctx, auth, auth.Cost, "provider returned no results")
		return &provider.Error{Provider: q.Descriptor.Provider, Message: "no results returned"}
	}
	if len(images) > q.Units {
		s.log.Warn("provider returned more results than charged", "model", req.Model, "charged", q.Units, "returned", len(images))
		images = images[:q.Units]
	}
	if missing := q.Units - len(images); missing > 0 {
		s.refund(ctx, auth, q.UnitCredits.Mul(decimal.NewFromInt(int64(missing))), fmt.Sprintf("provider returned %d of %d results", len(images), q.Units))
	}

	input := func(img provider.Image) PersistInput {
		return PersistInput{OwnerID: userID, Image: img, Prompt: req.Prompt, Operation: req.Operation, Model: req.Model}
	}
	first, err := s.artifacts.Persist(ctx, input(images[0]))
	if err != nil {
		s.log.Error("failed to persist result", "user_id", userID, "model", req.Model, "err", err)
		s.refund(ctx, auth, auth.Cost, "result could not be stored")
		return &PersistenceError{Err: err}
	}
	result.Artifact = first

	if extra := images[1:]; len(extra) > 0 {
		result.Pending = len(extra)
		inputs := make([]PersistInput, 0, len(extra))
		for _, img := range extra {
			inputs = append(inputs, input(img))
		}
		s.persistInBackground(ctx, auth, q.UnitCredits, inputs)
	}
	return nil
}

// persistInBackground stores extra results after the response has been sent. Each
// failed result refunds one unit.
func (s *GenerationService) persistInBackground(ctx context.Context, auth *Authorization, unit decimal.Decimal, inputs []PersistInput) {
	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer cancel()

		var g errgroup.Group
		g.SetLimit(s.backgroundLimit)
		for _, in := range inputs {
			g.Go(func() error {
				if _, err := s.artifacts.Persist(bgCtx, in); err != nil {
					s.log.Error("background persist failed", "user_id", in.OwnerID, "model", in.Model, "err", err)
					s.refund(bgCtx, auth, unit, "extra result could not be stored")
					return err
				}
				return nil
			})
		}
		if err := g.Wait(); err == nil {
			s.log.Info("background results stored", "user_id", auth.UserID, "count", len(inputs))
		}
	}()
}

// Drain blocks until background persistence and pending alerts have finished.
func (s *GenerationService) Drain() {
	s.background.Wait()
	s.alerts.wait()
}

func (s *GenerationService) refund(ctx context.Context, auth *Authorization, amount decimal.Decimal, reason string) {
	refunded, err := s.ledger.RefundAmount(context.WithoutCancel(ctx), auth, amount, reason)
	if err != nil {
		s.log.Error("refund failed", "user_id", auth.UserID, "charge_id", auth.ChargeID, "err", err)
		s.alerts.send(fmt.Sprintf("REFUND FAILED for user %s (usage #%d, %s credits): %s: %v",
			auth.UserID, auth.ChargeID, amount.String(), reason, err))
		return
	}
	if !refunded.IsPositive() {
		return
	}
	s.alerts.send(fmt.Sprintf("refunded %s credits to user %s for %s (%s): %s",
		refunded.String(), auth.UserID, auth.Operation, auth.Model, reason))
}
