package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/digkill/SynergyHub/internal/models"
)

// ErrImageTooLarge is returned when an upscale would exceed the largest priced tier.
var ErrImageTooLarge = errors.New("image too large to upscale")

var upscaleTiers = []struct {
	maxSide int
	credits decimal.Decimal
}{
	{1024, decimal.RequireFromString("0.005")},
	{2048, decimal.RequireFromString("0.01")},
	{4096, decimal.RequireFromString("0.02")},
}

// UpscaleCost prices an upscale by the longest side of the output image.
func UpscaleCost(width, height int) (decimal.Decimal, error) {
	side := max(width, height)
	for _, tier := range upscaleTiers {
		if side <= tier.maxSide {
			return tier.credits, nil
		}
	}
	return decimal.Zero, ErrImageTooLarge
}

// VideoCost prices a video generation with the embedded catalog.
func VideoCost(model string) decimal.Decimal {
	return defaultCatalog.VideoCost(model)
}

func (c *Catalog) VideoCost(model string) decimal.Decimal {
	return c.Lookup(models.OperationVideoGeneration, model).Credits
}

// ImageCost prices count images of the given model; the cost is linear in count.
func (c *Catalog) ImageCost(model string, count int) decimal.Decimal {
	unit := c.Lookup(models.OperationImageGeneration, model).Credits
	return unit.Mul(decimal.NewFromInt(int64(max(count, 1))))
}

type QuoteInput struct {
	Operation     models.OperationType
	Model         string
	Count         int
	Width         int
	Height        int
	UpscaleFactor int
}

type Quote struct {
	Descriptor   Descriptor
	Units        int
	UnitCredits  decimal.Decimal
	Credits      decimal.Decimal
	ProviderCost decimal.Decimal
}

// Quote resolves the descriptor and total credits for a request.
func (c *Catalog) Quote(in QuoteInput) (Quote, error) {
	if !in.Operation.Valid() {
		return Quote{}, fmt.Errorf("unknown operation %q", in.Operation)
	}
	d := c.Lookup(in.Operation, in.Model)
	q := Quote{Descriptor: d, Units: 1, UnitCredits: d.Credits}

	switch in.Operation {
	case models.OperationImageGeneration:
		q.Units = max(in.Count, 1)
	case models.OperationUpscale:
		factor := max(in.UpscaleFactor, 1)
		unit, err := UpscaleCost(in.Width*factor, in.Height*factor)
		if err != nil {
			return Quote{}, err
		}
		q.UnitCredits = unit
	}

	units := decimal.NewFromInt(int64(q.Units))
	q.Credits = q.UnitCredits.Mul(units)
	q.ProviderCost = d.ProviderCost.Mul(units)
	return q, nil
}
