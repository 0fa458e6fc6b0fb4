package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/digkill/SynergyHub/internal/repository"
)

var (
	ErrAccountNotFound  = repository.ErrAccountNotFound
	ErrTaskNotFound     = errors.New("task not found")
	ErrArtifactNotFound = errors.New("artifact not found")
)

// ValidationError is returned before any credit interaction.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientCreditsError reports a denied charge. Nothing was written.
type InsufficientCreditsError struct {
	Balance decimal.Decimal
	Cost    decimal.Decimal
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %s, required %s", e.Balance.String(), e.Cost.String())
}

// PersistenceError means the generation succeeded but its result could not be stored.
// The charge has been refunded when this is returned.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return "persist result: " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Alerter notifies operators. Failures are logged by callers and never block a request.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}
