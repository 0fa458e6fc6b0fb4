// Package tasks keeps GenerationTask state for asynchronous provider jobs.
package tasks

import (
	"context"
	"errors"

	"github.com/digkill/SynergyHub/internal/models"
)

var ErrNotFound = errors.New("task not found")

// Store persists tasks until they expire and fans out updates to watchers.
type Store interface {
	Save(ctx context.Context, task *models.GenerationTask) error
	Get(ctx context.Context, id string) (*models.GenerationTask, error)
	// Active lists tasks that have not reached a terminal state.
	Active(ctx context.Context) ([]*models.GenerationTask, error)
	// Watch delivers every saved version of the task until ctx is done.
	Watch(ctx context.Context, id string) (<-chan *models.GenerationTask, error)
}
