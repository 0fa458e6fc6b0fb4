package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/digkill/SynergyHub/internal/models"
	"github.com/digkill/SynergyHub/internal/provider"
	"github.com/digkill/SynergyHub/internal/tasks"
)

const (
	backoffFactor  = 1.5
	refreshTimeout = 2 * time.Minute
)

type PollerConfig struct {
	Interval    time.Duration
	MaxInterval time.Duration
	MaxAttempts int
}

// TaskPoller drives asynchronous provider jobs to a terminal state on the server side.
type TaskPoller struct {
	cfg       PollerConfig
	store     tasks.Store
	providers *provider.Registry
	artifacts *ArtifactService
	ledger    *LedgerService
	alerts    *alertSender
	log       *slog.Logger

	group singleflight.Group
	wg    sync.WaitGroup

	mu       sync.Mutex
	lifetime context.Context
}

func NewTaskPoller(cfg PollerConfig, store tasks.Store, providers *provider.Registry, artifacts *ArtifactService, ledger *LedgerService, alerts Alerter, log *slog.Logger) *TaskPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = cfg.Interval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 120
	}
	return &TaskPoller{
		cfg:       cfg,
		store:     store,
		providers: providers,
		artifacts: artifacts,
		ledger:    ledger,
		alerts:    newAlertSender(alerts, log),
		log:       log,
		lifetime:  context.Background(),
	}
}

// Start binds polling loops to ctx and resumes unfinished tasks. It must be called
// before requests can reach Track, otherwise their loops ignore shutdown.
func (p *TaskPoller) Start(ctx context.Context) {
	p.mu.Lock()
	p.lifetime = ctx
	p.mu.Unlock()

	active, err := p.store.Active(ctx)
	if err != nil {
		p.log.Error("failed to list active tasks", "err", err)
	}
	for _, task := range active {
		p.log.Info("resuming task", "task_id", task.ID, "attempts", task.Attempts)
		p.spawn(task.ID)
	}
}

// Wait blocks until every polling loop and pending alert has finished.
func (p *TaskPoller) Wait() {
	p.wg.Wait()
	p.alerts.wait()
}

// Run is Start followed by Wait once ctx is done.
func (p *TaskPoller) Run(ctx context.Context) error {
	p.Start(ctx)
	<-ctx.Done()
	p.Wait()
	return ctx.Err()
}

// Track registers a freshly acknowledged provider job and starts polling it.
func (p *TaskPoller) Track(ctx context.Context, task *models.GenerationTask) error {
	now := time.Now().UTC()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Status = models.TaskPending
	task.CreatedAt, task.UpdatedAt = now, now
	if err := p.store.Save(ctx, task); err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	p.spawn(task.ID)
	return nil
}

func (p *TaskPoller) spawn(id string) {
	p.mu.Lock()
	ctx := p.lifetime
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(ctx, id)
	}()
}

func (p *TaskPoller) loop(ctx context.Context, id string) {
	delay := p.cfg.Interval
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// State stays as last observed; Run resumes it on the next start.
			return
		case <-timer.C:
		}

		task, err := p.check(ctx, id)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, tasks.ErrNotFound) {
				return
			}
			p.log.Error("task check failed", "task_id", id, "err", err)
		}
		if task != nil && task.Status.Terminal() {
			return
		}
		if task != nil && task.Attempts >= p.cfg.MaxAttempts {
			p.timeout(ctx, task)
			return
		}

		delay = min(time.Duration(float64(delay)*backoffFactor), p.cfg.MaxInterval)
		timer.Reset(delay)
	}
}

// check performs one status query. Concurrent checks of the same task share a result.
func (p *TaskPoller) check(ctx context.Context, id string) (*models.GenerationTask, error) {
	v, err, _ := p.group.Do(id, func() (any, error) {
		return p.checkOnce(ctx, id)
	})
	task, _ := v.(*models.GenerationTask)
	return task, err
}

func (p *TaskPoller) checkOnce(ctx context.Context, id string) (*models.GenerationTask, error) {
	task, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status.Terminal() {
		return task, nil
	}

	checker, ok := p.providers.StatusChecker(task.Provider)
	if !ok {
		p.finishFailed(ctx, task, fmt.Sprintf("provider %s cannot report task status", task.Provider))
		return task, nil
	}

	task.Attempts++
	status, err := checker.Status(ctx, task.ProviderTaskID)
	if err != nil {
		// Transient; counts as an attempt.
		task.UpdatedAt = time.Now().UTC()
		if saveErr := p.store.Save(ctx, task); saveErr != nil {
			return task, saveErr
		}
		return task, fmt.Errorf("query %s status: %w", task.Provider, err)
	}

	switch status.State {
	case models.TaskCompleted:
		p.complete(ctx, task, status.ResultURL)
		return task, nil
	case models.TaskFailed:
		p.finishFailed(ctx, task, status.Message)
		return task, nil
	default:
		task.Status = status.State
		task.UpdatedAt = time.Now().UTC()
		return task, p.store.Save(ctx, task)
	}
}

func (p *TaskPoller) complete(ctx context.Context, task *models.GenerationTask, resultURL string) {
	task.ResultURL = resultURL
	artifact, err := p.artifacts.Persist(ctx, PersistInput{
		OwnerID:   task.OwnerID,
		Image:     provider.Image{URL: resultURL},
		Prompt:    task.Prompt,
		Operation: task.Operation,
		Model:     task.Model,
	})
	if err != nil && ctx.Err() != nil {
		// Interrupted, not failed: keep the task open so the next check stores it.
		p.log.Warn("task result not stored before shutdown", "task_id", task.ID, "err", err)
		task.UpdatedAt = time.Now().UTC()
		if saveErr := p.store.Save(context.WithoutCancel(ctx), task); saveErr != nil {
			p.log.Error("failed to save task", "task_id", task.ID, "err", saveErr)
		}
		return
	}
	if err != nil {
		p.log.Error("failed to persist task result", "task_id", task.ID, "err", err)
		p.finishFailed(ctx, task, (&PersistenceError{Err: err}).Error())
		return
	}
	task.Status = models.TaskCompleted
	task.ArtifactID = artifact.ID
	task.ArtifactURL = artifact.PublicURL
	task.UpdatedAt = time.Now().UTC()
	if err := p.store.Save(ctx, task); err != nil {
		p.log.Error("failed to save completed task", "task_id", task.ID, "err", err)
	}
	p.log.Info("task completed", "task_id", task.ID, "artifact_id", artifact.ID, "attempts", task.Attempts)
}

func (p *TaskPoller) timeout(ctx context.Context, task *models.GenerationTask) {
	p.finishFailed(ctx, task, fmt.Sprintf("timed out after %d status checks", task.Attempts))
}

// finishFailed returns the credits and stores the provider message verbatim.
func (p *TaskPoller) finishFailed(ctx context.Context, task *models.GenerationTask, message string) {
	ctx = context.WithoutCancel(ctx)
	auth := &Authorization{
		UserID: task.OwnerID, Operation: task.Operation, Model: task.Model,
		Cost: task.Cost, ChargeID: task.ChargeID, Legacy: task.Legacy,
	}
	if err := p.ledger.Refund(ctx, auth, message); err != nil {
		p.log.Error("refund failed", "task_id", task.ID, "user_id", task.OwnerID, "err", err)
	}

	task.Status = models.TaskFailed
	task.Error = message
	task.UpdatedAt = time.Now().UTC()
	if err := p.store.Save(ctx, task); err != nil {
		p.log.Error("failed to save failed task", "task_id", task.ID, "err", err)
	}
	p.alerts.send(fmt.Sprintf("task %s (%s, %s) failed for user %s: %s; %s credits refunded",
		task.ID, task.Operation, task.Model, task.OwnerID, message, task.Cost.String()))
}

// Get returns the task when it belongs to ownerID.
func (p *TaskPoller) Get(ctx context.Context, ownerID, id string) (*models.GenerationTask, error) {
	task, err := p.store.Get(ctx, id)
	if errors.Is(err, tasks.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	if task.OwnerID != ownerID {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// Refresh checks the provider once on demand instead of waiting for the next tick.
func (p *TaskPoller) Refresh(ctx context.Context, ownerID, id string) (*models.GenerationTask, error) {
	task, err := p.Get(ctx, ownerID, id)
	if err != nil || task.Status.Terminal() {
		return task, err
	}
	// A client hanging up must not interrupt a result that is being stored.
	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
	defer cancel()
	refreshed, err := p.check(checkCtx, id)
	if err != nil {
		p.log.Warn("refresh failed", "task_id", id, "err", err)
	}
	if refreshed == nil {
		return task, nil
	}
	return refreshed, nil
}

// Watch streams updates for a task owned by ownerID.
func (p *TaskPoller) Watch(ctx context.Context, ownerID, id string) (*models.GenerationTask, <-chan *models.GenerationTask, error) {
	if _, err := p.Get(ctx, ownerID, id); err != nil {
		return nil, nil, err
	}
	updates, err := p.store.Watch(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	// Re-read after subscribing so an update between Get and Watch is not lost.
	current, err := p.Get(ctx, ownerID, id)
	if err != nil {
		return nil, nil, err
	}
	return current, updates, nil
}

