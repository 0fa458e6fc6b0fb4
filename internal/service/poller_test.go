package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/SynergyHub/internal/models"
	"github.com/digkill/SynergyHub/internal/provider"
)

var mp4Fetcher = fakeFetcher{fetch: func(context.Context, string) ([]byte, string, error) {
	return []byte("\x00\x00\x00\x18ftypmp42"), "video/mp4", nil
}}

func asyncAdapter(status func(taskID string) (*provider.Status, error)) *fakeAdapter {
	return &fakeAdapter{
		name: "runware",
		submit: func(context.Context, provider.Request) (*provider.Output, error) {
			return &provider.Output{TaskID: "job-1"}, nil
		},
		status: func(_ context.Context, taskID string) (*provider.Status, error) { return status(taskID) },
	}
}

func videoRequest() GenerationRequest {
	return GenerationRequest{
		Operation: models.OperationVideoGeneration,
		Model:     "klingai:2@1",
		Prompt:    "waves rolling over rocks",
		Duration:  5,
	}
}

func fastPolling(attempts int) PollerConfig {
	return PollerConfig{Interval: 2 * time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxAttempts: attempts}
}

func waitTerminal(t *testing.T, p *TaskPoller, owner, id string) *models.GenerationTask {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := p.Get(context.Background(), owner, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if task.Status.Terminal() {
			return task
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("task %s did not finish", id)
	return nil
}

func TestGenerate_AsyncVideoCompletes(t *testing.T) {
	adapter := asyncAdapter(func(taskID string) (*provider.Status, error) {
		if taskID != "job-1" {
			t.Errorf("taskID = %q", taskID)
		}
		return &provider.Status{State: models.TaskCompleted, ResultURL: "https://cdn.runware.test/v.mp4"}, nil
	})
	h := newHarness(t, fastPolling(10), mp4Fetcher, adapter)
	h.account(t, "u1", "10", false)

	res, err := h.gen.Generate(context.Background(), "u1", videoRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Task == nil || res.Artifact != nil {
		t.Fatalf("want a task handle, got %+v", res)
	}
	if got := res.CreditsRemaining; !got.Equal(decimal.RequireFromString("8.5")) {
		t.Errorf("balance after charge = %s, want 8.5", got)
	}
	if n := h.count(t, "u1", models.UsageKindCharge); n != 1 {
		t.Errorf("charge records = %d, want 1", n)
	}

	task := waitTerminal(t, h.poller, "u1", res.Task.ID)
	if task.Status != models.TaskCompleted || task.ArtifactID == 0 || task.ArtifactURL == "" {
		t.Fatalf("task = %+v", task)
	}
	if got := h.balance(t, "u1"); !got.Equal(decimal.RequireFromString("8.5")) {
		t.Errorf("balance = %s, want 8.5", got)
	}
	history, err := h.artifacts.List(context.Background(), "u1", 10)
	if err != nil || len(history) != 1 || history[0].Format != "mp4" {
		t.Errorf("history = %+v (%v)", history, err)
	}
}

func TestPoller_ProviderFailureRefunds(t *testing.T) {
	adapter := asyncAdapter(func(string) (*provider.Status, error) {
		return &provider.Status{State: models.TaskFailed, Message: "content policy violation"}, nil
	})
	h := newHarness(t, fastPolling(10), mp4Fetcher, adapter)
	h.account(t, "u1", "10", false)

	res, err := h.gen.Generate(context.Background(), "u1", videoRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	task := waitTerminal(t, h.poller, "u1", res.Task.ID)
	if task.Status != models.TaskFailed || task.Error != "content policy violation" {
		t.Fatalf("task = %+v", task)
	}
	if got := h.balance(t, "u1"); !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("balance = %s, want 10 after refund", got)
	}
	eventually(t, func() bool { return h.alerts.count() > 0 })
}

func TestPoller_TimesOutAfterMaxAttempts(t *testing.T) {
	adapter := asyncAdapter(func(string) (*provider.Status, error) {
		return &provider.Status{State: models.TaskGenerating}, nil
	})
	h := newHarness(t, fastPolling(3), mp4Fetcher, adapter)
	h.account(t, "u1", "10", false)

	res, err := h.gen.Generate(context.Background(), "u1", videoRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	task := waitTerminal(t, h.poller, "u1", res.Task.ID)
	if task.Status != models.TaskFailed || !strings.Contains(task.Error, "timed out") {
		t.Fatalf("task = %+v", task)
	}
	if task.Attempts != 3 || adapter.checked.Load() != 3 {
		t.Errorf("attempts = %d, checks = %d, want 3", task.Attempts, adapter.checked.Load())
	}
	if got := h.balance(t, "u1"); !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("balance = %s, want 10", got)
	}
}

func TestPoller_TransientErrorsCountAsAttempts(t *testing.T) {
	adapter := asyncAdapter(func(string) (*provider.Status, error) {
		return nil, errors.New("502 bad gateway")
	})
	h := newHarness(t, fastPolling(2), mp4Fetcher, adapter)
	h.account(t, "u1", "10", false)

	res, err := h.gen.Generate(context.Background(), "u1", videoRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	task := waitTerminal(t, h.poller, "u1", res.Task.ID)
	if task.Status != models.TaskFailed || task.Attempts != 2 {
		t.Fatalf("task = %+v", task)
	}
}

func TestPoller_RefreshAndOwnership(t *testing.T) {
	adapter := asyncAdapter(func(string) (*provider.Status, error) {
		return &provider.Status{State: models.TaskCompleted, ResultURL: "https://cdn.runware.test/v.mp4"}, nil
	})
	h := newHarness(t, PollerConfig{Interval: time.Hour, MaxAttempts: 5}, mp4Fetcher, adapter)
	h.account(t, "u1", "10", false)
	h.account(t, "u2", "10", false)

	res, err := h.gen.Generate(context.Background(), "u1", videoRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Task.Status != models.TaskPending {
		t.Errorf("initial status = %s, want pending", res.Task.Status)
	}

	if _, err := h.poller.Refresh(context.Background(), "u2", res.Task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("foreign refresh err = %v, want ErrTaskNotFound", err)
	}
	if _, err := h.poller.Get(context.Background(), "u1", "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("missing task err = %v", err)
	}

	task, err := h.poller.Refresh(context.Background(), "u1", res.Task.ID)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if task.Status != models.TaskCompleted || task.ArtifactID == 0 || task.Attempts != 1 {
		t.Fatalf("task = %+v", task)
	}

	again, err := h.poller.Refresh(context.Background(), "u1", res.Task.ID)
	if err != nil || again.Attempts != 1 {
		t.Errorf("refresh of terminal task should not query the provider: %+v (%v)", again, err)
	}
}

func TestPoller_WatchDeliversTerminalState(t *testing.T) {
	adapter := asyncAdapter(func(string) (*provider.Status, error) {
		return &provider.Status{State: models.TaskCompleted, ResultURL: "https://cdn.runware.test/v.mp4"}, nil
	})
	h := newHarness(t, PollerConfig{Interval: 20 * time.Millisecond, MaxAttempts: 5}, mp4Fetcher, adapter)
	h.account(t, "u1", "10", false)

	res, err := h.gen.Generate(context.Background(), "u1", videoRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	current, updates, err := h.poller.Watch(ctx, "u1", res.Task.ID)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	for !current.Status.Terminal() {
		select {
		case next, ok := <-updates:
			if !ok {
				t.Fatal("updates closed before completion")
			}
			current = next
		case <-ctx.Done():
			t.Fatal("no terminal update")
		}
	}
	if current.Status != models.TaskCompleted {
		t.Errorf("status = %s", current.Status)
	}

	if _, _, err := h.poller.Watch(ctx, "u2", res.Task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("foreign watch err = %v", err)
	}
}

func TestPoller_RunResumesActiveTasks(t *testing.T) {
	adapter := asyncAdapter(func(string) (*provider.Status, error) {
		return &provider.Status{State: models.TaskCompleted, ResultURL: "https://cdn.runware.test/v.mp4"}, nil
	})
	h := newHarness(t, fastPolling(5), mp4Fetcher, adapter)
	h.account(t, "u1", "10", false)

	now := time.Now().UTC()
	err := h.store.Save(context.Background(), &models.GenerationTask{
		ID:             "left-over",
		Provider:       "runware",
		ProviderTaskID: "job-1",
		OwnerID:        "u1",
		Operation:      models.OperationVideoGeneration,
		Model:          "klingai:2@1",
		Status:         models.TaskGenerating,
		Cost:           decimal.RequireFromString("1.5"),
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.poller.Run(ctx) }()

	task := waitTerminal(t, h.poller, "u1", "left-over")
	if task.Status != models.TaskCompleted {
		t.Errorf("status = %s", task.Status)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPoller_UnknownProviderFailsTask(t *testing.T) {
	h := newHarness(t, fastPolling(5), mp4Fetcher)
	h.account(t, "u1", "10", false)

	task := &models.GenerationTask{OwnerID: "u1", Provider: "gone", ProviderTaskID: "x", Operation: models.OperationSkinEnhance}
	if err := h.poller.Track(context.Background(), task); err != nil {
		t.Fatalf("Track: %v", err)
	}
	got := waitTerminal(t, h.poller, "u1", task.ID)
	if got.Status != models.TaskFailed {
		t.Errorf("status = %s", got.Status)
	}
}

// gatedFetcher blocks downloads until release is closed or the caller gives up.
type gatedFetcher struct {
	started chan struct{}
	release chan struct{}
	once    atomic.Bool
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{started: make(chan struct{}), release: make(chan struct{})}
}

func (f *gatedFetcher) Fetch(ctx context.Context, _ string) ([]byte, string, error) {
	if f.once.CompareAndSwap(false, true) {
		close(f.started)
	}
	select {
	case <-f.release:
		return []byte("\x00\x00\x00\x18ftypmp42"), "video/mp4", nil
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

func TestPoller_ShutdownWhileStoringKeepsTaskOpen(t *testing.T) {
	adapter := asyncAdapter(func(string) (*provider.Status, error) {
		return &provider.Status{State: models.TaskCompleted, ResultURL: "https://cdn.runware.test/v.mp4"}, nil
	})
	fetcher := newGatedFetcher()
	h := newHarness(t, fastPolling(10), fetcher, adapter)
	h.account(t, "u1", "10", false)

	ctx, cancel := context.WithCancel(context.Background())
	h.poller.Start(ctx)
	res, err := h.gen.Generate(context.Background(), "u1", videoRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	select {
	case <-fetcher.started:
	case <-time.After(5 * time.Second):
		t.Fatal("result download never started")
	}
	cancel()
	h.poller.Wait()

	task, err := h.poller.Get(context.Background(), "u1", res.Task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task.Status.Terminal() {
		t.Fatalf("task = %+v, want it left open", task)
	}
	if got := h.balance(t, "u1"); !got.Equal(decimal.RequireFromString("8.5")) {
		t.Errorf("balance = %s, want 8.5", got)
	}
	if n := h.count(t, "u1", models.UsageKindRefund); n != 0 {
		t.Errorf("refund records = %d, want 0", n)
	}

	close(fetcher.release)
	restart, stop := context.WithCancel(context.Background())
	defer stop()
	h.poller.Start(restart)
	if task := waitTerminal(t, h.poller, "u1", res.Task.ID); task.Status != models.TaskCompleted {
		t.Errorf("status after restart = %s", task.Status)
	}
}

func TestPoller_RefreshOutlivesCaller(t *testing.T) {
	adapter := asyncAdapter(func(string) (*provider.Status, error) {
		return &provider.Status{State: models.TaskCompleted, ResultURL: "https://cdn.runware.test/v.mp4"}, nil
	})
	fetcher := newGatedFetcher()
	h := newHarness(t, PollerConfig{Interval: time.Hour, MaxAttempts: 5}, fetcher, adapter)
	h.account(t, "u1", "10", false)

	res, err := h.gen.Generate(context.Background(), "u1", videoRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	reqCtx, hangUp := context.WithCancel(context.Background())
	done := make(chan *models.GenerationTask, 1)
	go func() {
		task, _ := h.poller.Refresh(reqCtx, "u1", res.Task.ID)
		done <- task
	}()
	<-fetcher.started
	hangUp()
	close(fetcher.release)

	select {
	case task := <-done:
		if task == nil || task.Status != models.TaskCompleted {
			t.Fatalf("task = %+v, want completed", task)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Refresh did not return")
	}
	if got := h.balance(t, "u1"); !got.Equal(decimal.RequireFromString("8.5")) {
		t.Errorf("balance = %s, want 8.5", got)
	}
}

func TestPoller_LoopsStopWithStartContext(t *testing.T) {
	adapter := asyncAdapter(func(string) (*provider.Status, error) {
		return &provider.Status{State: models.TaskGenerating}, nil
	})
	h := newHarness(t, fastPolling(1_000_000), mp4Fetcher, adapter)
	h.account(t, "u1", "10", false)

	ctx, cancel := context.WithCancel(context.Background())
	h.poller.Start(ctx)
	if _, err := h.gen.Generate(context.Background(), "u1", videoRequest()); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	eventually(t, func() bool { return adapter.checked.Load() > 0 })
	cancel()

	stopped := make(chan struct{})
	go func() {
		h.poller.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("polling loop ignored shutdown")
	}
}
