package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/digkill/SynergyHub/internal/models"
)

// MemoryStore is a single-process Store used when no Redis URL is configured.
type MemoryStore struct {
	cache *cache.Cache

	mu       sync.Mutex
	watchers map[string]map[chan *models.GenerationTask]struct{}
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		cache:    cache.New(ttl, 10*time.Minute),
		watchers: make(map[string]map[chan *models.GenerationTask]struct{}),
	}
}

func (s *MemoryStore) Save(_ context.Context, task *models.GenerationTask) error {
	stored := *task
	s.cache.SetDefault(task.ID, &stored)

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.watchers[task.ID] {
		update := stored
		select {
		case ch <- &update:
		default:
			// Slow watcher; it will see the next update.
		}
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.GenerationTask, error) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	task := *v.(*models.GenerationTask)
	return &task, nil
}

func (s *MemoryStore) Active(_ context.Context) ([]*models.GenerationTask, error) {
	var active []*models.GenerationTask
	for _, item := range s.cache.Items() {
		task := *item.Object.(*models.GenerationTask)
		if !task.Status.Terminal() {
			active = append(active, &task)
		}
	}
	return active, nil
}

func (s *MemoryStore) Watch(ctx context.Context, id string) (<-chan *models.GenerationTask, error) {
	ch := make(chan *models.GenerationTask, 8)
	s.mu.Lock()
	if s.watchers[id] == nil {
		s.watchers[id] = make(map[chan *models.GenerationTask]struct{})
	}
	s.watchers[id][ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers[id], ch)
		if len(s.watchers[id]) == 0 {
			delete(s.watchers, id)
		}
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}
