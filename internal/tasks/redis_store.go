package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/digkill/SynergyHub/internal/models"
)

const (
	taskKeyPrefix = "task:v1:"
	activeSetKey  = "tasks:v1:active"
	updatesPrefix = "task:v1:updates:"
)

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to url and verifies the connection.
func NewRedisStore(ctx context.Context, url, password string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Save(ctx context.Context, task *models.GenerationTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, taskKeyPrefix+task.ID, data, s.ttl)
	if task.Status.Terminal() {
		pipe.SRem(ctx, activeSetKey, task.ID)
	} else {
		pipe.SAdd(ctx, activeSetKey, task.ID)
	}
	pipe.Publish(ctx, updatesPrefix+task.ID, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.GenerationTask, error) {
	data, err := s.client.Get(ctx, taskKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	var task models.GenerationTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &task, nil
}

func (s *RedisStore) Active(ctx context.Context) ([]*models.GenerationTask, error) {
	ids, err := s.client.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	var active []*models.GenerationTask
	for _, id := range ids {
		task, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Expired while still pending.
			s.client.SRem(ctx, activeSetKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		active = append(active, task)
	}
	return active, nil
}

func (s *RedisStore) Watch(ctx context.Context, id string) (<-chan *models.GenerationTask, error) {
	pubsub := s.client.Subscribe(ctx, updatesPrefix+id)
	// Wait for the subscription so updates saved after Watch returns are not missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe task %s: %w", id, err)
	}

	out := make(chan *models.GenerationTask, 8)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var task models.GenerationTask
				if err := json.Unmarshal([]byte(msg.Payload), &task); err != nil {
					continue
				}
				select {
				case out <- &task:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
