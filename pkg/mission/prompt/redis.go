package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RedisStore keeps questions in Redis so several processes (the mission
// runner and an operator API, say) see the same prompts. Every save is
// published on a channel that Watch subscribes to.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

var _ Store = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the prefix for every key and the update channel.
// Default: "mission:prompt:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithTTL expires questions after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithRedisLogger sets the logger for dropped updates.
func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(s *RedisStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRedisStore connects to the Redis server at address.
func NewRedisStore(address, password string, db int, opts ...RedisOption) *RedisStore {
	return NewRedisStoreFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "mission:prompt:",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(id string) string { return s.prefix + id }
func (s *RedisStore) indexKey() string     { return s.prefix + "index" }
func (s *RedisStore) channel() string      { return s.prefix + "updates" }

// Save writes the question, indexes it by ask time and publishes its id.
func (s *RedisStore) Save(ctx context.Context, q *Question) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal question: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(q.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  float64(q.AskedAt.UnixNano()),
		Member: q.ID,
	})
	pipe.Publish(ctx, s.channel(), q.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save question %s: %w", q.ID, err)
	}
	return nil
}

// Get reads a question.
func (s *RedisStore) Get(ctx context.Context, id string) (*Question, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("get question %s: %w", id, err)
	}

	var q Question
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("unmarshal question %s: %w", id, err)
	}
	return &q, nil
}

// List walks the index oldest first. Index entries whose question expired
// are pruned.
func (s *RedisStore) List(ctx context.Context, status Status) ([]*Question, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	out := make([]*Question, 0, len(ids))
	for _, id := range ids {
		q, err := s.Get(ctx, id)
		if errors.Is(err, ErrQuestionNotFound) {
			s.client.ZRem(ctx, s.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if status == "" || q.Status == status {
			out = append(out, q)
		}
	}
	sortQuestions(out)
	return out, nil
}

// Delete removes a question and its index entry.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.key(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete question %s: %w", id, err)
	}
	if del.Val() == 0 {
		return ErrQuestionNotFound
	}
	return nil
}

// Watch subscribes to the update channel and loads each published question.
func (s *RedisStore) Watch(ctx context.Context) (<-chan *Question, error) {
	sub := s.client.Subscribe(ctx, s.channel())
	// Wait for the subscription to be confirmed so no update is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.channel(), err)
	}

	out := make(chan *Question, 64)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				q, err := s.Get(ctx, msg.Payload)
				if err != nil {
					s.logger.Warn("dropped prompt update",
						slog.String("question_id", msg.Payload),
						slog.String("error", err.Error()),
					)
					continue
				}
				select {
				case out <- q:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
