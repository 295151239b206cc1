package dataset

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisConfig selects the server and the hash holding a run's records.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Key      string
}

// RedisStore keeps every record as a field of one hash, keyed by custom ID.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects and pings the server so misconfiguration fails at startup.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if strings.TrimSpace(cfg.Key) == "" {
		return nil, fmt.Errorf("redis key is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client, key: cfg.Key}, nil
}

func (s *RedisStore) ProcessedIDs(ctx context.Context) (map[string]struct{}, error) {
	fields, err := s.client.HKeys(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hkeys %s: %w", s.key, err)
	}
	ids := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		ids[f] = struct{}{}
	}
	return ids, nil
}

func (s *RedisStore) Write(ctx context.Context, record ResponseRecord) error {
	if strings.TrimSpace(record.CustomID) == "" {
		return fmt.Errorf("record has no custom_id")
	}
	data, err := encodeRecord(record)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", record.CustomID, err)
	}
	if err := s.client.HSet(ctx, s.key, record.CustomID, data).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", record.CustomID, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
