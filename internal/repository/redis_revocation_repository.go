package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulse/pulse/internal/models"
)

const revokedKeyPrefix = "revoked_token:"

// RedisRevocationStore keeps revocation records as JSON strings that expire
// with the record.
type RedisRevocationStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisRevocationStore(client *redis.Client) *RedisRevocationStore {
	return &RedisRevocationStore{client: client, now: time.Now}
}

func (s *RedisRevocationStore) Create(ctx context.Context, record models.RevocationRecord) (*models.RevocationRecord, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal revocation record: %w", err)
	}

	ttl := record.ExpiresAt.Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}

	created, err := s.client.SetNX(ctx, revokedKeyPrefix+record.TokenID, data, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to store revocation record: %w", err)
	}
	if !created {
		return nil, nil
	}

	return &record, nil
}

func (s *RedisRevocationStore) FindOne(ctx context.Context, jti string) (*models.RevocationRecord, error) {
	data, err := s.client.Get(ctx, revokedKeyPrefix+jti).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get revocation record: %w", err)
	}

	var record models.RevocationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal revocation record: %w", err)
	}

	return &record, nil
}
