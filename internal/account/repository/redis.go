package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"phone-otp-auth/backend/internal/account/domain"
)

const defaultStagingPrefix = "account:staged:"

// RedisStagingRepository stores staged registration details as JSON with a key TTL.
type RedisStagingRepository struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStagingRepository returns a staging store over client. Empty prefix uses "account:staged:".
func NewRedisStagingRepository(client redis.Cmdable, prefix string) *RedisStagingRepository {
	if prefix == "" {
		prefix = defaultStagingPrefix
	}
	return &RedisStagingRepository{client: client, prefix: prefix}
}

func (r *RedisStagingRepository) Stage(ctx context.Context, phone string, d domain.RegistrationDetails, ttl time.Duration) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.prefix+phone, raw, ttl).Err()
}

func (r *RedisStagingRepository) Take(ctx context.Context, phone string) (*domain.RegistrationDetails, error) {
	raw, err := r.client.GetDel(ctx, r.prefix+phone).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var d domain.RegistrationDetails
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
