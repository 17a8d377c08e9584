package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"phone-otp-auth/backend/internal/otp/domain"
)

const (
	defaultKeyPrefix = "otp:challenge:"
	// Expired challenges stay readable for this long past ExpiresAt so that
	// Verify and State can report Expired rather than NoChallenge.
	expiredRetention = 10 * time.Minute
	maxTxRetries     = 8
)

// RedisRepository stores each challenge as a hash with a key TTL.
type RedisRepository struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRepository returns a challenge repository over client. Empty prefix uses "otp:challenge:".
func NewRedisRepository(client redis.UniversalClient, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisRepository{client: client, prefix: prefix}
}

func (r *RedisRepository) key(phone string) string {
	return r.prefix + phone
}

// Replace overwrites the phone's challenge.
func (r *RedisRepository) Replace(ctx context.Context, c *domain.Challenge) error {
	key := r.key(c.Phone)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		writeChallenge(ctx, pipe, key, c)
		return nil
	})
	return err
}

// Get returns the stored challenge or nil.
func (r *RedisRepository) Get(ctx context.Context, phone string) (*domain.Challenge, error) {
	return readChallenge(ctx, r.client, r.key(phone), phone)
}

// Update runs fn inside WATCH/MULTI and retries when the key changed underneath.
func (r *RedisRepository) Update(ctx context.Context, phone string, fn func(c *domain.Challenge) Decision) error {
	key := r.key(phone)
	txf := func(tx *redis.Tx) error {
		c, err := readChallenge(ctx, tx, key, phone)
		if err != nil {
			return err
		}
		decision := fn(c)
		if decision == Keep || (decision == Save && c == nil) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if decision == Delete {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.HSet(ctx, key, "attempts_left", c.AttemptsLeft)
			return nil
		})
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

// DeleteExpired is a no-op; keys expire through their TTL.
func (r *RedisRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

func writeChallenge(ctx context.Context, pipe redis.Pipeliner, key string, c *domain.Challenge) {
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"type", string(c.Type),
		"code_hash", c.CodeHash,
		"salt", c.Salt,
		"created_at", c.CreatedAt.UnixMilli(),
		"expires_at", c.ExpiresAt.UnixMilli(),
		"attempts_left", c.AttemptsLeft,
	)
	pipe.PExpireAt(ctx, key, c.ExpiresAt.Add(expiredRetention))
}

func readChallenge(ctx context.Context, cmd redis.Cmdable, key, phone string) (*domain.Challenge, error) {
	vals, err := cmd.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	created, err := strconv.ParseInt(vals["created_at"], 10, 64)
	if err != nil {
		return nil, err
	}
	expires, err := strconv.ParseInt(vals["expires_at"], 10, 64)
	if err != nil {
		return nil, err
	}
	attempts, err := strconv.Atoi(vals["attempts_left"])
	if err != nil {
		return nil, err
	}
	return &domain.Challenge{
		Phone:        phone,
		Type:         domain.ChallengeType(vals["type"]),
		CodeHash:     vals["code_hash"],
		Salt:         vals["salt"],
		CreatedAt:    time.UnixMilli(created).UTC(),
		ExpiresAt:    time.UnixMilli(expires).UTC(),
		AttemptsLeft: attempts,
	}, nil
}
