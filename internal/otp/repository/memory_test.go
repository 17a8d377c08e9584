package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phone-otp-auth/backend/internal/otp/domain"
)

const testPhone = "+15551234567"

func TestMemoryRepository_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	now := time.Now()
	require.NoError(t, r.Replace(ctx, &domain.Challenge{Phone: testPhone, ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, r.Replace(ctx, &domain.Challenge{Phone: "+442079460958", ExpiresAt: now.Add(time.Minute)}))

	n, err := r.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	c, err := r.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.Nil(t, c)
	c, err = r.Get(ctx, "+442079460958")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestMemoryRepository_DeleteExpiredWaitsForUpdate(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	now := time.Now()
	require.NoError(t, r.Replace(ctx, &domain.Challenge{Phone: testPhone, ExpiresAt: now.Add(-time.Second), AttemptsLeft: 5}))

	inUpdate := make(chan struct{})
	release := make(chan struct{})
	updated := make(chan error, 1)
	go func() {
		updated <- r.Update(ctx, testPhone, func(c *domain.Challenge) Decision {
			close(inUpdate)
			<-release
			c.AttemptsLeft--
			return Save
		})
	}()
	<-inUpdate

	swept := make(chan int, 1)
	go func() {
		n, _ := r.DeleteExpired(ctx, now)
		swept <- n
	}()

	select {
	case <-swept:
		t.Fatal("sweep removed a challenge while an update held its phone")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-updated)
	assert.Equal(t, 1, <-swept)

	c, err := r.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.Nil(t, c, "expired challenge written back by Update must be swept")
}
