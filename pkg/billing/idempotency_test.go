package billing

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisIdempotency(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	idem := NewRedisIdempotency(client, "test", time.Minute)

	seen, err := idem.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, idem.Remember(ctx, "evt_1"))
	seen, err = idem.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, time.Minute, mr.TTL("test:evt_1"))

	mr.FastForward(2 * time.Minute)
	seen, err = idem.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisIdempotency_Defaults(t *testing.T) {
	idem := NewRedisIdempotency(nil, "", 0)
	assert.Equal(t, "webhook:event:evt", idem.key("evt"))
	assert.Equal(t, DefaultIdempotencyTTL, idem.ttl)
}
