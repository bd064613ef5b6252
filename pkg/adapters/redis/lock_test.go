package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	adapter "github.com/tabletoplab/skirmish/pkg/adapters/redis"
)

func TestRedisLocker_LockUnlock(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	locker := adapter.NewLocker(client, "skirmish:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "enc-1", 5*time.Second)
	assert.NoError(t, err)
	assert.NotNil(t, unlock)
	assert.True(t, mr.Exists("skirmish:lock:enc-1"), "lock key should be set")

	err = unlock(ctx)
	assert.NoError(t, err)
	assert.False(t, mr.Exists("skirmish:lock:enc-1"), "lock key should be removed after unlock")
}

func TestRedisLocker_Contention(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	locker1 := adapter.NewLocker(client, "skirmish:")
	locker2 := adapter.NewLocker(client, "skirmish:")
	ctx := context.Background()

	unlock1, err := locker1.Lock(ctx, "enc-shared", 5*time.Second)
	assert.NoError(t, err)

	// Second locker must not acquire while the first holds the key.
	shortCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	_, err = locker2.Lock(shortCtx, "enc-shared", 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// After release the second locker succeeds.
	assert.NoError(t, unlock1(ctx))
	unlock2, err := locker2.Lock(ctx, "enc-shared", 5*time.Second)
	assert.NoError(t, err)
	assert.NoError(t, unlock2(ctx))
}

func TestRedisLocker_WrongOwnerCannotUnlock(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	locker := adapter.NewLocker(client, "skirmish:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "enc-owned", 5*time.Second)
	assert.NoError(t, err)

	// Simulate another process overwriting the token; our release must be a no-op.
	mr.Set("skirmish:lock:enc-owned", "someone-else")
	assert.NoError(t, unlock(ctx))
	assert.True(t, mr.Exists("skirmish:lock:enc-owned"), "foreign lock must survive our unlock")
}
