package provisioning

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestPairingStore(t *testing.T) (*miniredis.Miniredis, *RedisPairingStore) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisPairingStore(client, "evvos:paired:", zap.NewNop())
	return mr, store
}

func TestPairingStore_SetAndGet(t *testing.T) {
	mr, store := setupTestPairingStore(t)
	ctx := context.Background()

	paired, err := store.IsPaired(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, paired)

	require.NoError(t, store.SetPaired(ctx, "user-1"))

	paired, err = store.IsPaired(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, paired)

	// 键按前缀 + user_id 构建
	assert.True(t, mr.Exists("evvos:paired:user-1"))
}

func TestPairingStore_Clear(t *testing.T) {
	_, store := setupTestPairingStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetPaired(ctx, "user-1"))
	require.NoError(t, store.ClearPaired(ctx, "user-1"))

	paired, err := store.IsPaired(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, paired)

	// 重复清除无副作用
	require.NoError(t, store.ClearPaired(ctx, "user-1"))
}

func TestPairingStore_RequiresUserID(t *testing.T) {
	_, store := setupTestPairingStore(t)
	ctx := context.Background()

	assert.Error(t, store.SetPaired(ctx, ""))
	_, err := store.IsPaired(ctx, "")
	assert.Error(t, err)
	assert.Error(t, store.ClearPaired(ctx, ""))
}

func TestPairingStore_IsolatedPerUser(t *testing.T) {
	_, store := setupTestPairingStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetPaired(ctx, "user-1"))

	paired, err := store.IsPaired(ctx, "user-2")
	require.NoError(t, err)
	assert.False(t, paired)
}
