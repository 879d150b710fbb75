package provisioning

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// PairingStore 本地配对标志存储
// 应用恢复时读取该标志决定初始导航（已配对 vs 待配对）
type PairingStore interface {
	SetPaired(ctx context.Context, userID string) error
	IsPaired(ctx context.Context, userID string) (bool, error)
	ClearPaired(ctx context.Context, userID string) error
}

// RedisPairingStore 基于 Redis 的配对标志存储
type RedisPairingStore struct {
	redisClient *redis.Client
	keyPrefix   string
	logger      *zap.Logger
}

// NewRedisPairingStore 创建配对标志存储
func NewRedisPairingStore(redisClient *redis.Client, keyPrefix string, logger *zap.Logger) *RedisPairingStore {
	return &RedisPairingStore{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		logger:      logger,
	}
}

// pairingKey 构建配对标志键
func (s *RedisPairingStore) pairingKey(userID string) string {
	return fmt.Sprintf("%s%s", s.keyPrefix, userID)
}

// SetPaired 写入配对标志（仅在配网确认成功时调用）
func (s *RedisPairingStore) SetPaired(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}

	value := time.Now().UTC().Format(time.RFC3339)
	if err := s.redisClient.Set(ctx, s.pairingKey(userID), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set pairing flag: %w", err)
	}

	return nil
}

// IsPaired 读取配对标志
func (s *RedisPairingStore) IsPaired(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("user_id is required")
	}

	_, err := s.redisClient.Get(ctx, s.pairingKey(userID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get pairing flag: %w", err)
	}

	return true, nil
}

// ClearPaired 清除配对标志（显式断开或登出时调用）
func (s *RedisPairingStore) ClearPaired(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}

	if err := s.redisClient.Del(ctx, s.pairingKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear pairing flag: %w", err)
	}

	return nil
}
