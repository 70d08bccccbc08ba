package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/brauliopf/brain-tumor-classification/config"
	"github.com/brauliopf/brain-tumor-classification/model"
	"github.com/brauliopf/brain-tumor-classification/utils"
)

type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// ResultKey 同一张图在不同模型下分别缓存
func ResultKey(md5, modelKey string) string {
	return "result:" + md5 + ":" + modelKey
}

// GetResult 从缓存获取分类结果
func (s *RedisService) GetResult(ctx context.Context, md5, modelKey string) (*model.ClassifyResult, error) {
	data, err := s.client.Get(ctx, ResultKey(md5, modelKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}

	var result model.ClassifyResult
	if err := json.Unmarshal(data, &result); err != nil {
		utils.L(ctx).Error("failed to unmarshal classify result",
			zap.String("md5", md5), zap.String("model", modelKey), zap.Error(err))
		return nil, err
	}

	return &result, nil
}

// SetResult 设置分类结果到缓存
func (s *RedisService) SetResult(ctx context.Context, result *model.ClassifyResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, ResultKey(result.MD5, result.Model), data, s.ttl).Err()
}

// DeleteResult 删除缓存的分类结果
func (s *RedisService) DeleteResult(ctx context.Context, md5, modelKey string) error {
	return s.client.Del(ctx, ResultKey(md5, modelKey)).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
