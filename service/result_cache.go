package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/brauliopf/brain-tumor-classification/model"
	"github.com/brauliopf/brain-tumor-classification/utils"
)

// ResultCache 只返回叠加图仍在磁盘上且未被覆盖的缓存结果
type ResultCache struct {
	redis *RedisService
	store *OverlayStore
}

func NewResultCache(redis *RedisService, store *OverlayStore) *ResultCache {
	return &ResultCache{redis: redis, store: store}
}

// GetResult filename 非空时要求叠加图同名，否则视为未命中
func (c *ResultCache) GetResult(ctx context.Context, md5, modelKey, filename string) (*model.ClassifyResult, error) {
	result, err := c.redis.GetResult(ctx, md5, modelKey)
	if err != nil || result == nil {
		return nil, err
	}
	log := utils.L(ctx).With(zap.String("md5", md5), zap.String("model", modelKey))

	name := OverlayName(result.Filename)
	if filename != "" && OverlayName(filename) != name {
		log.Debug("cached overlay has another name",
			zap.String("cached", name),
			zap.String("requested", OverlayName(filename)))
		return nil, nil
	}

	sum, err := c.store.Checksum(name)
	if err == nil && sum == result.OverlayMD5 {
		return result, nil
	}

	// 叠加图已被覆盖或删除
	log.Info("cached overlay is stale, dropping result",
		zap.String("overlay", name),
		zap.NamedError("checksum_error", err))
	if derr := c.redis.DeleteResult(ctx, md5, modelKey); derr != nil {
		log.Warn("failed to delete stale result", zap.Error(derr))
	}
	return nil, nil
}

// SetResult 设置分类结果到缓存
func (c *ResultCache) SetResult(ctx context.Context, result *model.ClassifyResult) error {
	return c.redis.SetResult(ctx, result)
}
