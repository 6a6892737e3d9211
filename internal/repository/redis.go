package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/lvdashuaibi/chainvote/config"
	"github.com/lvdashuaibi/chainvote/internal/model"
)

const (
	// Redis键前缀
	PollDetailKey  = "poll:detail:"
	PollResultsKey = "poll:results:"
	PollCloserKey  = "poll:closer:lock"
)

// RedisRepository 只承担缓存职责，关系库是唯一数据源
type RedisRepository struct {
	client *redis.Client
	ctx    context.Context
}

func NewRedisRepository() (*RedisRepository, error) {
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{
		Addr:         config.AppConfig.Redis.DataAddress,
		Password:     config.AppConfig.Redis.Password,
		DB:           config.AppConfig.Redis.DB,
		PoolSize:     config.AppConfig.Redis.PoolSize,
		MaxRetries:   config.AppConfig.Redis.MaxRetries,
		DialTimeout:  config.AppConfig.Redis.Timeout,
		ReadTimeout:  config.AppConfig.Redis.Timeout,
		WriteTimeout: config.AppConfig.Redis.Timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis连接测试失败: %w", err)
	}

	return &RedisRepository{
		client: client,
		ctx:    ctx,
	}, nil
}

// GetPollDetail 读取投票详情缓存
func (r *RedisRepository) GetPollDetail(pollID int64) (*model.PollDetail, bool, error) {
	key := fmt.Sprintf("%s%d", PollDetailKey, pollID)
	data, err := r.client.Get(r.ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("读取投票详情缓存失败: %w", err)
	}

	var detail model.PollDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, false, fmt.Errorf("解析投票详情缓存失败: %w", err)
	}

	return &detail, true, nil
}

// SetPollDetail 写入投票详情缓存
func (r *RedisRepository) SetPollDetail(detail *model.PollDetail) error {
	data, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("序列化投票详情失败: %w", err)
	}

	key := fmt.Sprintf("%s%d", PollDetailKey, detail.Poll.ID)
	if err := r.client.Set(r.ctx, key, data, config.AppConfig.Redis.PollCacheTTL).Err(); err != nil {
		return fmt.Errorf("写入投票详情缓存失败: %w", err)
	}

	return nil
}

// DeletePollDetailCache 删除投票详情缓存
func (r *RedisRepository) DeletePollDetailCache(pollID int64) error {
	key := fmt.Sprintf("%s%d", PollDetailKey, pollID)
	if err := r.client.Del(r.ctx, key).Err(); err != nil {
		return fmt.Errorf("删除投票详情缓存失败: %w", err)
	}
	return nil
}

// GetPollResults 读取链上结果缓存
func (r *RedisRepository) GetPollResults(pollID int64) (*model.PollResults, bool, error) {
	key := fmt.Sprintf("%s%d", PollResultsKey, pollID)
	data, err := r.client.Get(r.ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("读取结果缓存失败: %w", err)
	}

	var results model.PollResults
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, false, fmt.Errorf("解析结果缓存失败: %w", err)
	}

	return &results, true, nil
}

// SetPollResults 写入链上结果缓存
// 开放中的投票结果会变化，只缓存很短的时间
func (r *RedisRepository) SetPollResults(results *model.PollResults) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("序列化结果失败: %w", err)
	}

	key := fmt.Sprintf("%s%d", PollResultsKey, results.PollID)
	if err := r.client.Set(r.ctx, key, data, config.AppConfig.Redis.ResultsCacheTTL).Err(); err != nil {
		return fmt.Errorf("写入结果缓存失败: %w", err)
	}

	return nil
}

// DeletePollResultsCache 删除链上结果缓存
func (r *RedisRepository) DeletePollResultsCache(pollID int64) error {
	key := fmt.Sprintf("%s%d", PollResultsKey, pollID)
	if err := r.client.Del(r.ctx, key).Err(); err != nil {
		return fmt.Errorf("删除结果缓存失败: %w", err)
	}
	return nil
}

// Close 关闭Redis连接
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
