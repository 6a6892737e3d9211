package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lvdashuaibi/chainvote/internal/access"
	"github.com/lvdashuaibi/chainvote/internal/ledger"
	"github.com/lvdashuaibi/chainvote/internal/model"
	"github.com/lvdashuaibi/chainvote/internal/repository"
	"github.com/lvdashuaibi/chainvote/internal/token"
)

// Cache 投票读路径的缓存接口，由Redis仓库实现
type Cache interface {
	GetPollDetail(pollID int64) (*model.PollDetail, bool, error)
	SetPollDetail(detail *model.PollDetail) error
	DeletePollDetailCache(pollID int64) error
	GetPollResults(pollID int64) (*model.PollResults, bool, error)
	SetPollResults(results *model.PollResults) error
	DeletePollResultsCache(pollID int64) error
}

// EventPublisher 生命周期事件发布接口，由Kafka生产者实现
type EventPublisher interface {
	SendPollEvent(event *model.PollEvent) error
}

// PollService 投票服务
// 负责投票创建流水线、令牌签发编排和读路径
type PollService struct {
	repo         repository.Repository
	cache        Cache
	generator    *token.Generator
	policy       *access.Policy
	synchronizer *ledger.Synchronizer
	producer     EventPublisher

	tokenBatchSize int
}

func NewPollService(
	repo repository.Repository,
	cache Cache,
	generator *token.Generator,
	policy *access.Policy,
	synchronizer *ledger.Synchronizer,
	producer EventPublisher,
	tokenBatchSize int,
) *PollService {
	return &PollService{
		repo:           repo,
		cache:          cache,
		generator:      generator,
		policy:         policy,
		synchronizer:   synchronizer,
		producer:       producer,
		tokenBatchSize: tokenBatchSize,
	}
}

// CreatePoll 创建投票
// 严格按照顺序执行：投票行 → 选项 → 白名单 → 令牌生成与落库 → 账本创建投票 →
// 提交令牌承诺 → 回写账本投票ID
// 投票行入库之后的任何失败都不回滚，投票以可见的不完整状态留在库中：
// 账本侧失败返回OnLedger=false的结果，库侧失败同时返回已创建的投票ID和错误
func (s *PollService) CreatePoll(ctx context.Context, req *model.CreatePollRequest) (*model.CreatePollResult, error) {
	poll, options, whitelist, err := s.validateCreateRequest(req)
	if err != nil {
		return nil, err
	}

	pollID, err := s.repo.CreatePoll(poll)
	if err != nil {
		return nil, fmt.Errorf("创建投票失败: %w", err)
	}
	poll.ID = pollID

	partial := &model.CreatePollResult{
		PollID:   pollID,
		OnLedger: false,
		Message:  "投票已入库但尚未同步到账本",
	}

	if err := s.repo.CreatePollOptions(pollID, options); err != nil {
		return partial, fmt.Errorf("写入投票选项失败: %w", err)
	}

	if poll.IsRestricted {
		if err := s.repo.CreateWhitelist(pollID, whitelist); err != nil {
			return partial, fmt.Errorf("写入白名单失败: %w", err)
		}
	}

	batch, err := s.generator.GenerateBatch(pollID, s.tokenBatchSize)
	if err != nil {
		// 随机源失败是致命错误，投票保持未上链状态
		return partial, fmt.Errorf("生成令牌批次失败: %w", err)
	}

	if err := s.repo.SaveTokenBatch(pollID, batch.RawTokens); err != nil {
		return partial, fmt.Errorf("持久化令牌批次失败: %w", err)
	}

	partial.TokenCount = len(batch.RawTokens)
	s.publishEvent(model.EventPollCreated, pollID, nil, 0)

	// 账本侧失败不作为请求错误返回，"已入库未上链"是约定内的可见状态
	ledgerPollID, err := s.synchronizer.PublishPoll(ctx, poll, len(options))
	if err != nil {
		log.Printf("投票 %d 账本创建失败: %v", pollID, err)
		return partial, nil
	}

	if err := s.synchronizer.PublishTokenCommitments(ctx, ledgerPollID, batch.Commitments); err != nil {
		log.Printf("投票 %d 提交令牌承诺失败: %v", pollID, err)
		return partial, nil
	}

	if err := s.synchronizer.RecordLedgerPollID(pollID, ledgerPollID); err != nil {
		log.Printf("投票 %d 回写账本ID失败: %v", pollID, err)
		return partial, nil
	}

	s.publishEvent(model.EventPollSynced, pollID, &ledgerPollID, 0)

	return &model.CreatePollResult{
		PollID:           pollID,
		BlockchainPollID: &ledgerPollID,
		TokenCount:       len(batch.RawTokens),
		OnLedger:         true,
		Message:          "投票创建成功",
	}, nil
}

// validateCreateRequest 校验创建请求，校验失败的请求不会触及任何持久化
func (s *PollService) validateCreateRequest(req *model.CreatePollRequest) (*model.Poll, []string, []string, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, nil, nil, model.ValidationError("标题不能为空")
	}

	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		return nil, nil, nil, model.ValidationError("结束时间格式无效: %s", req.EndTime)
	}
	now := time.Now()
	if !endTime.After(now) {
		return nil, nil, nil, model.ValidationError("结束时间必须晚于当前时间")
	}

	// 选项去空格，按大小写不敏感去重后必须至少有2个
	var options []string
	seen := make(map[string]struct{})
	for _, label := range req.Options {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		key := strings.ToLower(label)
		if _, ok := seen[key]; ok {
			return nil, nil, nil, model.ValidationError("选项重复: %s", label)
		}
		seen[key] = struct{}{}
		options = append(options, label)
	}
	if len(options) < 2 {
		return nil, nil, nil, model.ValidationError("至少需要2个不同的选项")
	}

	var whitelist []string
	if req.IsRestricted {
		emailSeen := make(map[string]struct{})
		for _, email := range req.WhitelistEmails {
			email = access.NormalizeEmail(email)
			if email == "" {
				continue
			}
			if _, ok := emailSeen[email]; ok {
				continue
			}
			emailSeen[email] = struct{}{}
			whitelist = append(whitelist, email)
		}
		if len(whitelist) == 0 {
			return nil, nil, nil, model.ValidationError("受限投票的白名单不能为空")
		}
	}

	poll := &model.Poll{
		Title:            strings.TrimSpace(req.Title),
		Description:      req.Description,
		StartTime:        now,
		EndTime:          endTime,
		Status:           model.PollStatusOpen,
		IsRestricted:     req.IsRestricted,
		AllowLiveResults: req.AllowLiveResults,
	}

	return poll, options, whitelist, nil
}

// RequestToken 为身份签发一次性投票令牌
// 访问策略在签发时即时评估；签发本身在数据库事务中原子完成
// 原始令牌只经由返回值交给调用方一次，服务端任何地方都不记录身份与令牌值的关联
func (s *PollService) RequestToken(pollID int64, identity model.Identity) (*model.TokenResponse, error) {
	poll, err := s.repo.GetPoll(pollID)
	if err != nil {
		return nil, err
	}

	if err := s.policy.CanRequestToken(poll, identity, time.Now()); err != nil {
		return nil, err
	}

	rawToken, err := s.repo.IssueToken(pollID, identity.UserID)
	if err != nil {
		return nil, err
	}

	s.publishEvent(model.EventTokenIssued, pollID, poll.BlockchainPollID, identity.UserID)

	return &model.TokenResponse{Token: rawToken}, nil
}

// GetPollDetail 查询投票详情(含选项)，缓存旁路
func (s *PollService) GetPollDetail(pollID int64) (*model.PollDetail, error) {
	if s.cache != nil {
		detail, found, err := s.cache.GetPollDetail(pollID)
		if err != nil {
			log.Printf("读取投票 %d 详情缓存失败: %v", pollID, err)
		}
		if found && detail != nil {
			return detail, nil
		}
	}

	poll, err := s.repo.GetPoll(pollID)
	if err != nil {
		return nil, err
	}

	options, err := s.repo.GetPollOptions(pollID)
	if err != nil {
		return nil, err
	}

	detail := &model.PollDetail{
		Poll:    *poll,
		Options: options,
	}

	if s.cache != nil {
		if err := s.cache.SetPollDetail(detail); err != nil {
			log.Printf("写入投票 %d 详情缓存失败: %v", pollID, err)
		}
	}

	return detail, nil
}

// ListPolls 查询全部投票
func (s *PollService) ListPolls() ([]*model.Poll, error) {
	return s.repo.ListPolls()
}

// GetResults 查询链上计票
// 开放期间只有允许实时结果的投票可查，关闭后一律可查(最终结果)
func (s *PollService) GetResults(ctx context.Context, pollID int64) (*model.PollResults, error) {
	poll, err := s.repo.GetPoll(pollID)
	if err != nil {
		return nil, err
	}

	if poll.BlockchainPollID == nil {
		return nil, fmt.Errorf("%w: 投票尚未同步到账本", model.ErrResultsNotAvailable)
	}

	closed := poll.Status == model.PollStatusClosed
	if !closed && !poll.AllowLiveResults {
		return nil, fmt.Errorf("%w: 该投票不允许实时结果", model.ErrResultsNotAvailable)
	}

	if s.cache != nil {
		results, found, err := s.cache.GetPollResults(pollID)
		if err != nil {
			log.Printf("读取投票 %d 结果缓存失败: %v", pollID, err)
		}
		if found && results != nil {
			return results, nil
		}
	}

	counts, err := s.synchronizer.Results(ctx, *poll.BlockchainPollID)
	if err != nil {
		return nil, err
	}

	results := &model.PollResults{
		PollID: pollID,
		Counts: counts,
		Final:  closed,
	}

	if s.cache != nil {
		if err := s.cache.SetPollResults(results); err != nil {
			log.Printf("写入投票 %d 结果缓存失败: %v", pollID, err)
		}
	}

	return results, nil
}

// ProcessPollEvent 处理投票生命周期事件(消费者使用)
// 事件驱动缓存失效，保证多实例间读路径及时看到新状态
func (s *PollService) ProcessPollEvent(event *model.PollEvent) error {
	if s.cache == nil {
		return nil
	}

	switch event.Type {
	case model.EventPollCreated, model.EventPollSynced:
		if err := s.cache.DeletePollDetailCache(event.PollID); err != nil {
			return fmt.Errorf("处理事件 %s 删除详情缓存失败: %w", event.EventID, err)
		}
	case model.EventPollClosed:
		if err := s.cache.DeletePollDetailCache(event.PollID); err != nil {
			return fmt.Errorf("处理事件 %s 删除详情缓存失败: %w", event.EventID, err)
		}
		if err := s.cache.DeletePollResultsCache(event.PollID); err != nil {
			return fmt.Errorf("处理事件 %s 删除结果缓存失败: %w", event.EventID, err)
		}
	case model.EventTokenIssued:
		// 签发不影响读路径缓存
	}

	return nil
}

// publishEvent 发送生命周期事件，发送失败只记录日志
func (s *PollService) publishEvent(eventType string, pollID int64, ledgerPollID *int64, userID int64) {
	if s.producer == nil {
		return
	}

	event := &model.PollEvent{
		EventID:          uuid.NewString(),
		Type:             eventType,
		PollID:           pollID,
		BlockchainPollID: ledgerPollID,
		UserID:           userID,
		OccurredAt:       time.Now(),
	}

	if err := s.producer.SendPollEvent(event); err != nil {
		log.Printf("发送事件 %s 失败: %v", eventType, err)
	}
}
