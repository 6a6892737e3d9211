package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lvdashuaibi/chainvote/config"
	"github.com/lvdashuaibi/chainvote/internal/ledger"
	"github.com/lvdashuaibi/chainvote/internal/lock"
	"github.com/lvdashuaibi/chainvote/internal/model"
)

const (
	PollCloserLockName = "chainvote:poll:closer:lock"
)

// EventPublisher 生命周期事件发布接口，由Kafka生产者实现
type EventPublisher interface {
	SendPollEvent(event *model.PollEvent) error
}

// PollStore 调度器需要的关系库能力
type PollStore interface {
	// GetExpiredOpenPolls 查询已到期但仍开放的投票
	GetExpiredOpenPolls(now time.Time) ([]*model.Poll, error)
}

// Scheduler 投票生命周期调度器
// 固定间隔扫描到期且仍开放的投票并驱动账本关闭，是状态closed的唯一写入方
// 通过分布式锁保证多实例部署时每个周期只有一个实例执行关闭
type Scheduler struct {
	repo         PollStore
	synchronizer *ledger.Synchronizer
	distLock     lock.Lock
	producer     EventPublisher

	interval     time.Duration
	lockTimeout  time.Duration
	closeTimeout time.Duration

	ticker   *time.Ticker
	stopChan chan struct{}
}

func NewScheduler(
	repo PollStore,
	synchronizer *ledger.Synchronizer,
	distLock lock.Lock,
	producer EventPublisher,
) *Scheduler {
	return &Scheduler{
		repo:         repo,
		synchronizer: synchronizer,
		distLock:     distLock,
		producer:     producer,
		interval:     config.AppConfig.Scheduler.Interval,
		lockTimeout:  config.AppConfig.Scheduler.LockTimeout,
		closeTimeout: config.AppConfig.Scheduler.CloseTimeout,
		stopChan:     make(chan struct{}),
	}
}

// Start 启动调度循环
func (s *Scheduler) Start() {
	s.ticker = time.NewTicker(s.interval)

	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.closeExpiredPolls()
			case <-s.stopChan:
				s.ticker.Stop()
				log.Println("投票生命周期调度器已停止")
				return
			}
		}
	}()

	log.Printf("投票生命周期调度器已启动，扫描间隔: %v", s.interval)
}

// Stop 停止调度循环
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// closeExpiredPolls 单个调度周期
// 逐个投票独立处理：某个投票的账本调用失败只记录日志并留到下个周期重试，
// 不会中断本周期内其他投票的关闭
func (s *Scheduler) closeExpiredPolls() {
	acquired, err := s.distLock.AcquireLock(PollCloserLockName, s.lockTimeout)
	if err != nil {
		log.Printf("获取投票关闭锁失败: %v", err)
		return
	}
	if !acquired {
		// 其他实例持有锁，本周期跳过
		return
	}
	defer s.distLock.ReleaseLock(PollCloserLockName)

	polls, err := s.repo.GetExpiredOpenPolls(time.Now())
	if err != nil {
		log.Printf("查询到期投票失败: %v", err)
		return
	}

	for _, poll := range polls {
		ctx, cancel := context.WithTimeout(context.Background(), s.closeTimeout)
		err := s.synchronizer.ClosePoll(ctx, poll)
		cancel()

		if err != nil {
			log.Printf("关闭投票 %d 失败: %v，留待下个周期重试", poll.ID, err)
			continue
		}

		log.Printf("投票 %d 已关闭", poll.ID)

		event := &model.PollEvent{
			EventID:          uuid.NewString(),
			Type:             model.EventPollClosed,
			PollID:           poll.ID,
			BlockchainPollID: poll.BlockchainPollID,
			OccurredAt:       time.Now(),
		}
		if s.producer != nil {
			if err := s.producer.SendPollEvent(event); err != nil {
				log.Printf("发送投票关闭事件失败: %v", err)
			}
		}
	}
}
