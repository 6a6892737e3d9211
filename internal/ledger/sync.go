package ledger

import (
	"context"
	"fmt"
	"log"

	"github.com/lvdashuaibi/chainvote/internal/model"
)

// Store 同步器需要的关系库能力
type Store interface {
	// SetBlockchainPollID 回写账本侧投票ID，至多设置一次
	SetBlockchainPollID(pollID int64, blockchainPollID int64) error

	// MarkPollClosed 将投票状态翻转为closed
	MarkPollClosed(pollID int64) error
}

// Synchronizer 账本同步器
// 负责把投票创建和令牌承诺推送到账本，并把账本侧投票ID与关闭状态回写到关系库
// 跨库序列是尽力而为的流水线，中间失败会留下可见的不完整状态，不做补偿回滚
type Synchronizer struct {
	ledger Ledger
	store  Store
}

func NewSynchronizer(l Ledger, store Store) *Synchronizer {
	return &Synchronizer{
		ledger: l,
		store:  store,
	}
}

// PublishPoll 在账本上创建投票，返回账本侧投票ID
// 失败时关系库中的投票行与选项仍然存在，调用方必须把"已入库未上链"状态暴露出去
func (s *Synchronizer) PublishPoll(ctx context.Context, poll *model.Poll, optionCount int) (int64, error) {
	ledgerPollID, err := s.ledger.CreatePoll(ctx, poll.AllowLiveResults, optionCount)
	if err != nil {
		return 0, fmt.Errorf("%w: 创建账本投票: %v", model.ErrLedgerFailure, err)
	}
	return ledgerPollID, nil
}

// PublishTokenCommitments 提交整批令牌承诺，只能在PublishPoll成功之后调用
func (s *Synchronizer) PublishTokenCommitments(ctx context.Context, ledgerPollID int64, commitments [][32]byte) error {
	if err := s.ledger.AddValidTokens(ctx, ledgerPollID, commitments); err != nil {
		return fmt.Errorf("%w: 提交令牌承诺: %v", model.ErrLedgerFailure, err)
	}
	return nil
}

// RecordLedgerPollID 把账本侧投票ID回写关系库，至多设置一次
func (s *Synchronizer) RecordLedgerPollID(pollID int64, ledgerPollID int64) error {
	return s.store.SetBlockchainPollID(pollID, ledgerPollID)
}

// ClosePoll 关闭投票：先账本后关系库
// 账本调用失败时关系库状态保持open，由调度器下个周期重试
// 从未上链的到期投票没有账本可关，只做库侧关闭
func (s *Synchronizer) ClosePoll(ctx context.Context, poll *model.Poll) error {
	if poll.BlockchainPollID != nil {
		if err := s.ledger.ClosePoll(ctx, *poll.BlockchainPollID); err != nil {
			return fmt.Errorf("%w: 关闭账本投票: %v", model.ErrLedgerFailure, err)
		}
	} else {
		log.Printf("投票 %d 从未同步到账本，仅在关系库侧关闭", poll.ID)
	}

	if err := s.store.MarkPollClosed(poll.ID); err != nil {
		return err
	}

	return nil
}

// Results 读取链上计票
func (s *Synchronizer) Results(ctx context.Context, ledgerPollID int64) ([]int64, error) {
	counts, err := s.ledger.GetResults(ctx, ledgerPollID)
	if err != nil {
		return nil, fmt.Errorf("%w: 读取计票: %v", model.ErrLedgerFailure, err)
	}
	return counts, nil
}
