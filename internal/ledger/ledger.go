package ledger

import (
	"context"
)

// Ledger 外部账本能力接口
// 账本独占持有令牌承诺的花费状态与最终计票，关系库绝不知晓链上花费情况
type Ledger interface {
	// CreatePoll 在账本上创建投票，返回账本侧投票ID
	CreatePoll(ctx context.Context, allowLiveResults bool, optionCount int) (int64, error)

	// AddValidTokens 将整批令牌承诺一次性提交账本
	AddValidTokens(ctx context.Context, ledgerPollID int64, commitments [][32]byte) error

	// ClosePoll 指示账本停止接受该投票的选票
	ClosePoll(ctx context.Context, ledgerPollID int64) error

	// GetResults 读取链上计票(只读)
	GetResults(ctx context.Context, ledgerPollID int64) ([]int64, error)

	// Close 关闭账本连接
	Close()
}
