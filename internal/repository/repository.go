package repository

import (
	"time"

	"github.com/lvdashuaibi/chainvote/internal/model"
)

// Repository 关系库访问接口
// 投票、选项、白名单、原始令牌、签发记录均由关系库独占持有
type Repository interface {
	// CreatePoll 写入投票行，返回自增ID
	CreatePoll(poll *model.Poll) (int64, error)

	// CreatePollOptions 写入投票选项，选项集创建后不可变
	CreatePollOptions(pollID int64, labels []string) error

	// CreateWhitelist 写入受限投票的白名单
	CreateWhitelist(pollID int64, emails []string) error

	// SaveTokenBatch 批量持久化原始令牌(承诺值不落库)
	SaveTokenBatch(pollID int64, rawTokens []string) error

	// GetPoll 查询单个投票
	GetPoll(pollID int64) (*model.Poll, error)

	// GetPollOptions 查询投票选项
	GetPollOptions(pollID int64) ([]model.PollOption, error)

	// ListPolls 查询全部投票，按结束时间倒序
	ListPolls() ([]*model.Poll, error)

	// IsWhitelisted 判断邮箱是否在投票白名单中
	IsWhitelisted(pollID int64, email string) (bool, error)

	// IssueToken 原子签发：校验签发记录、随机认领一个未签发令牌并标记、落签发记录
	// 同一投票的并发请求绝不会拿到同一个令牌
	IssueToken(pollID int64, userID int64) (string, error)

	// SetBlockchainPollID 回写账本侧投票ID，至多设置一次
	SetBlockchainPollID(pollID int64, blockchainPollID int64) error

	// MarkPollClosed 将投票状态翻转为closed，只允许调度器调用
	MarkPollClosed(pollID int64) error

	// GetExpiredOpenPolls 查询已到期但仍开放的投票
	GetExpiredOpenPolls(now time.Time) ([]*model.Poll, error)

	// Close 关闭底层连接
	Close()
}
