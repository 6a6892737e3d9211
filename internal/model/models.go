package model

import (
	"time"
)

// 投票状态
const (
	PollStatusOpen   = "open"
	PollStatusClosed = "closed"
)

// Poll 投票模型
type Poll struct {
	ID               int64      `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	StartTime        time.Time  `json:"startTime"`
	EndTime          time.Time  `json:"endTime"`
	Status           string     `json:"status"`
	IsRestricted     bool       `json:"isRestricted"`
	AllowLiveResults bool       `json:"allowLiveResults"`
	// 账本侧投票ID，账本同步成功前为空
	BlockchainPollID *int64 `json:"blockchainPollId"`
}

// PollOption 投票选项
type PollOption struct {
	ID     int64  `json:"id"`
	PollID int64  `json:"pollId"`
	Label  string `json:"label"`
}

// PollDetail 投票详情(含选项)
type PollDetail struct {
	Poll    Poll         `json:"poll"`
	Options []PollOption `json:"options"`
}

// VotingToken 投票令牌，批量生成后只允许从未签发翻转为已签发
type VotingToken struct {
	ID     int64  `json:"id"`
	PollID int64  `json:"pollId"`
	Token  string `json:"token"`
	Issued bool   `json:"issued"`
}

// IssuanceRecord 签发记录，只记录"某身份领取过令牌"，不记录具体令牌值
type IssuanceRecord struct {
	UserID   int64     `json:"userId"`
	PollID   int64     `json:"pollId"`
	IssuedAt time.Time `json:"issuedAt"`
}

// Identity 请求令牌的身份，由外部认证层提供
type Identity struct {
	UserID int64  `json:"userId"`
	Email  string `json:"email"`
}

// CreatePollRequest 创建投票请求
type CreatePollRequest struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	EndTime          string   `json:"endTime"`
	Options          []string `json:"options"`
	AllowLiveResults bool     `json:"allowLiveResults"`
	IsRestricted     bool     `json:"isRestricted"`
	WhitelistEmails  []string `json:"whitelistEmails"`
}

// CreatePollResult 创建投票结果
// OnLedger为false表示投票已写入数据库但尚未同步到账本，处于可见的不完整状态
type CreatePollResult struct {
	PollID           int64  `json:"pollId"`
	BlockchainPollID *int64 `json:"blockchainPollId"`
	TokenCount       int    `json:"tokenCount"`
	OnLedger         bool   `json:"onLedger"`
	Message          string `json:"message"`
}

// TokenResponse 令牌签发响应，原始令牌只返回一次
type TokenResponse struct {
	Token string `json:"token"`
}

// PollResults 链上投票结果
type PollResults struct {
	PollID int64   `json:"pollId"`
	Counts []int64 `json:"counts"`
	// 投票是否已关闭(关闭后为最终结果)
	Final bool `json:"final"`
}

// Kafka投票生命周期事件类型
const (
	EventPollCreated = "poll.created"
	EventPollSynced  = "poll.synced"
	EventPollClosed  = "poll.closed"
	EventTokenIssued = "token.issued"
)

// PollEvent Kafka投票生命周期事件
// 事件中绝不携带原始令牌值
type PollEvent struct {
	EventID          string    `json:"eventId"`
	Type             string    `json:"type"`
	PollID           int64     `json:"pollId"`
	BlockchainPollID *int64    `json:"blockchainPollId,omitempty"`
	UserID           int64     `json:"userId,omitempty"`
	OccurredAt       time.Time `json:"occurredAt"`
}
