package access

import (
	"fmt"
	"strings"
	"time"

	"github.com/lvdashuaibi/chainvote/internal/model"
)

// WhitelistChecker 策略评估需要的白名单查询能力
type WhitelistChecker interface {
	IsWhitelisted(pollID int64, email string) (bool, error)
}

// Policy 访问策略评估器
// 决定某个身份是否有资格为某个投票申请令牌(公开投票/受限白名单投票)
type Policy struct {
	repo WhitelistChecker
}

func NewPolicy(repo WhitelistChecker) *Policy {
	return &Policy{repo: repo}
}

// CanRequestToken 评估身份是否可以申请令牌
// 必须在签发时即时评估，不允许沿用查看详情时的结论(投票可能在两次请求之间关闭)
func (p *Policy) CanRequestToken(poll *model.Poll, identity model.Identity, now time.Time) error {
	// 生命周期门槛：到期或已关闭的投票不再签发
	if poll.Status != model.PollStatusOpen || !now.Before(poll.EndTime) {
		return model.ErrPollNotOpen
	}

	// 公开投票无条件放行，一人一令牌的约束在签发事务中执行
	if !poll.IsRestricted {
		return nil
	}

	whitelisted, err := p.repo.IsWhitelisted(poll.ID, NormalizeEmail(identity.Email))
	if err != nil {
		return fmt.Errorf("查询白名单失败: %w", err)
	}
	if !whitelisted {
		return model.ErrNotWhitelisted
	}

	return nil
}

// NormalizeEmail 邮箱归一化，写入白名单和查询白名单都必须走这里
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
