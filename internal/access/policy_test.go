package access

import (
	"errors"
	"testing"
	"time"

	"github.com/lvdashuaibi/chainvote/internal/model"
)

// 测试用白名单：pollID -> 归一化邮箱集合
type stubWhitelist map[int64]map[string]struct{}

func (s stubWhitelist) IsWhitelisted(pollID int64, email string) (bool, error) {
	entries, ok := s[pollID]
	if !ok {
		return false, nil
	}
	_, ok = entries[email]
	return ok, nil
}

func openPoll(endTime time.Time) *model.Poll {
	return &model.Poll{
		ID:      1,
		Status:  model.PollStatusOpen,
		EndTime: endTime,
	}
}

// 测试公开投票：开放期间任何身份都可申请
func TestCanRequestTokenPublicPoll(t *testing.T) {
	policy := NewPolicy(stubWhitelist{})
	now := time.Now()

	poll := openPoll(now.Add(time.Hour))
	identity := model.Identity{UserID: 42, Email: "anyone@example.com"}

	if err := policy.CanRequestToken(poll, identity, now); err != nil {
		t.Fatalf("公开投票开放期间应当放行: %v", err)
	}
}

// 测试生命周期门槛：已关闭或已到期的投票拒绝签发
func TestCanRequestTokenPollNotOpen(t *testing.T) {
	policy := NewPolicy(stubWhitelist{})
	now := time.Now()
	identity := model.Identity{UserID: 42, Email: "anyone@example.com"}

	closed := openPoll(now.Add(time.Hour))
	closed.Status = model.PollStatusClosed
	if err := policy.CanRequestToken(closed, identity, now); !errors.Is(err, model.ErrPollNotOpen) {
		t.Errorf("已关闭投票应返回ErrPollNotOpen: %v", err)
	}

	// 状态仍为open但结束时间已过：同样拒绝
	expired := openPoll(now.Add(-time.Minute))
	if err := policy.CanRequestToken(expired, identity, now); !errors.Is(err, model.ErrPollNotOpen) {
		t.Errorf("已到期投票应返回ErrPollNotOpen: %v", err)
	}

	// 边界：恰好等于结束时间视为到期
	boundary := openPoll(now)
	if err := policy.CanRequestToken(boundary, identity, now); !errors.Is(err, model.ErrPollNotOpen) {
		t.Errorf("结束时刻应视为到期: %v", err)
	}
}

// 测试受限投票的白名单判定
func TestCanRequestTokenRestrictedPoll(t *testing.T) {
	policy := NewPolicy(stubWhitelist{
		1: {"a@x.com": {}},
	})
	now := time.Now()

	poll := openPoll(now.Add(time.Hour))
	poll.IsRestricted = true

	allowed := model.Identity{UserID: 1, Email: "a@x.com"}
	if err := policy.CanRequestToken(poll, allowed, now); err != nil {
		t.Errorf("白名单内身份应当放行: %v", err)
	}

	denied := model.Identity{UserID: 2, Email: "b@x.com"}
	if err := policy.CanRequestToken(poll, denied, now); !errors.Is(err, model.ErrNotWhitelisted) {
		t.Errorf("白名单外身份应返回ErrNotWhitelisted: %v", err)
	}
}

// 测试邮箱归一化：查询前统一做小写和去空格
func TestCanRequestTokenEmailNormalized(t *testing.T) {
	policy := NewPolicy(stubWhitelist{
		1: {"a@x.com": {}},
	})
	now := time.Now()

	poll := openPoll(now.Add(time.Hour))
	poll.IsRestricted = true

	identity := model.Identity{UserID: 1, Email: "  A@X.COM  "}
	if err := policy.CanRequestToken(poll, identity, now); err != nil {
		t.Fatalf("大小写和空格不应影响白名单判定: %v", err)
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail(" Foo@Bar.COM "); got != "foo@bar.com" {
		t.Errorf("归一化结果错误: %s", got)
	}
}
