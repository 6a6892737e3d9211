package model

import (
	"errors"
	"fmt"
)

// 签发路径的领域错误，API层据此映射为不同的响应状态
var (
	// ErrPollNotFound 投票不存在
	ErrPollNotFound = errors.New("投票不存在")

	// ErrPollNotOpen 投票未处于开放状态
	ErrPollNotOpen = errors.New("投票未开放")

	// ErrNotWhitelisted 身份不在受限投票的白名单中
	ErrNotWhitelisted = errors.New("不在白名单中")

	// ErrAlreadyIssued 该身份已领取过此投票的令牌
	ErrAlreadyIssued = errors.New("已领取过令牌")

	// ErrTokenExhausted 该投票的令牌已全部签发完毕
	ErrTokenExhausted = errors.New("令牌已耗尽")

	// ErrValidation 投票定义校验失败，校验失败的请求不会触及任何持久化
	ErrValidation = errors.New("参数校验失败")

	// ErrLedgerFailure 账本调用失败
	ErrLedgerFailure = errors.New("账本调用失败")

	// ErrResultsNotAvailable 投票开放期间未允许实时结果，或尚未同步到账本
	ErrResultsNotAvailable = errors.New("结果暂不可查")
)

// ValidationError 构造带具体原因的校验错误
func ValidationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
