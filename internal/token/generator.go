package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// MinSecretBytes 令牌最少随机字节数(128位熵)
	MinSecretBytes = 16
)

// Batch 一批令牌的生成结果，两个切片按下标一一对应
// RawTokens 用于写入数据库，Commitments 用于提交账本，承诺值不落库
type Batch struct {
	PollID      int64
	RawTokens   []string
	Commitments [][32]byte
}

// Generator 为投票批量生成不可关联的一次性令牌及其单向承诺
type Generator struct {
	secretBytes int
}

func NewGenerator(secretBytes int) *Generator {
	if secretBytes < MinSecretBytes {
		secretBytes = MinSecretBytes
	}
	return &Generator{secretBytes: secretBytes}
}

// GenerateBatch 生成count个令牌
// 随机源失败视为致命错误直接返回，绝不降级为弱随机
func (g *Generator) GenerateBatch(pollID int64, count int) (*Batch, error) {
	if count <= 0 {
		return nil, fmt.Errorf("令牌数量必须为正数: %d", count)
	}

	batch := &Batch{
		PollID:      pollID,
		RawTokens:   make([]string, 0, count),
		Commitments: make([][32]byte, 0, count),
	}

	// 同批次内去重，随机宽度下碰撞概率可忽略，但出现即重新生成
	seen := make(map[string]struct{}, count)

	for len(batch.RawTokens) < count {
		buf := make([]byte, g.secretBytes)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("读取随机源失败: %w", err)
		}

		raw := hex.EncodeToString(buf)
		if _, ok := seen[raw]; ok {
			continue
		}
		seen[raw] = struct{}{}

		batch.RawTokens = append(batch.RawTokens, raw)
		batch.Commitments = append(batch.Commitments, Commitment(raw))
	}

	return batch, nil
}

// Commitment 计算令牌的单向承诺
// 必须与账本合约在共识时验证所用的哈希完全一致(keccak256)，不可更换
func Commitment(rawToken string) [32]byte {
	return [32]byte(crypto.Keccak256Hash([]byte(rawToken)))
}
