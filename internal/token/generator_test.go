package token

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

// 测试批量生成：数量、两两不同、承诺与令牌逐个对应
func TestGenerateBatch(t *testing.T) {
	generator := NewGenerator(32)

	batch, err := generator.GenerateBatch(7, 100)
	if err != nil {
		t.Fatalf("生成令牌批次失败: %v", err)
	}

	if batch.PollID != 7 {
		t.Errorf("投票ID错误: got %d, want 7", batch.PollID)
	}
	if len(batch.RawTokens) != 100 {
		t.Fatalf("令牌数量错误: got %d, want 100", len(batch.RawTokens))
	}
	if len(batch.Commitments) != 100 {
		t.Fatalf("承诺数量错误: got %d, want 100", len(batch.Commitments))
	}

	seen := make(map[string]struct{})
	for i, raw := range batch.RawTokens {
		if _, ok := seen[raw]; ok {
			t.Fatalf("第 %d 个令牌与此前重复: %s", i, raw)
		}
		seen[raw] = struct{}{}

		// 每个令牌为 secretBytes*2 个十六进制字符
		if len(raw) != 64 {
			t.Errorf("第 %d 个令牌长度错误: got %d, want 64", i, len(raw))
		}

		want := [32]byte(crypto.Keccak256Hash([]byte(raw)))
		if batch.Commitments[i] != want {
			t.Errorf("第 %d 个承诺与令牌不对应", i)
		}
	}
}

// 测试非正数量直接报错
func TestGenerateBatchInvalidCount(t *testing.T) {
	generator := NewGenerator(32)

	for _, count := range []int{0, -1} {
		if _, err := generator.GenerateBatch(1, count); err == nil {
			t.Errorf("数量 %d 应当报错", count)
		}
	}
}

// 测试随机字节数下限：低于下限的配置被提升到128位熵
func TestGeneratorMinSecretBytes(t *testing.T) {
	generator := NewGenerator(4)

	batch, err := generator.GenerateBatch(1, 10)
	if err != nil {
		t.Fatalf("生成令牌批次失败: %v", err)
	}

	for _, raw := range batch.RawTokens {
		if len(raw) < MinSecretBytes*2 {
			t.Fatalf("令牌随机宽度不足: got %d 字符, want 至少 %d", len(raw), MinSecretBytes*2)
		}
	}
}

// 测试承诺计算是纯函数：同一令牌两次计算结果一致
func TestCommitmentDeterministic(t *testing.T) {
	raw := "deadbeefdeadbeefdeadbeefdeadbeef"
	if Commitment(raw) != Commitment(raw) {
		t.Fatal("同一令牌的承诺应当一致")
	}
	if Commitment(raw) == Commitment(raw+"00") {
		t.Fatal("不同令牌的承诺不应相同")
	}
}
