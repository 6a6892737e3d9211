package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lvdashuaibi/chainvote/internal/access"
	"github.com/lvdashuaibi/chainvote/internal/ledger"
	"github.com/lvdashuaibi/chainvote/internal/model"
	"github.com/lvdashuaibi/chainvote/internal/testutil"
	"github.com/lvdashuaibi/chainvote/internal/token"
)

type testEnv struct {
	service   *PollService
	repo      *testutil.FakeRepository
	ledger    *testutil.FakeLedger
	cache     *testutil.FakeCache
	publisher *testutil.FakePublisher
}

func newTestEnv(tokenBatchSize int) *testEnv {
	repo := testutil.NewFakeRepository()
	fakeLedger := testutil.NewFakeLedger()
	cache := testutil.NewFakeCache()
	publisher := testutil.NewFakePublisher()

	svc := NewPollService(
		repo,
		cache,
		token.NewGenerator(32),
		access.NewPolicy(repo),
		ledger.NewSynchronizer(fakeLedger, repo),
		publisher,
		tokenBatchSize,
	)

	return &testEnv{
		service:   svc,
		repo:      repo,
		ledger:    fakeLedger,
		cache:     cache,
		publisher: publisher,
	}
}

func validRequest() *model.CreatePollRequest {
	return &model.CreatePollRequest{
		Title:   "晚饭吃什么",
		EndTime: time.Now().Add(time.Hour).Format(time.RFC3339),
		Options: []string{"火锅", "烧烤"},
	}
}

func (e *testEnv) mustCreatePoll(t *testing.T, req *model.CreatePollRequest) *model.CreatePollResult {
	t.Helper()
	result, err := e.service.CreatePoll(context.Background(), req)
	if err != nil {
		t.Fatalf("创建投票失败: %v", err)
	}
	if !result.OnLedger {
		t.Fatalf("创建结果应为已上链: %+v", result)
	}
	return result
}

// 校验失败的请求不应触及任何持久化
func TestCreatePollValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*model.CreatePollRequest)
	}{
		{"空标题", func(r *model.CreatePollRequest) { r.Title = "   " }},
		{"结束时间格式错误", func(r *model.CreatePollRequest) { r.EndTime = "2026-13-99" }},
		{"结束时间早于当前", func(r *model.CreatePollRequest) {
			r.EndTime = time.Now().Add(-time.Hour).Format(time.RFC3339)
		}},
		{"选项不足", func(r *model.CreatePollRequest) { r.Options = []string{"唯一选项"} }},
		{"选项重复", func(r *model.CreatePollRequest) { r.Options = []string{"Yes", "yes"} }},
		{"空白选项被忽略后不足", func(r *model.CreatePollRequest) { r.Options = []string{"A", "  "} }},
		{"受限投票白名单为空", func(r *model.CreatePollRequest) {
			r.IsRestricted = true
			r.WhitelistEmails = []string{"   "}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(10)
			req := validRequest()
			tc.mutate(req)

			result, err := env.service.CreatePoll(context.Background(), req)
			if !errors.Is(err, model.ErrValidation) {
				t.Fatalf("应返回校验错误: result=%+v err=%v", result, err)
			}

			polls, _ := env.repo.ListPolls()
			if len(polls) != 0 {
				t.Errorf("校验失败后不应有投票入库: %d", len(polls))
			}
			if len(env.ledger.Polls) != 0 {
				t.Errorf("校验失败后不应触及账本")
			}
		})
	}
}

// 完整创建流水线：投票行、选项、令牌、账本创建、承诺提交、账本ID回写、事件
func TestCreatePollFullPipeline(t *testing.T) {
	env := newTestEnv(20)

	req := validRequest()
	req.IsRestricted = true
	req.WhitelistEmails = []string{"A@X.com", "a@x.com", "b@x.com"}

	result := env.mustCreatePoll(t, req)

	if result.TokenCount != 20 {
		t.Errorf("令牌数量错误: got %d, want 20", result.TokenCount)
	}
	if result.BlockchainPollID == nil || *result.BlockchainPollID != 0 {
		t.Fatalf("首个账本投票ID应为0: %+v", result.BlockchainPollID)
	}

	// 账本ID回写到关系库
	poll, err := env.repo.GetPoll(result.PollID)
	if err != nil {
		t.Fatalf("查询投票失败: %v", err)
	}
	if poll.BlockchainPollID == nil || *poll.BlockchainPollID != 0 {
		t.Errorf("账本投票ID未回写: %+v", poll.BlockchainPollID)
	}

	// 白名单按归一化去重后写入
	for email, want := range map[string]bool{"a@x.com": true, "b@x.com": true, "c@x.com": false} {
		got, _ := env.repo.IsWhitelisted(result.PollID, email)
		if got != want {
			t.Errorf("白名单 %s: got %v, want %v", email, got, want)
		}
	}

	// 账本上的承诺与库中令牌逐个对应
	ledgerPoll := env.ledger.Polls[0]
	if ledgerPoll.OptionCount != 2 {
		t.Errorf("账本选项数错误: %d", ledgerPoll.OptionCount)
	}
	rawTokens := env.repo.TokensFor(result.PollID)
	if len(ledgerPoll.Commitments) != len(rawTokens) {
		t.Fatalf("承诺数量与令牌数量不一致: %d vs %d", len(ledgerPoll.Commitments), len(rawTokens))
	}
	onLedger := make(map[[32]byte]struct{})
	for _, c := range ledgerPoll.Commitments {
		onLedger[c] = struct{}{}
	}
	for _, raw := range rawTokens {
		if _, ok := onLedger[token.Commitment(raw)]; !ok {
			t.Fatalf("令牌 %s 的承诺未提交账本", raw)
		}
	}

	// 事件序列：created → synced，且事件不携带原始令牌
	events := env.publisher.Events()
	if len(events) != 2 || events[0].Type != model.EventPollCreated || events[1].Type != model.EventPollSynced {
		t.Fatalf("事件序列错误: %+v", events)
	}
	if events[1].BlockchainPollID == nil {
		t.Errorf("同步事件应携带账本投票ID")
	}
}

// 账本创建失败：投票以"已入库未上链"状态留在库中，请求本身不报错
func TestCreatePollLedgerCreateFailure(t *testing.T) {
	env := newTestEnv(10)
	env.ledger.FailCreate = true

	result, err := env.service.CreatePoll(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("账本失败不应作为请求错误返回: %v", err)
	}
	if result.OnLedger {
		t.Fatal("结果应标记为未上链")
	}
	if result.TokenCount != 10 {
		t.Errorf("令牌应已落库: %d", result.TokenCount)
	}

	poll, err := env.repo.GetPoll(result.PollID)
	if err != nil {
		t.Fatalf("投票行应已入库: %v", err)
	}
	if poll.BlockchainPollID != nil {
		t.Errorf("账本投票ID不应被设置")
	}
}

// 承诺提交失败：账本ID不回写，保持未上链状态
func TestCreatePollAddTokensFailure(t *testing.T) {
	env := newTestEnv(10)
	env.ledger.FailAddTokens = true

	result, err := env.service.CreatePoll(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("账本失败不应作为请求错误返回: %v", err)
	}
	if result.OnLedger {
		t.Fatal("结果应标记为未上链")
	}

	poll, _ := env.repo.GetPoll(result.PollID)
	if poll.BlockchainPollID != nil {
		t.Errorf("承诺提交失败后不应回写账本投票ID")
	}
}

// 令牌落库失败：返回已创建的投票ID和错误
func TestCreatePollStoreFailure(t *testing.T) {
	env := newTestEnv(10)
	env.repo.FailSaveTokens = true

	result, err := env.service.CreatePoll(context.Background(), validRequest())
	if err == nil {
		t.Fatal("存储失败应返回错误")
	}
	if result == nil || result.PollID == 0 {
		t.Fatalf("应同时返回已创建的投票ID: %+v", result)
	}
	if result.OnLedger {
		t.Error("结果应标记为未上链")
	}
}

// 签发成功：返回的令牌来自该投票的批次
func TestRequestToken(t *testing.T) {
	env := newTestEnv(10)
	result := env.mustCreatePoll(t, validRequest())

	resp, err := env.service.RequestToken(result.PollID, model.Identity{UserID: 1, Email: "a@x.com"})
	if err != nil {
		t.Fatalf("签发失败: %v", err)
	}

	found := false
	for _, raw := range env.repo.TokensFor(result.PollID) {
		if raw == resp.Token {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("返回的令牌不在批次中: %s", resp.Token)
	}

	if env.repo.IssuedCount(result.PollID) != 1 {
		t.Errorf("应恰好签发1个令牌")
	}

	// token.issued事件不携带令牌值(事件结构中没有令牌字段，这里校验身份字段)
	events := env.publisher.Events()
	last := events[len(events)-1]
	if last.Type != model.EventTokenIssued || last.UserID != 1 {
		t.Errorf("签发事件错误: %+v", last)
	}
}

// 同一身份重复申请：第二次返回已领取错误
func TestRequestTokenAlreadyIssued(t *testing.T) {
	env := newTestEnv(10)
	result := env.mustCreatePoll(t, validRequest())
	identity := model.Identity{UserID: 1, Email: "a@x.com"}

	if _, err := env.service.RequestToken(result.PollID, identity); err != nil {
		t.Fatalf("首次签发失败: %v", err)
	}
	if _, err := env.service.RequestToken(result.PollID, identity); !errors.Is(err, model.ErrAlreadyIssued) {
		t.Fatalf("重复申请应返回ErrAlreadyIssued: %v", err)
	}
	if env.repo.IssuedCount(result.PollID) != 1 {
		t.Errorf("重复申请不应额外消耗令牌")
	}
}

// K个令牌签发给K个身份后耗尽，且K个令牌两两不同
func TestRequestTokenExhausted(t *testing.T) {
	const batchSize = 5
	env := newTestEnv(batchSize)
	result := env.mustCreatePoll(t, validRequest())

	issued := make(map[string]struct{})
	for i := 0; i < batchSize; i++ {
		identity := model.Identity{UserID: int64(i + 1), Email: fmt.Sprintf("u%d@x.com", i+1)}
		resp, err := env.service.RequestToken(result.PollID, identity)
		if err != nil {
			t.Fatalf("第 %d 次签发失败: %v", i+1, err)
		}
		if _, ok := issued[resp.Token]; ok {
			t.Fatalf("令牌被重复签发: %s", resp.Token)
		}
		issued[resp.Token] = struct{}{}
	}

	_, err := env.service.RequestToken(result.PollID, model.Identity{UserID: 99, Email: "late@x.com"})
	if !errors.Is(err, model.ErrTokenExhausted) {
		t.Fatalf("耗尽后应返回ErrTokenExhausted: %v", err)
	}
}

// 同一身份并发申请：恰好一次成功
func TestRequestTokenConcurrentSameIdentity(t *testing.T) {
	env := newTestEnv(50)
	result := env.mustCreatePoll(t, validRequest())
	identity := model.Identity{UserID: 1, Email: "a@x.com"}

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	success := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.service.RequestToken(result.PollID, identity); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Fatalf("并发申请应恰好成功1次: got %d", success)
	}
	if env.repo.IssuedCount(result.PollID) != 1 {
		t.Errorf("应恰好消耗1个令牌")
	}
}

// 受限投票：白名单外身份拿不到令牌
func TestRequestTokenRestricted(t *testing.T) {
	env := newTestEnv(10)
	req := validRequest()
	req.IsRestricted = true
	req.WhitelistEmails = []string{"a@x.com"}
	result := env.mustCreatePoll(t, req)

	if _, err := env.service.RequestToken(result.PollID, model.Identity{UserID: 2, Email: "b@x.com"}); !errors.Is(err, model.ErrNotWhitelisted) {
		t.Fatalf("白名单外身份应被拒绝: %v", err)
	}
	if _, err := env.service.RequestToken(result.PollID, model.Identity{UserID: 1, Email: "A@X.com"}); err != nil {
		t.Fatalf("白名单内身份应放行: %v", err)
	}
}

func TestRequestTokenPollNotFound(t *testing.T) {
	env := newTestEnv(10)
	if _, err := env.service.RequestToken(404, model.Identity{UserID: 1, Email: "a@x.com"}); !errors.Is(err, model.ErrPollNotFound) {
		t.Fatalf("应返回ErrPollNotFound: %v", err)
	}
}

// 结果查询门槛：未上链/开放期间未允许实时结果都不可查
func TestGetResultsGating(t *testing.T) {
	ctx := context.Background()

	t.Run("未上链", func(t *testing.T) {
		env := newTestEnv(10)
		env.ledger.FailCreate = true
		result, _ := env.service.CreatePoll(ctx, validRequest())

		if _, err := env.service.GetResults(ctx, result.PollID); !errors.Is(err, model.ErrResultsNotAvailable) {
			t.Fatalf("未上链投票应不可查: %v", err)
		}
	})

	t.Run("开放期间未允许实时结果", func(t *testing.T) {
		env := newTestEnv(10)
		result := env.mustCreatePoll(t, validRequest())

		if _, err := env.service.GetResults(ctx, result.PollID); !errors.Is(err, model.ErrResultsNotAvailable) {
			t.Fatalf("未允许实时结果的开放投票应不可查: %v", err)
		}
	})

	t.Run("开放期间允许实时结果", func(t *testing.T) {
		env := newTestEnv(10)
		req := validRequest()
		req.AllowLiveResults = true
		result := env.mustCreatePoll(t, req)
		env.ledger.Polls[0].Results = []int64{3, 2}

		results, err := env.service.GetResults(ctx, result.PollID)
		if err != nil {
			t.Fatalf("允许实时结果的开放投票应可查: %v", err)
		}
		if results.Final {
			t.Error("开放期间的结果不应标记为最终")
		}
		if len(results.Counts) != 2 || results.Counts[0] != 3 || results.Counts[1] != 2 {
			t.Errorf("计票错误: %v", results.Counts)
		}
	})

	t.Run("关闭后一律可查", func(t *testing.T) {
		env := newTestEnv(10)
		result := env.mustCreatePoll(t, validRequest())
		env.ledger.Polls[0].Results = []int64{1, 4}
		if err := env.repo.MarkPollClosed(result.PollID); err != nil {
			t.Fatalf("关闭投票失败: %v", err)
		}

		results, err := env.service.GetResults(ctx, result.PollID)
		if err != nil {
			t.Fatalf("已关闭投票应可查: %v", err)
		}
		if !results.Final {
			t.Error("已关闭投票的结果应标记为最终")
		}
	})
}

// 端到端：创建"Yes/No"投票，5个身份各领一个令牌，账本计票3:2
func TestEndToEndYesNo(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(5)

	req := &model.CreatePollRequest{
		Title:            "是否通过提案",
		EndTime:          time.Now().Add(time.Hour).Format(time.RFC3339),
		Options:          []string{"Yes", "No"},
		AllowLiveResults: true,
	}
	result := env.mustCreatePoll(t, req)

	for i := 1; i <= 5; i++ {
		identity := model.Identity{UserID: int64(i), Email: fmt.Sprintf("voter%d@x.com", i)}
		if _, err := env.service.RequestToken(result.PollID, identity); err != nil {
			t.Fatalf("身份 %d 签发失败: %v", i, err)
		}
	}
	if env.repo.IssuedCount(result.PollID) != 5 {
		t.Fatalf("应签发5个令牌")
	}

	// 投票行为发生在账本侧，这里直接写入计票
	env.ledger.Polls[0].Results = []int64{3, 2}

	results, err := env.service.GetResults(ctx, result.PollID)
	if err != nil {
		t.Fatalf("查询结果失败: %v", err)
	}
	if results.Counts[0]+results.Counts[1] != 5 {
		t.Errorf("总票数错误: %v", results.Counts)
	}
}

// 详情读路径：首次回源并写缓存，二次命中缓存
func TestGetPollDetailCacheAside(t *testing.T) {
	env := newTestEnv(10)
	result := env.mustCreatePoll(t, validRequest())

	detail, err := env.service.GetPollDetail(result.PollID)
	if err != nil {
		t.Fatalf("查询详情失败: %v", err)
	}
	if len(detail.Options) != 2 {
		t.Fatalf("选项数量错误: %d", len(detail.Options))
	}

	cached, found, _ := env.cache.GetPollDetail(result.PollID)
	if !found || cached == nil {
		t.Fatal("详情应已写入缓存")
	}

	again, err := env.service.GetPollDetail(result.PollID)
	if err != nil {
		t.Fatalf("二次查询失败: %v", err)
	}
	if again != cached {
		t.Error("二次查询应命中缓存")
	}
}

// 事件驱动缓存失效
func TestProcessPollEvent(t *testing.T) {
	env := newTestEnv(10)
	result := env.mustCreatePoll(t, validRequest())

	if _, err := env.service.GetPollDetail(result.PollID); err != nil {
		t.Fatalf("预热缓存失败: %v", err)
	}

	event := &model.PollEvent{
		EventID: "evt-1",
		Type:    model.EventPollClosed,
		PollID:  result.PollID,
	}
	if err := env.service.ProcessPollEvent(event); err != nil {
		t.Fatalf("处理事件失败: %v", err)
	}

	if _, found, _ := env.cache.GetPollDetail(result.PollID); found {
		t.Error("关闭事件后详情缓存应被删除")
	}
	if env.cache.ResultsDeletes == 0 {
		t.Error("关闭事件后结果缓存应被删除")
	}
}
