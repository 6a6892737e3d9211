// Package testutil 提供测试用的内存实现
package testutil

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/lvdashuaibi/chainvote/internal/ledger"
	"github.com/lvdashuaibi/chainvote/internal/lock"
	"github.com/lvdashuaibi/chainvote/internal/model"
	"github.com/lvdashuaibi/chainvote/internal/repository"
)

// FakeRepository 内存版关系库
// 签发序列在互斥锁内原子完成，与MySQL实现的事务语义一致
type FakeRepository struct {
	mu         sync.Mutex
	polls      map[int64]*model.Poll
	options    map[int64][]model.PollOption
	whitelist  map[int64]map[string]struct{}
	tokens     map[int64][]*model.VotingToken
	issuances  map[string]*model.IssuanceRecord
	nextPollID int64
	nextRowID  int64

	// 注入的存储故障
	FailSaveTokens    bool
	FailCreateOptions bool
}

var _ repository.Repository = (*FakeRepository)(nil)

func NewFakeRepository() *FakeRepository {
	return &FakeRepository{
		polls:     make(map[int64]*model.Poll),
		options:   make(map[int64][]model.PollOption),
		whitelist: make(map[int64]map[string]struct{}),
		tokens:    make(map[int64][]*model.VotingToken),
		issuances: make(map[string]*model.IssuanceRecord),
	}
}

func issuanceKey(userID, pollID int64) string {
	return fmt.Sprintf("%d:%d", userID, pollID)
}

func (f *FakeRepository) CreatePoll(poll *model.Poll) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextPollID++
	stored := *poll
	stored.ID = f.nextPollID
	f.polls[stored.ID] = &stored
	return stored.ID, nil
}

func (f *FakeRepository) CreatePollOptions(pollID int64, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailCreateOptions {
		return fmt.Errorf("写入选项失败: 注入的故障")
	}

	for _, label := range labels {
		f.nextRowID++
		f.options[pollID] = append(f.options[pollID], model.PollOption{
			ID:     f.nextRowID,
			PollID: pollID,
			Label:  label,
		})
	}
	return nil
}

func (f *FakeRepository) CreateWhitelist(pollID int64, emails []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, ok := f.whitelist[pollID]
	if !ok {
		entries = make(map[string]struct{})
		f.whitelist[pollID] = entries
	}
	for _, email := range emails {
		entries[email] = struct{}{}
	}
	return nil
}

func (f *FakeRepository) SaveTokenBatch(pollID int64, rawTokens []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailSaveTokens {
		return fmt.Errorf("持久化令牌失败: 注入的故障")
	}

	for _, raw := range rawTokens {
		f.nextRowID++
		f.tokens[pollID] = append(f.tokens[pollID], &model.VotingToken{
			ID:     f.nextRowID,
			PollID: pollID,
			Token:  raw,
			Issued: false,
		})
	}
	return nil
}

func (f *FakeRepository) GetPoll(pollID int64) (*model.Poll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	poll, ok := f.polls[pollID]
	if !ok {
		return nil, model.ErrPollNotFound
	}
	copied := *poll
	return &copied, nil
}

func (f *FakeRepository) GetPollOptions(pollID int64) ([]model.PollOption, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]model.PollOption(nil), f.options[pollID]...), nil
}

func (f *FakeRepository) ListPolls() ([]*model.Poll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var polls []*model.Poll
	for _, poll := range f.polls {
		copied := *poll
		polls = append(polls, &copied)
	}
	return polls, nil
}

func (f *FakeRepository) IsWhitelisted(pollID int64, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, ok := f.whitelist[pollID]
	if !ok {
		return false, nil
	}
	_, ok = entries[email]
	return ok, nil
}

func (f *FakeRepository) IssueToken(pollID int64, userID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.issuances[issuanceKey(userID, pollID)]; ok {
		return "", model.ErrAlreadyIssued
	}

	var candidates []*model.VotingToken
	for _, t := range f.tokens[pollID] {
		if !t.Issued {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return "", model.ErrTokenExhausted
	}

	chosen := candidates[rand.Intn(len(candidates))]
	chosen.Issued = true

	f.issuances[issuanceKey(userID, pollID)] = &model.IssuanceRecord{
		UserID:   userID,
		PollID:   pollID,
		IssuedAt: time.Now(),
	}

	return chosen.Token, nil
}

func (f *FakeRepository) SetBlockchainPollID(pollID int64, blockchainPollID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	poll, ok := f.polls[pollID]
	if !ok {
		return fmt.Errorf("投票 %d 不存在", pollID)
	}
	if poll.BlockchainPollID != nil {
		return fmt.Errorf("投票 %d 账本投票ID已设置", pollID)
	}
	poll.BlockchainPollID = &blockchainPollID
	return nil
}

func (f *FakeRepository) MarkPollClosed(pollID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	poll, ok := f.polls[pollID]
	if !ok || poll.Status != model.PollStatusOpen {
		return fmt.Errorf("投票 %d 不存在或已关闭", pollID)
	}
	poll.Status = model.PollStatusClosed
	return nil
}

func (f *FakeRepository) GetExpiredOpenPolls(now time.Time) ([]*model.Poll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var polls []*model.Poll
	for _, poll := range f.polls {
		if poll.Status == model.PollStatusOpen && !poll.EndTime.After(now) {
			copied := *poll
			polls = append(polls, &copied)
		}
	}
	return polls, nil
}

func (f *FakeRepository) Close() {}

// TokensFor 返回某投票已持久化的全部原始令牌
func (f *FakeRepository) TokensFor(pollID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var tokens []string
	for _, t := range f.tokens[pollID] {
		tokens = append(tokens, t.Token)
	}
	return tokens
}

// IssuedCount 返回某投票已签发的令牌数量
func (f *FakeRepository) IssuedCount(pollID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, t := range f.tokens[pollID] {
		if t.Issued {
			count++
		}
	}
	return count
}

// LedgerPoll 账本侧投票状态
type LedgerPoll struct {
	AllowLiveResults bool
	OptionCount      int
	Commitments      [][32]byte
	Closed           bool
	Results          []int64
}

// FakeLedger 内存版账本
type FakeLedger struct {
	mu    sync.Mutex
	Polls []*LedgerPoll

	FailCreate    bool
	FailAddTokens bool
	FailClose     bool
	CloseCalls    int
}

var _ ledger.Ledger = (*FakeLedger)(nil)

func NewFakeLedger() *FakeLedger {
	return &FakeLedger{}
}

func (f *FakeLedger) CreatePoll(ctx context.Context, allowLiveResults bool, optionCount int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailCreate {
		return 0, fmt.Errorf("创建账本投票失败: 注入的故障")
	}

	f.Polls = append(f.Polls, &LedgerPoll{
		AllowLiveResults: allowLiveResults,
		OptionCount:      optionCount,
	})
	return int64(len(f.Polls) - 1), nil
}

func (f *FakeLedger) AddValidTokens(ctx context.Context, ledgerPollID int64, commitments [][32]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailAddTokens {
		return fmt.Errorf("提交令牌承诺失败: 注入的故障")
	}
	if ledgerPollID < 0 || ledgerPollID >= int64(len(f.Polls)) {
		return fmt.Errorf("账本投票 %d 不存在", ledgerPollID)
	}

	poll := f.Polls[ledgerPollID]
	poll.Commitments = append(poll.Commitments, commitments...)
	return nil
}

func (f *FakeLedger) ClosePoll(ctx context.Context, ledgerPollID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.CloseCalls++
	if f.FailClose {
		return fmt.Errorf("关闭账本投票失败: 注入的故障")
	}
	if ledgerPollID < 0 || ledgerPollID >= int64(len(f.Polls)) {
		return fmt.Errorf("账本投票 %d 不存在", ledgerPollID)
	}

	f.Polls[ledgerPollID].Closed = true
	return nil
}

func (f *FakeLedger) GetResults(ctx context.Context, ledgerPollID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ledgerPollID < 0 || ledgerPollID >= int64(len(f.Polls)) {
		return nil, fmt.Errorf("账本投票 %d 不存在", ledgerPollID)
	}

	poll := f.Polls[ledgerPollID]
	if poll.Results != nil {
		return append([]int64(nil), poll.Results...), nil
	}
	return make([]int64, poll.OptionCount), nil
}

func (f *FakeLedger) Close() {}

// FakeLock 内存版分布式锁
type FakeLock struct {
	mu           sync.Mutex
	Unavailable  bool
	AcquireCount int
	held         map[string]bool
}

var _ lock.Lock = (*FakeLock)(nil)

func NewFakeLock() *FakeLock {
	return &FakeLock{held: make(map[string]bool)}
}

func (f *FakeLock) AcquireLock(lockName string, timeout time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.AcquireCount++
	if f.Unavailable {
		return false, nil
	}
	f.held[lockName] = true
	return true, nil
}

func (f *FakeLock) RefreshLock(lockName string, timeout time.Duration) (bool, error) {
	return true, nil
}

func (f *FakeLock) ReleaseLock(lockName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.held, lockName)
	return nil
}

func (f *FakeLock) ReleaseAllLocks() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.held = make(map[string]bool)
}

func (f *FakeLock) Close() error {
	return nil
}

// FakePublisher 内存版事件发布器
type FakePublisher struct {
	mu     sync.Mutex
	events []*model.PollEvent
}

func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (f *FakePublisher) SendPollEvent(event *model.PollEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, event)
	return nil
}

// Events 返回已发布事件的快照
func (f *FakePublisher) Events() []*model.PollEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*model.PollEvent(nil), f.events...)
}

// FakeCache 内存版缓存
type FakeCache struct {
	mu             sync.Mutex
	details        map[int64]*model.PollDetail
	results        map[int64]*model.PollResults
	DetailDeletes  int
	ResultsDeletes int
}

func NewFakeCache() *FakeCache {
	return &FakeCache{
		details: make(map[int64]*model.PollDetail),
		results: make(map[int64]*model.PollResults),
	}
}

func (f *FakeCache) GetPollDetail(pollID int64) (*model.PollDetail, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	detail, ok := f.details[pollID]
	return detail, ok, nil
}

func (f *FakeCache) SetPollDetail(detail *model.PollDetail) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.details[detail.Poll.ID] = detail
	return nil
}

func (f *FakeCache) DeletePollDetailCache(pollID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.details, pollID)
	f.DetailDeletes++
	return nil
}

func (f *FakeCache) GetPollResults(pollID int64) (*model.PollResults, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	results, ok := f.results[pollID]
	return results, ok, nil
}

func (f *FakeCache) SetPollResults(results *model.PollResults) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.results[results.PollID] = results
	return nil
}

func (f *FakeCache) DeletePollResultsCache(pollID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.results, pollID)
	f.ResultsDeletes++
	return nil
}
