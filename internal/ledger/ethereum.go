package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/lvdashuaibi/chainvote/config"
)

// votingABI 投票合约的ABI
// vote由投票者自行调用，服务端不使用，但保留完整合约面
const votingABI = `[
	{"type":"function","name":"createPoll","stateMutability":"nonpayable","inputs":[{"name":"allowLiveResults","type":"bool"},{"name":"optionCount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"addValidTokens","stateMutability":"nonpayable","inputs":[{"name":"pollId","type":"uint256"},{"name":"tokenHashes","type":"bytes32[]"}],"outputs":[]},
	{"type":"function","name":"closePoll","stateMutability":"nonpayable","inputs":[{"name":"pollId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"vote","stateMutability":"nonpayable","inputs":[{"name":"pollId","type":"uint256"},{"name":"token","type":"string"},{"name":"optionIndex","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"getResults","stateMutability":"view","inputs":[{"name":"pollId","type":"uint256"}],"outputs":[{"name":"","type":"uint256[]"}]},
	{"type":"function","name":"pollCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

// EthereumLedger 基于以太坊投票合约的账本实现
// 每个写操作都提交一笔交易并在限时内等待上链确认
type EthereumLedger struct {
	client      *ethclient.Client
	contract    *bind.BoundContract
	auth        *bind.TransactOpts
	txTimeout   time.Duration
	callTimeout time.Duration

	// 串行化交易提交，避免同一签名账户的nonce冲突
	txMu sync.Mutex
}

func NewEthereumLedger() (*EthereumLedger, error) {
	cfg := config.AppConfig.Ethereum

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(votingABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("解析合约ABI失败: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("解析签名私钥失败: %w", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("创建交易签名器失败: %w", err)
	}

	address := common.HexToAddress(cfg.ContractAddress)
	contract := bind.NewBoundContract(address, parsed, client, client, client)

	return &EthereumLedger{
		client:      client,
		contract:    contract,
		auth:        auth,
		txTimeout:   cfg.TxTimeout,
		callTimeout: cfg.CallTimeout,
	}, nil
}

// transact 提交一笔合约交易并等待上链
func (l *EthereumLedger) transact(ctx context.Context, method string, params ...interface{}) error {
	l.txMu.Lock()
	defer l.txMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, l.txTimeout)
	defer cancel()

	opts := *l.auth
	opts.Context = ctx

	tx, err := l.contract.Transact(&opts, method, params...)
	if err != nil {
		return fmt.Errorf("提交%s交易失败: %w", method, err)
	}

	receipt, err := bind.WaitMined(ctx, l.client, tx)
	if err != nil {
		return fmt.Errorf("等待%s交易上链失败: %w", method, err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%s交易执行失败: %s", method, tx.Hash().Hex())
	}

	return nil
}

// CreatePoll 在账本上创建投票
// 账本侧投票ID由创建后的pollCount查询得出(计数-1)
func (l *EthereumLedger) CreatePoll(ctx context.Context, allowLiveResults bool, optionCount int) (int64, error) {
	if err := l.transact(ctx, "createPoll", allowLiveResults, big.NewInt(int64(optionCount))); err != nil {
		return 0, err
	}

	count, err := l.pollCount(ctx)
	if err != nil {
		return 0, err
	}
	if count <= 0 {
		return 0, fmt.Errorf("账本投票计数异常: %d", count)
	}

	return count - 1, nil
}

// AddValidTokens 将整批令牌承诺提交账本
func (l *EthereumLedger) AddValidTokens(ctx context.Context, ledgerPollID int64, commitments [][32]byte) error {
	return l.transact(ctx, "addValidTokens", big.NewInt(ledgerPollID), commitments)
}

// ClosePoll 关闭账本侧投票
func (l *EthereumLedger) ClosePoll(ctx context.Context, ledgerPollID int64) error {
	return l.transact(ctx, "closePoll", big.NewInt(ledgerPollID))
}

// GetResults 读取链上计票
func (l *EthereumLedger) GetResults(ctx context.Context, ledgerPollID int64) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.callTimeout)
	defer cancel()

	var out []interface{}
	err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getResults", big.NewInt(ledgerPollID))
	if err != nil {
		return nil, fmt.Errorf("读取链上计票失败: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("链上计票返回为空")
	}

	raw, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("链上计票返回类型异常: %T", out[0])
	}

	counts := make([]int64, len(raw))
	for i, v := range raw {
		counts[i] = v.Int64()
	}

	return counts, nil
}

// pollCount 查询账本侧投票总数
func (l *EthereumLedger) pollCount(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.callTimeout)
	defer cancel()

	var out []interface{}
	err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "pollCount")
	if err != nil {
		return 0, fmt.Errorf("查询账本投票计数失败: %w", err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("账本投票计数返回为空")
	}

	count, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("账本投票计数返回类型异常: %T", out[0])
	}

	return count.Int64(), nil
}

// Close 关闭账本连接
func (l *EthereumLedger) Close() {
	l.client.Close()
}
