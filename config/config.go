package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Token     TokenConfig     `mapstructure:"token"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	ETCD      ETCDConfig      `mapstructure:"etcd"`
	GraphQL   GraphQLConfig   `mapstructure:"graphql"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Master       string `mapstructure:"master"`
	Slave        string `mapstructure:"slave"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	// 数据缓存Redis
	DataAddress string        `mapstructure:"data_address"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// 投票详情缓存过期时间
	PollCacheTTL time.Duration `mapstructure:"poll_cache_ttl"`
	// 链上实时结果缓存过期时间
	ResultsCacheTTL time.Duration `mapstructure:"results_cache_ttl"`

	// Redlock使用的Redis节点
	LockAddresses []string `mapstructure:"lock_addresses"`
}

type KafkaConfig struct {
	Brokers   []string `mapstructure:"brokers"`
	Topic     string   `mapstructure:"topic"`
	Partition int      `mapstructure:"partition"`
	GroupID   string   `mapstructure:"group_id"`
}

// EthereumConfig 账本(链上投票合约)连接配置
type EthereumConfig struct {
	RPCURL          string `mapstructure:"rpc_url"`
	ContractAddress string `mapstructure:"contract_address"`
	PrivateKey      string `mapstructure:"private_key"`
	ChainID         int64  `mapstructure:"chain_id"`
	// 每笔账本交易(提交+等待上链)的超时时间
	TxTimeout time.Duration `mapstructure:"tx_timeout"`
	// 只读调用的超时时间
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// TokenConfig 投票令牌配置
type TokenConfig struct {
	// 每个投票生成的令牌数量
	BatchSize int `mapstructure:"batch_size"`
	// 每个令牌的随机字节数，最少16字节(128位熵)
	SecretBytes int `mapstructure:"secret_bytes"`
}

// SchedulerConfig 投票生命周期调度器配置
type SchedulerConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout"`
	LockRetryCount int           `mapstructure:"lock_retry_count"`
	// 单个投票关闭操作的超时时间
	CloseTimeout time.Duration `mapstructure:"close_timeout"`
}

type ETCDConfig struct {
	Endpoints      []string      `mapstructure:"endpoints"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
}

type GraphQLConfig struct {
	Path string `mapstructure:"path"`
}

var AppConfig Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	applyDefaults(&AppConfig)

	return &AppConfig, nil
}

// applyDefaults 填充关键配置的默认值
func applyDefaults(cfg *Config) {
	if cfg.Token.BatchSize <= 0 {
		cfg.Token.BatchSize = 100
	}
	if cfg.Token.SecretBytes < 16 {
		cfg.Token.SecretBytes = 16
	}
	if cfg.Scheduler.Interval <= 0 {
		cfg.Scheduler.Interval = 10 * time.Second
	}
	if cfg.Scheduler.CloseTimeout <= 0 {
		cfg.Scheduler.CloseTimeout = 30 * time.Second
	}
	if cfg.Ethereum.TxTimeout <= 0 {
		cfg.Ethereum.TxTimeout = 60 * time.Second
	}
	if cfg.Ethereum.CallTimeout <= 0 {
		cfg.Ethereum.CallTimeout = 10 * time.Second
	}
	if cfg.Redis.PollCacheTTL <= 0 {
		cfg.Redis.PollCacheTTL = 30 * time.Second
	}
	if cfg.Redis.ResultsCacheTTL <= 0 {
		cfg.Redis.ResultsCacheTTL = 5 * time.Second
	}
}
